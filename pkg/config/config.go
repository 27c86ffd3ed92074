package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DB struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"db"`
	RabbitMQ struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	Redis struct {
		Enabled bool          `yaml:"enabled"`
		Host    string        `yaml:"host"`
		Port    int           `yaml:"port"`
		DB      int           `yaml:"db"`
		TripTTL time.Duration `yaml:"trip_ttl"`
	} `yaml:"redis"`
	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		DevTokens bool          `yaml:"dev_tokens"`
	} `yaml:"auth"`
	Push struct {
		VAPIDPublicKey  string        `yaml:"vapid_public_key"`
		VAPIDPrivateKey string        `yaml:"vapid_private_key"`
		Subscriber      string        `yaml:"subscriber"`
		TTL             int           `yaml:"ttl"`
		Timeout         time.Duration `yaml:"timeout"`
	} `yaml:"push"`
	Dispatcher struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"dispatcher"`
	RateLimit struct {
		Interval time.Duration `yaml:"interval"`
		Burst    int           `yaml:"burst"`
	} `yaml:"rate_limit"`
	Sweeper struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweeper"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// LoadConfig reads the optional .env file at filename, then the optional YAML
// file named by CONFIG_FILE, then applies environment overrides. A missing
// .env file is not an error.
func LoadConfig(filename string) (*Config, error) {
	if err := loadEnvFile(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	cfg := &Config{}
	cfg.DB.Enabled = true
	cfg.DB.Host = "localhost"
	cfg.DB.Port = 5432
	cfg.DB.User = "carpool_user"
	cfg.DB.Password = "carpool_pass"
	cfg.DB.Database = "carpool_db"
	cfg.RabbitMQ.Enabled = true
	cfg.RabbitMQ.Host = "localhost"
	cfg.RabbitMQ.Port = 5672
	cfg.RabbitMQ.User = "guest"
	cfg.RabbitMQ.Password = "guest"
	cfg.Redis.Enabled = true
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 6379
	cfg.Redis.TripTTL = 30 * time.Second
	cfg.HTTP.Port = 3000
	cfg.Auth.TokenTTL = time.Hour
	cfg.Push.Subscriber = "mailto:admin@example.com"
	cfg.Push.TTL = 60
	cfg.Push.Timeout = 5 * time.Second
	cfg.Dispatcher.Workers = 4
	cfg.Dispatcher.QueueSize = 256
	cfg.RateLimit.Interval = 2 * time.Second
	cfg.RateLimit.Burst = 10
	cfg.Sweeper.Interval = time.Minute
	cfg.Log.Level = "INFO"
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.DB.Enabled = getEnvAsBool("DB_ENABLED", cfg.DB.Enabled)
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnvAsInt("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASS", cfg.DB.Password)
	cfg.DB.Database = getEnv("DB_NAME", cfg.DB.Database)
	cfg.RabbitMQ.Enabled = getEnvAsBool("RABBITMQ_ENABLED", cfg.RabbitMQ.Enabled)
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", cfg.RabbitMQ.Host)
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", cfg.RabbitMQ.Port)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", cfg.RabbitMQ.User)
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", cfg.RabbitMQ.Password)
	cfg.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TripTTL = getEnvAsDuration("REDIS_TRIP_TTL", cfg.Redis.TripTTL)
	cfg.HTTP.Port = getEnvAsInt("HTTP_PORT", cfg.HTTP.Port)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTL = getEnvAsDuration("JWT_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.DevTokens = getEnvAsBool("AUTH_DEV_TOKENS", cfg.Auth.DevTokens)
	cfg.Push.VAPIDPublicKey = getEnv("VAPID_PUBLIC_KEY", cfg.Push.VAPIDPublicKey)
	cfg.Push.VAPIDPrivateKey = getEnv("VAPID_PRIVATE_KEY", cfg.Push.VAPIDPrivateKey)
	cfg.Push.Subscriber = getEnv("VAPID_SUBSCRIBER", cfg.Push.Subscriber)
	cfg.Push.TTL = getEnvAsInt("PUSH_TTL", cfg.Push.TTL)
	cfg.Push.Timeout = getEnvAsDuration("PUSH_TIMEOUT", cfg.Push.Timeout)
	cfg.Dispatcher.Workers = getEnvAsInt("DISPATCHER_WORKERS", cfg.Dispatcher.Workers)
	cfg.Dispatcher.QueueSize = getEnvAsInt("DISPATCHER_QUEUE_SIZE", cfg.Dispatcher.QueueSize)
	cfg.RateLimit.Interval = getEnvAsDuration("RATE_LIMIT_INTERVAL", cfg.RateLimit.Interval)
	cfg.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.Sweeper.Interval = getEnvAsDuration("SWEEPER_INTERVAL", cfg.Sweeper.Interval)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher workers must be positive, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.QueueSize < 1 {
		return fmt.Errorf("dispatcher queue size must be positive, got %d", c.Dispatcher.QueueSize)
	}
	if c.Push.Timeout <= 0 {
		return fmt.Errorf("push timeout must be positive")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper interval must be positive, got %s", c.Sweeper.Interval)
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.Interval <= 0 {
		return fmt.Errorf("rate limit interval must be positive when burst is set, got %s", c.RateLimit.Interval)
	}
	if c.Redis.Enabled && c.Redis.TripTTL <= 0 {
		return fmt.Errorf("redis trip ttl must be positive, got %s", c.Redis.TripTTL)
	}
	return nil
}

// PostgresDSN builds the pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.Database,
	)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// Trim spaces and ignore comments or empty lines
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Real environment wins over the file.
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set env var %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
