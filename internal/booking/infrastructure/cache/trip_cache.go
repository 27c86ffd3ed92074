package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// versionTTL bounds how long an idle trip's invalidation counter lives.
const versionTTL = 24 * time.Hour

// setIfVersion writes the snapshot only while the counter still holds the
// value the reader saw before going to the database. A missing counter reads
// as zero.
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2]) or '0'
if v ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var invalidate = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// RedisTripCache is a read-through cache for trip lookups. Capacity changes
// delete the key after commit and bump the trip's invalidation counter, so a
// reader holding a snapshot from before the change cannot write it back.
// Entries also expire after ttl.
type RedisTripCache struct {
	client redis.Cmdable
	ttl    time.Duration
	log    logger.Logger
}

func NewRedisTripCache(client redis.Cmdable, ttl time.Duration, log logger.Logger) *RedisTripCache {
	return &RedisTripCache{
		client: client,
		ttl:    ttl,
		log:    log.WithFields(logger.LogFields{"component": "trip_cache"}),
	}
}

func tripKey(tripID string) string {
	return fmt.Sprintf("trip:%s", tripID)
}

func versionKey(tripID string) string {
	return fmt.Sprintf("trip:%s:version", tripID)
}

type tripRecord struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	Description    string    `json:"description"`
	PricePerSeat   float64   `json:"price_per_seat"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	Status         string    `json:"status"`
	DepartureTime  time.Time `json:"departure_time"`
	CreatedAt      time.Time `json:"created_at"`
}

func encodeTrip(t *domain.Trip) ([]byte, error) {
	return json.Marshal(tripRecord{
		ID:             t.ID(),
		OwnerID:        t.OwnerID(),
		Kind:           string(t.Kind()),
		Origin:         t.Origin(),
		Destination:    t.Destination(),
		Description:    t.Description(),
		PricePerSeat:   t.PricePerSeat(),
		TotalSeats:     t.TotalSeats(),
		AvailableSeats: t.AvailableSeats(),
		Status:         t.Status().String(),
		DepartureTime:  t.DepartureTime(),
		CreatedAt:      t.CreatedAt(),
	})
}

// Get returns the cached trip. On a miss it returns the trip's invalidation
// version for the following Set; a Redis failure yields version -1, which
// Set never writes.
func (c *RedisTripCache) Get(ctx context.Context, tripID string) (*domain.Trip, int64, bool) {
	log := c.log.WithFields(logger.LogFields{"trip_id": tripID})
	vals, err := c.client.MGet(ctx, tripKey(tripID), versionKey(tripID)).Result()
	if err != nil {
		log.Error("trip_cache_get_failed", err)
		return nil, -1, false
	}
	version, err := parseVersion(vals[1])
	if err != nil {
		log.Error("trip_cache_version_invalid", err)
		return nil, -1, false
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, false
	}

	var r tripRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		log.Error("trip_cache_decode_failed", err)
		return nil, version, false
	}
	return domain.ReconstructTrip(
		r.ID, r.OwnerID, domain.TripKind(r.Kind), r.Origin, r.Destination, r.Description,
		r.PricePerSeat, r.TotalSeats, r.AvailableSeats, domain.TripStatus(r.Status),
		r.DepartureTime, r.CreatedAt,
	), version, true
}

func parseVersion(v interface{}) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected version type %T", v)
	}
}

// Set stores trip unless it was invalidated after Get returned version.
func (c *RedisTripCache) Set(ctx context.Context, trip *domain.Trip, version int64) {
	if version < 0 {
		return
	}
	log := c.log.WithFields(logger.LogFields{"trip_id": trip.ID()})
	raw, err := encodeTrip(trip)
	if err != nil {
		log.Error("trip_cache_encode_failed", err)
		return
	}
	stored, err := setIfVersion.Run(ctx, c.client,
		[]string{tripKey(trip.ID()), versionKey(trip.ID())},
		strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		log.Error("trip_cache_set_failed", err)
		return
	}
	if stored == 0 {
		log.Debug("trip_cache_set_skipped", "Trip changed while it was being read")
	}
}

func (c *RedisTripCache) Invalidate(ctx context.Context, tripID string) {
	err := invalidate.Run(ctx, c.client,
		[]string{tripKey(tripID), versionKey(tripID)},
		versionTTL.Milliseconds(),
	).Err()
	if err != nil {
		c.log.WithFields(logger.LogFields{"trip_id": tripID}).Error("trip_cache_invalidate_failed", err)
	}
}
