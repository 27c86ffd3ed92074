package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"carpool/internal/booking/domain"
	"carpool/internal/booking/service"
	"carpool/internal/notification"
	"carpool/pkg/auth"
	"carpool/pkg/logger"
	"carpool/pkg/metrics"
	"carpool/pkg/ratelimit"
)

// Handler exposes the booking engine and the push registry over HTTP.
type Handler struct {
	bookings   *service.BookingService
	registry   *notification.Registry
	dispatcher *notification.Dispatcher
	jwtManager *auth.JWTManager
	metrics    *metrics.Metrics
	limiter    *ratelimit.Limiter
	live       http.Handler
	devTokens  bool
	logger     logger.Logger
}

type Option func(*Handler)

// WithLiveChannel mounts the websocket endpoint at GET /ws.
func WithLiveChannel(ws http.Handler) Option {
	return func(h *Handler) { h.live = ws }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRateLimiter throttles booking requests and test pushes per caller.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithDevTokens enables POST /auth/token. Never enable it in production.
func WithDevTokens() Option {
	return func(h *Handler) { h.devTokens = true }
}

func NewHandler(
	bookings *service.BookingService,
	registry *notification.Registry,
	dispatcher *notification.Dispatcher,
	jwtManager *auth.JWTManager,
	log logger.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		bookings:   bookings,
		registry:   registry,
		dispatcher: dispatcher,
		jwtManager: jwtManager,
		logger:     log.WithFields(logger.LogFields{"component": "http"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the service mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	public := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.metrics.Middleware(pattern, fn))
	}
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.metrics.Middleware(pattern, h.jwtManager.AuthMiddleware(fn)))
	}

	public("GET /health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	if h.devTokens {
		public("POST /auth/token", h.GenerateTestToken)
	}

	protected("POST /trips", h.CreateTrip)
	public("GET /trips", h.ListOpenTrips)
	public("GET /trips/{trip_id}", h.GetTrip)
	protected("POST /trips/{trip_id}/close", h.CloseTrip)
	protected("GET /me/trips", h.ListMyTrips)

	protected("POST /trips/{trip_id}/bookings", h.RequestBooking)
	protected("GET /trips/{trip_id}/bookings", h.ListTripBookings)
	protected("GET /me/bookings", h.ListMyBookings)
	protected("POST /bookings/{booking_id}/resolve", h.ResolveBooking)
	protected("POST /bookings/{booking_id}/cancel", h.CancelBooking)
	protected("POST /bookings/{booking_id}/withdraw", h.WithdrawBooking)
	protected("GET /bookings/{booking_id}/events", h.BookingHistory)

	protected("POST /push/subscribe", h.Subscribe)
	protected("POST /push/test", h.SendTestPush)

	// The upgrade needs the raw ResponseWriter, so no metrics wrapper here.
	if h.live != nil {
		mux.Handle("GET /ws", h.live)
	}
	return mux
}

// Health returns health check status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps an error class to its HTTP status.
func statusFor(class domain.ErrorClass) int {
	switch class {
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassForbidden:
		return http.StatusForbidden
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, action string, err error, fields logger.LogFields) {
	c := domain.Classify(err)
	status := statusFor(c.Class)

	log := h.logger.WithFields(fields).WithFields(logger.LogFields{"code": c.Code})
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error(action, err)
		message = "internal error"
	} else {
		log.Debug(action, err.Error())
	}

	writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Code:      c.Code,
		Message:   message,
		Retryable: c.Retryable,
	})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    "BAD_REQUEST",
		Message: msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

const maxBodyBytes = 1 << 20

// decodeBody rejects unknown fields, trailing garbage and bodies larger
// than maxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeOptionalBody is decodeBody for endpoints where the body may be
// omitted. Chunked bodies report no length, so emptiness is only known
// after reading.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeBody(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// allow writes 429 once userID runs out of tokens.
func (h *Handler) allow(w http.ResponseWriter, userID string) bool {
	if h.limiter == nil || h.limiter.Allow(userID) {
		return true
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:     http.StatusText(http.StatusTooManyRequests),
		Code:      "RATE_LIMITED",
		Message:   "too many requests, slow down",
		Retryable: true,
	})
	return false
}

// parsePagination reads page and page_size, defaulting to 1 and 20.
func parsePagination(r *http.Request) (page, pageSize int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err = strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func paginate[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// callerID extracts the verified user, writing 401 when there is none.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := auth.CurrentUserID(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:   http.StatusText(http.StatusUnauthorized),
			Code:    "UNAUTHENTICATED",
			Message: "missing verified identity",
		})
		return "", false
	}
	return userID, true
}
