package http

import (
	"net/http"
	"time"

	"carpool/internal/booking/service"
	"carpool/pkg/logger"
)

// CreateTripRequest represents the HTTP request for publishing a trip
type CreateTripRequest struct {
	Kind          string    `json:"kind"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Description   string    `json:"description,omitempty"`
	PricePerSeat  float64   `json:"price_per_seat"`
	TotalSeats    int       `json:"total_seats"`
	DepartureTime time.Time `json:"departure_time"`
}

// CreateTrip handles POST /trips
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateTripRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	trip, err := h.bookings.CreateTrip(r.Context(), service.CreateTripCommand{
		OwnerID:       ownerID,
		Kind:          req.Kind,
		Origin:        req.Origin,
		Destination:   req.Destination,
		Description:   req.Description,
		PricePerSeat:  req.PricePerSeat,
		TotalSeats:    req.TotalSeats,
		DepartureTime: req.DepartureTime,
	})
	if err != nil {
		h.writeDomainError(w, "create_trip_failed", err, logger.LogFields{"owner_id": ownerID})
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// ListOpenTrips handles GET /trips?page=&page_size=
func (h *Handler) ListOpenTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.bookings.ListOpenTrips(r.Context())
	if err != nil {
		h.writeDomainError(w, "list_trips_failed", err, nil)
		return
	}
	page, pageSize := parsePagination(r)
	writeJSON(w, http.StatusOK, paginate(trips, page, pageSize))
}

// GetTrip handles GET /trips/{trip_id}
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("trip_id")
	trip, err := h.bookings.GetTrip(r.Context(), tripID)
	if err != nil {
		h.writeDomainError(w, "get_trip_failed", err, logger.LogFields{"trip_id": tripID})
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// ListMyTrips handles GET /me/trips
func (h *Handler) ListMyTrips(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	trips, err := h.bookings.ListMyTrips(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, "list_my_trips_failed", err, logger.LogFields{"owner_id": ownerID})
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// CloseTripRequest represents the HTTP request for closing a trip
type CloseTripRequest struct {
	Status string `json:"status,omitempty"`
}

// CloseTrip handles POST /trips/{trip_id}/close
func (h *Handler) CloseTrip(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	tripID := r.PathValue("trip_id")

	var req CloseTripRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	trip, err := h.bookings.CloseTrip(r.Context(), service.CloseTripCommand{
		TripID:  tripID,
		OwnerID: ownerID,
		Status:  req.Status,
	})
	if err != nil {
		h.writeDomainError(w, "close_trip_failed", err, logger.LogFields{"trip_id": tripID, "owner_id": ownerID})
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
