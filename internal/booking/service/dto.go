package service

import (
	"time"

	"carpool/internal/booking/domain"
)

// TripDTO represents the output data transfer object for a trip
type TripDTO struct {
	ID             string  `json:"id"`
	OwnerID        string  `json:"owner_id"`
	Kind           string  `json:"kind"`
	Origin         string  `json:"origin"`
	Destination    string  `json:"destination"`
	Description    string  `json:"description,omitempty"`
	PricePerSeat   float64 `json:"price_per_seat"`
	TotalSeats     int     `json:"total_seats"`
	AvailableSeats int     `json:"available_seats"`
	Status         string  `json:"status"`
	DepartureTime  string  `json:"departure_time"`
	CreatedAt      string  `json:"created_at"`
}

// BookingDTO represents the output data transfer object for a booking
type BookingDTO struct {
	ID             string `json:"id"`
	TripID         string `json:"trip_id"`
	RequesterID    string `json:"requester_id"`
	SeatsRequested int    `json:"seats_requested"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ResolvedAt     string `json:"resolved_at,omitempty"`
}

func toTripDTO(t *domain.Trip) *TripDTO {
	return &TripDTO{
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
		DepartureTime:  t.DepartureTime().Format(time.RFC3339),
		CreatedAt:      t.CreatedAt().Format(time.RFC3339),
	}
}

func toTripDTOs(trips []*domain.Trip) []*TripDTO {
	out := make([]*TripDTO, 0, len(trips))
	for _, t := range trips {
		out = append(out, toTripDTO(t))
	}
	return out
}

func toBookingDTO(b *domain.Booking) *BookingDTO {
	dto := &BookingDTO{
		ID:             b.ID(),
		TripID:         b.TripID(),
		RequesterID:    b.RequesterID(),
		SeatsRequested: b.SeatsRequested(),
		Status:         b.Status().String(),
		CreatedAt:      b.CreatedAt().Format(time.RFC3339),
	}
	if at := b.ResolvedAt(); at != nil {
		dto.ResolvedAt = at.Format(time.RFC3339)
	}
	return dto
}

func toBookingDTOs(bookings []*domain.Booking) []*BookingDTO {
	out := make([]*BookingDTO, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingDTO(b))
	}
	return out
}
