package domain

import (
	"context"
	"time"
)

// TripRepository is the read/insert side of trip persistence.
type TripRepository interface {
	// SaveTrip inserts a new trip.
	SaveTrip(ctx context.Context, trip *Trip) error

	// FindTrip returns ErrTripNotFound when no trip has the id.
	FindTrip(ctx context.Context, tripID string) (*Trip, error)

	// FindOpenTrips lists OPEN trips departing after now, soonest first.
	FindOpenTrips(ctx context.Context, now time.Time) ([]*Trip, error)

	// FindTripsByOwner lists an owner's trips, newest departure first.
	FindTripsByOwner(ctx context.Context, ownerID string) ([]*Trip, error)

	// FindDepartedTripIDs lists non-terminal trips whose departure is at or before now.
	FindDepartedTripIDs(ctx context.Context, now time.Time) ([]string, error)
}

// BookingRepository is the read/insert side of booking persistence.
type BookingRepository interface {
	// CreateBooking inserts a PENDING booking and its recorded events.
	// It returns ErrDuplicateRequest if the requester already holds a
	// PENDING or CONFIRMED booking on the same trip.
	CreateBooking(ctx context.Context, booking *Booking) error

	// FindBooking returns ErrBookingNotFound when no booking has the id.
	FindBooking(ctx context.Context, bookingID string) (*Booking, error)

	FindBookingsByTrip(ctx context.Context, tripID string) ([]*Booking, error)
	FindBookingsByRequester(ctx context.Context, requesterID string) ([]*Booking, error)

	// FindEvents returns the audit trail of a booking in commit order.
	FindEvents(ctx context.Context, bookingID string) ([]BookingEvent, error)
}

// TripTx is a trip held exclusively by one writer. Changes made to the
// returned entities are only persisted for those passed to Update.
type TripTx interface {
	Trip() *Trip
	Booking(ctx context.Context, bookingID string) (*Booking, error)
	// ActiveBookings lists the trip's PENDING and CONFIRMED bookings, oldest first.
	ActiveBookings(ctx context.Context) ([]*Booking, error)
	Update(booking *Booking)
}

// Store is the Capacity Store. InTrip is the single serialization point for
// a trip's capacity: fn runs with the trip locked against every other InTrip
// on the same trip, and the trip plus every updated booking and its events
// commit atomically when fn returns nil. Any error discards all changes.
type Store interface {
	TripRepository
	BookingRepository

	InTrip(ctx context.Context, tripID string, fn func(tx TripTx) error) error
}
