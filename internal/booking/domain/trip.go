package domain

import (
	"fmt"
	"strings"
	"time"
)

// TripStatus represents the lifecycle of a published trip.
type TripStatus string

const (
	TripOpen      TripStatus = "OPEN"
	TripFull      TripStatus = "FULL"
	TripCompleted TripStatus = "COMPLETED"
	TripCancelled TripStatus = "CANCELLED"
)

func (s TripStatus) String() string { return string(s) }

func (s TripStatus) IsValid() bool {
	switch s {
	case TripOpen, TripFull, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the trip can no longer take bookings.
func (s TripStatus) IsTerminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// TripKind says who published the trip.
type TripKind string

const (
	TripDriverOffering   TripKind = "DRIVER_OFFERING"
	TripPassengerSeeking TripKind = "PASSENGER_SEEKING"
)

func (k TripKind) IsValid() bool {
	return k == TripDriverOffering || k == TripPassengerSeeking
}

// Trip is a published journey with a fixed number of seats.
// availableSeats only changes through Reserve and Release.
type Trip struct {
	id             string
	ownerID        string
	kind           TripKind
	origin         string
	destination    string
	description    string
	pricePerSeat   float64
	totalSeats     int
	availableSeats int
	status         TripStatus
	departureTime  time.Time
	createdAt      time.Time
}

// NewTripParams carries the owner-supplied fields of a new trip.
type NewTripParams struct {
	ID            string
	OwnerID       string
	Kind          TripKind
	Origin        string
	Destination   string
	Description   string
	PricePerSeat  float64
	TotalSeats    int
	DepartureTime time.Time
}

// NewTrip validates p and returns an OPEN trip with every seat available.
func NewTrip(p NewTripParams, now time.Time) (*Trip, error) {
	if p.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidTrip)
	}
	if p.TotalSeats < 1 {
		return nil, fmt.Errorf("%w: total seats must be positive", ErrInvalidTrip)
	}
	if p.PricePerSeat < 0 {
		return nil, fmt.Errorf("%w: price per seat cannot be negative", ErrInvalidTrip)
	}
	if !p.DepartureTime.After(now) {
		return nil, fmt.Errorf("%w: departure time must be in the future", ErrInvalidTrip)
	}
	if p.Kind == "" {
		p.Kind = TripDriverOffering
	}
	if !p.Kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrip, p.Kind)
	}

	return &Trip{
		id:             p.ID,
		ownerID:        p.OwnerID,
		kind:           p.Kind,
		origin:         strings.TrimSpace(p.Origin),
		destination:    strings.TrimSpace(p.Destination),
		description:    strings.TrimSpace(p.Description),
		pricePerSeat:   p.PricePerSeat,
		totalSeats:     p.TotalSeats,
		availableSeats: p.TotalSeats,
		status:         TripOpen,
		departureTime:  p.DepartureTime.UTC(),
		createdAt:      now.UTC(),
	}, nil
}

// ReconstructTrip rebuilds a trip from persistence.
func ReconstructTrip(
	id, ownerID string,
	kind TripKind,
	origin, destination, description string,
	pricePerSeat float64,
	totalSeats, availableSeats int,
	status TripStatus,
	departureTime, createdAt time.Time,
) *Trip {
	return &Trip{
		id:             id,
		ownerID:        ownerID,
		kind:           kind,
		origin:         origin,
		destination:    destination,
		description:    description,
		pricePerSeat:   pricePerSeat,
		totalSeats:     totalSeats,
		availableSeats: availableSeats,
		status:         status,
		departureTime:  departureTime,
		createdAt:      createdAt,
	}
}

// AcceptsRequests reports whether a new booking request may be filed at now.
func (t *Trip) AcceptsRequests(now time.Time) error {
	if t.status != TripOpen || !now.Before(t.departureTime) {
		return ErrTripNotOpen
	}
	return nil
}

// Reserve takes seats out of the available pool. It never clamps: a request
// larger than what is left fails with ErrInsufficientSeats.
func (t *Trip) Reserve(seats int) error {
	if seats < 1 {
		return ErrInvalidSeatCount
	}
	if t.status.IsTerminal() {
		return ErrTripNotOpen
	}
	if t.availableSeats < seats {
		return ErrInsufficientSeats
	}

	t.availableSeats -= seats
	if t.availableSeats == 0 {
		t.status = TripFull
	}
	return nil
}

// Release returns seats to the pool. A FULL trip reopens only if it has not
// departed yet.
func (t *Trip) Release(seats int, now time.Time) error {
	if seats < 1 {
		return ErrInvalidSeatCount
	}
	if t.availableSeats+seats > t.totalSeats {
		return ErrCapacityOverflow
	}

	t.availableSeats += seats
	if t.status == TripFull && now.Before(t.departureTime) {
		t.status = TripOpen
	}
	return nil
}

// Close marks the trip COMPLETED or CANCELLED.
func (t *Trip) Close(status TripStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: cannot close trip as %s", ErrInvalidTrip, status)
	}
	if t.status.IsTerminal() {
		return ErrTripClosed
	}
	t.status = status
	return nil
}

// HasDeparted reports whether departure is at or before now.
func (t *Trip) HasDeparted(now time.Time) bool {
	return !now.Before(t.departureTime)
}

// ConfirmedSeats is the number of seats held by confirmed bookings.
func (t *Trip) ConfirmedSeats() int {
	return t.totalSeats - t.availableSeats
}

// Clone returns an independent copy.
func (t *Trip) Clone() *Trip {
	c := *t
	return &c
}

func (t *Trip) ID() string               { return t.id }
func (t *Trip) OwnerID() string          { return t.ownerID }
func (t *Trip) Kind() TripKind           { return t.kind }
func (t *Trip) Origin() string           { return t.origin }
func (t *Trip) Destination() string      { return t.destination }
func (t *Trip) Description() string      { return t.description }
func (t *Trip) PricePerSeat() float64    { return t.pricePerSeat }
func (t *Trip) TotalSeats() int          { return t.totalSeats }
func (t *Trip) AvailableSeats() int      { return t.availableSeats }
func (t *Trip) Status() TripStatus       { return t.status }
func (t *Trip) DepartureTime() time.Time { return t.departureTime }
func (t *Trip) CreatedAt() time.Time     { return t.createdAt }
