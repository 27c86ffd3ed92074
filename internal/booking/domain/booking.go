package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the state of a seat request.
//
//	PENDING -> CONFIRMED | CANCELLED
//	CONFIRMED -> CANCELLED
//
// CANCELLED is terminal.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) String() string { return string(s) }

func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// IsActive reports whether the booking counts toward the one-live-request rule.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Decision is the owner's answer to a pending request.
type Decision string

const (
	DecisionConfirm Decision = "CONFIRM"
	DecisionCancel  Decision = "CANCEL"
)

// ParseDecision accepts CONFIRM or CANCEL in any case.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionConfirm, DecisionCancel:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// Booking is one party's request for seats on a trip. Transition methods
// record a BookingEvent that the store persists in the same transaction and
// the engine publishes after commit.
type Booking struct {
	id             string
	tripID         string
	requesterID    string
	seatsRequested int
	status         BookingStatus
	createdAt      time.Time
	resolvedAt     *time.Time

	events []BookingEvent
}

// NewBooking validates a request against trip and returns a PENDING booking.
// Capacity is only checked informationally here; it is reserved on confirm.
func NewBooking(id string, trip *Trip, requesterID string, seats int, now time.Time) (*Booking, error) {
	if seats < 1 {
		return nil, ErrInvalidSeatCount
	}
	if requesterID == trip.OwnerID() {
		return nil, ErrSelfBooking
	}
	if err := trip.AcceptsRequests(now); err != nil {
		return nil, err
	}
	if seats > trip.AvailableSeats() {
		return nil, ErrInsufficientSeats
	}

	b := &Booking{
		id:             id,
		tripID:         trip.ID(),
		requesterID:    requesterID,
		seatsRequested: seats,
		status:         BookingPending,
		createdAt:      now.UTC(),
	}
	b.record(trip, EventNewRequest, "", requesterID, now)
	return b, nil
}

// ReconstructBooking rebuilds a booking from persistence.
func ReconstructBooking(
	id, tripID, requesterID string,
	seatsRequested int,
	status BookingStatus,
	createdAt time.Time,
	resolvedAt *time.Time,
) *Booking {
	return &Booking{
		id:             id,
		tripID:         tripID,
		requesterID:    requesterID,
		seatsRequested: seatsRequested,
		status:         status,
		createdAt:      createdAt,
		resolvedAt:     resolvedAt,
	}
}

// Confirm reserves the booking's seats on trip and marks it CONFIRMED.
// On error neither the booking nor the trip is modified.
func (b *Booking) Confirm(trip *Trip, actorID string, now time.Time) error {
	if err := b.belongsTo(trip); err != nil {
		return err
	}
	if b.status != BookingPending {
		return ErrAlreadyResolved
	}
	if err := trip.Reserve(b.seatsRequested); err != nil {
		return err
	}
	b.transition(trip, BookingConfirmed, EventConfirmed, actorID, now)
	return nil
}

// Decline cancels a pending request on the owner's behalf. No capacity moves.
func (b *Booking) Decline(trip *Trip, actorID string, now time.Time) error {
	return b.cancelPending(trip, EventDeclined, actorID, now)
}

// Withdraw cancels a pending request on the requester's behalf.
func (b *Booking) Withdraw(trip *Trip, now time.Time) error {
	return b.cancelPending(trip, EventWithdrawn, b.requesterID, now)
}

// Expire cancels a pending request because its trip closed or departed.
func (b *Booking) Expire(trip *Trip, actorID string, now time.Time) error {
	return b.cancelPending(trip, EventExpired, actorID, now)
}

func (b *Booking) cancelPending(trip *Trip, kind EventKind, actorID string, now time.Time) error {
	if err := b.belongsTo(trip); err != nil {
		return err
	}
	if b.status != BookingPending {
		return ErrAlreadyResolved
	}
	b.transition(trip, BookingCancelled, kind, actorID, now)
	return nil
}

// CancelConfirmed releases a confirmed booking's seats back to trip.
func (b *Booking) CancelConfirmed(trip *Trip, actorID string, now time.Time) error {
	if err := b.belongsTo(trip); err != nil {
		return err
	}
	if b.status != BookingConfirmed {
		return ErrNotConfirmed
	}
	if err := trip.Release(b.seatsRequested, now); err != nil {
		return err
	}
	b.transition(trip, BookingCancelled, EventCancelled, actorID, now)
	return nil
}

func (b *Booking) belongsTo(trip *Trip) error {
	if b.tripID != trip.ID() {
		return fmt.Errorf("booking %s does not belong to trip %s: %w", b.id, trip.ID(), ErrBookingNotFound)
	}
	return nil
}

func (b *Booking) transition(trip *Trip, to BookingStatus, kind EventKind, actorID string, now time.Time) {
	from := b.status
	b.status = to
	resolved := now.UTC()
	b.resolvedAt = &resolved
	b.record(trip, kind, from, actorID, now)
}

func (b *Booking) record(trip *Trip, kind EventKind, from BookingStatus, actorID string, now time.Time) {
	b.events = append(b.events, BookingEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		BookingID:   b.id,
		TripID:      trip.ID(),
		OwnerID:     trip.OwnerID(),
		RequesterID: b.requesterID,
		ActorID:     actorID,
		Seats:       b.seatsRequested,
		FromStatus:  from,
		ToStatus:    b.status,
		At:          now.UTC(),
	})
}

// Events returns the transitions recorded since the booking was loaded.
func (b *Booking) Events() []BookingEvent {
	out := make([]BookingEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Snapshot returns a copy without recorded events, suitable for storage.
func (b *Booking) Snapshot() *Booking {
	c := *b
	c.events = nil
	return &c
}

func (b *Booking) ID() string             { return b.id }
func (b *Booking) TripID() string         { return b.tripID }
func (b *Booking) RequesterID() string    { return b.requesterID }
func (b *Booking) SeatsRequested() int    { return b.seatsRequested }
func (b *Booking) Status() BookingStatus  { return b.status }
func (b *Booking) CreatedAt() time.Time   { return b.createdAt }
func (b *Booking) ResolvedAt() *time.Time { return b.resolvedAt }
func (b *Booking) IsActive() bool         { return b.status.IsActive() }
