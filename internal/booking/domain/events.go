package domain

import (
	"strings"
	"time"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// EventKind names a booking transition.
type EventKind string

const (
	// EventNewRequest is emitted on every successful RequestBooking.
	EventNewRequest EventKind = "NEW_REQUEST"
	EventConfirmed  EventKind = "BOOKING_CONFIRMED"
	EventDeclined   EventKind = "BOOKING_DECLINED"
	EventWithdrawn  EventKind = "BOOKING_WITHDRAWN"
	EventCancelled  EventKind = "BOOKING_CANCELLED"
	EventExpired    EventKind = "BOOKING_EXPIRED"
)

func (k EventKind) IsValid() bool {
	switch k {
	case EventNewRequest, EventConfirmed, EventDeclined, EventWithdrawn, EventCancelled, EventExpired:
		return true
	}
	return false
}

// RoutingKey is the topic key the event is published under, e.g. booking.new_request.
func (k EventKind) RoutingKey() string {
	return "booking." + strings.ToLower(string(k))
}

// BookingEvent is one committed booking transition. It doubles as the audit
// record and as the notification intent handed to the dispatcher.
type BookingEvent struct {
	ID          string        `json:"event_id"`
	Kind        EventKind     `json:"kind"`
	BookingID   string        `json:"booking_id"`
	TripID      string        `json:"trip_id"`
	OwnerID     string        `json:"owner_id"`
	RequesterID string        `json:"requester_id"`
	ActorID     string        `json:"actor_id"`
	Seats       int           `json:"seats"`
	FromStatus  BookingStatus `json:"from_status,omitempty"`
	ToStatus    BookingStatus `json:"to_status"`
	At          time.Time     `json:"occurred_at"`
}

func (e BookingEvent) EventType() string     { return string(e.Kind) }
func (e BookingEvent) OccurredAt() time.Time { return e.At }

// Recipient is the user who should hear about the event: the owner for work
// they must act on, the requester for answers, the other party for cancellations.
func (e BookingEvent) Recipient() string {
	switch e.Kind {
	case EventNewRequest, EventWithdrawn:
		return e.OwnerID
	case EventCancelled:
		if e.ActorID == e.RequesterID {
			return e.OwnerID
		}
		return e.RequesterID
	default:
		return e.RequesterID
	}
}
