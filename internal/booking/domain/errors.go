package domain

import "errors"

// Validation errors: rejected synchronously, nothing is written.
var (
	ErrInvalidSeatCount = errors.New("invalid seat count: at least one seat must be requested")
	ErrInvalidTrip      = errors.New("invalid trip")
	ErrInvalidDecision  = errors.New("invalid decision: must be CONFIRM or CANCEL")
	ErrSelfBooking      = errors.New("self booking forbidden: owners cannot book their own trip")
	ErrTripNotOpen      = errors.New("trip is not open for booking")
)

// Conflict errors: rejected after the atomic check, no partial mutation.
var (
	ErrDuplicateRequest  = errors.New("duplicate request: a pending or confirmed booking already exists")
	ErrAlreadyResolved   = errors.New("booking already resolved")
	ErrInsufficientSeats = errors.New("insufficient seats available")
	ErrNotConfirmed      = errors.New("booking is not confirmed")
	ErrTripClosed        = errors.New("trip is already completed or cancelled")
	ErrCapacityOverflow  = errors.New("released seats exceed trip capacity")
	ErrConcurrentUpdate  = errors.New("trip was modified concurrently")
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrBookingNotFound = errors.New("booking not found")
)

var (
	ErrNotOwner       = errors.New("only the trip owner can perform this action")
	ErrNotRequester   = errors.New("only the requester can perform this action")
	ErrNotParticipant = errors.New("only the requester or the trip owner can perform this action")
)

type ErrorClass string

const (
	ClassValidation ErrorClass = "VALIDATION"
	ClassConflict   ErrorClass = "CONFLICT"
	ClassNotFound   ErrorClass = "NOT_FOUND"
	ClassForbidden  ErrorClass = "FORBIDDEN"
	ClassInternal   ErrorClass = "INTERNAL"
)

// Classification tells a caller what went wrong and whether retrying the
// same call can succeed.
type Classification struct {
	Class     ErrorClass
	Code      string
	Retryable bool
}

var classifications = []struct {
	err error
	c   Classification
}{
	{ErrInvalidSeatCount, Classification{ClassValidation, "INVALID_SEAT_COUNT", false}},
	{ErrInvalidTrip, Classification{ClassValidation, "INVALID_TRIP", false}},
	{ErrInvalidDecision, Classification{ClassValidation, "INVALID_DECISION", false}},
	{ErrSelfBooking, Classification{ClassValidation, "SELF_BOOKING_FORBIDDEN", false}},
	{ErrTripNotOpen, Classification{ClassValidation, "TRIP_NOT_OPEN", false}},
	{ErrDuplicateRequest, Classification{ClassConflict, "DUPLICATE_REQUEST", false}},
	{ErrAlreadyResolved, Classification{ClassConflict, "ALREADY_RESOLVED", false}},
	{ErrInsufficientSeats, Classification{ClassConflict, "INSUFFICIENT_SEATS", false}},
	{ErrNotConfirmed, Classification{ClassConflict, "NOT_CONFIRMED", false}},
	{ErrTripClosed, Classification{ClassConflict, "TRIP_CLOSED", false}},
	{ErrCapacityOverflow, Classification{ClassConflict, "CAPACITY_OVERFLOW", false}},
	{ErrConcurrentUpdate, Classification{ClassConflict, "CONCURRENT_UPDATE", true}},
	{ErrTripNotFound, Classification{ClassNotFound, "NOT_FOUND", false}},
	{ErrBookingNotFound, Classification{ClassNotFound, "NOT_FOUND", false}},
	{ErrNotOwner, Classification{ClassForbidden, "NOT_OWNER", false}},
	{ErrNotRequester, Classification{ClassForbidden, "NOT_REQUESTER", false}},
	{ErrNotParticipant, Classification{ClassForbidden, "NOT_PARTICIPANT", false}},
}

// Classify maps err to its class. Anything unknown is an internal, retryable
// failure (store or transport trouble).
func Classify(err error) Classification {
	for _, entry := range classifications {
		if errors.Is(err, entry.err) {
			return entry.c
		}
	}
	return Classification{ClassInternal, "INTERNAL", true}
}
