package service

import (
	"context"
	"fmt"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"

	"github.com/google/uuid"
)

// RequestBookingCommand represents the input for requesting seats
type RequestBookingCommand struct {
	TripID      string
	RequesterID string
	Seats       int
}

// RequestBooking files a PENDING request. It never touches capacity; the
// seat check here is informational and repeated authoritatively on confirm.
func (s *BookingService) RequestBooking(ctx context.Context, cmd RequestBookingCommand) (*BookingDTO, error) {
	log := s.logger.WithFields(logger.LogFields{
		"trip_id":      cmd.TripID,
		"requester_id": cmd.RequesterID,
		"seats":        cmd.Seats,
	})

	if cmd.Seats < 1 {
		return nil, s.reject(domain.ErrInvalidSeatCount)
	}

	// 1. Load the trip the request targets
	trip, err := s.store.FindTrip(ctx, cmd.TripID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("find trip: %w", err))
	}

	// 2. Validate against the trip (self booking, open status, seats left)
	booking, err := domain.NewBooking(uuid.NewString(), trip, cmd.RequesterID, cmd.Seats, s.now())
	if err != nil {
		log.Debug("booking_request_rejected", err.Error())
		return nil, s.reject(err)
	}

	// 3. Persist; the store rejects a second live request by the same requester
	if err := s.store.CreateBooking(ctx, booking); err != nil {
		log.Debug("booking_request_rejected", err.Error())
		return nil, s.reject(fmt.Errorf("create booking: %w", err))
	}

	log.WithFields(logger.LogFields{
		"booking_id": booking.ID(),
	}).Info("booking_requested", "Booking request created")

	// 4. Alert the owner after commit
	s.publish(ctx, booking.Events())

	return toBookingDTO(booking), nil
}
