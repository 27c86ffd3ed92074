package service

import (
	"context"
	"fmt"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
)

// ResolveBookingCommand represents the owner's decision on a pending request
type ResolveBookingCommand struct {
	BookingID  string
	ResolverID string
	Decision   string
}

// ResolveBooking confirms or declines a PENDING booking. CONFIRM reserves the
// seats in the same transaction that marks the booking CONFIRMED.
func (s *BookingService) ResolveBooking(ctx context.Context, cmd ResolveBookingCommand) (*BookingDTO, error) {
	decision, err := domain.ParseDecision(cmd.Decision)
	if err != nil {
		return nil, s.reject(err)
	}

	return s.transition(ctx, cmd.BookingID, "booking_resolved", func(trip *domain.Trip, b *domain.Booking) error {
		if trip.OwnerID() != cmd.ResolverID {
			return domain.ErrNotOwner
		}
		if decision == domain.DecisionConfirm {
			return b.Confirm(trip, cmd.ResolverID, s.now())
		}
		return b.Decline(trip, cmd.ResolverID, s.now())
	})
}

// CancelConfirmedBooking releases a CONFIRMED booking's seats. Either the
// requester or the trip owner may cancel.
func (s *BookingService) CancelConfirmedBooking(ctx context.Context, bookingID, callerID string) (*BookingDTO, error) {
	return s.transition(ctx, bookingID, "booking_cancelled", func(trip *domain.Trip, b *domain.Booking) error {
		if callerID != b.RequesterID() && callerID != trip.OwnerID() {
			return domain.ErrNotParticipant
		}
		return b.CancelConfirmed(trip, callerID, s.now())
	})
}

// WithdrawBooking lets a requester take back their own PENDING request.
func (s *BookingService) WithdrawBooking(ctx context.Context, bookingID, requesterID string) (*BookingDTO, error) {
	return s.transition(ctx, bookingID, "booking_withdrawn", func(trip *domain.Trip, b *domain.Booking) error {
		if requesterID != b.RequesterID() {
			return domain.ErrNotRequester
		}
		return b.Withdraw(trip, s.now())
	})
}

// transition applies apply to one booking inside its trip's transaction and
// publishes the recorded events once committed.
func (s *BookingService) transition(ctx context.Context, bookingID, action string, apply func(*domain.Trip, *domain.Booking) error) (*BookingDTO, error) {
	// 1. Locate the booking's trip
	found, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("find booking: %w", err))
	}
	log := s.logger.WithFields(logger.LogFields{
		"booking_id": bookingID,
		"trip_id":    found.TripID(),
	})

	// 2. Re-read and mutate under the trip lock
	var result *domain.Booking
	var seatsBefore, seatsAfter int
	err = s.inTrip(ctx, found.TripID(), func(tx domain.TripTx) error {
		b, err := tx.Booking(ctx, bookingID)
		if err != nil {
			return err
		}
		seatsBefore = tx.Trip().AvailableSeats()
		if err := apply(tx.Trip(), b); err != nil {
			return err
		}
		tx.Update(b)
		result = b
		seatsAfter = tx.Trip().AvailableSeats()
		return nil
	})
	if err != nil {
		log.Debug(action+"_rejected", err.Error())
		return nil, s.reject(err)
	}

	events := result.Events()
	log.WithFields(logger.LogFields{
		"status":       result.Status().String(),
		"seats_before": seatsBefore,
		"seats_after":  seatsAfter,
	}).Info(action, fmt.Sprintf("Booking moved to %s", result.Status()))

	// 3. Side effects after commit
	if seatsAfter != seatsBefore {
		s.invalidateTrip(ctx, found.TripID())
	}
	s.publish(ctx, events)

	return toBookingDTO(result), nil
}
