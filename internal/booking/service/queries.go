package service

import (
	"context"
	"fmt"

	"carpool/internal/booking/domain"
)

// ListBookingsForTrip returns every booking on a trip. Only the owner may look.
func (s *BookingService) ListBookingsForTrip(ctx context.Context, tripID, resolverID string) ([]*BookingDTO, error) {
	trip, err := s.store.FindTrip(ctx, tripID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("find trip: %w", err))
	}
	if trip.OwnerID() != resolverID {
		return nil, s.reject(domain.ErrNotOwner)
	}

	bookings, err := s.store.FindBookingsByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list bookings for trip: %w", err)
	}
	return toBookingDTOs(bookings), nil
}

func (s *BookingService) ListMyBookings(ctx context.Context, requesterID string) ([]*BookingDTO, error) {
	bookings, err := s.store.FindBookingsByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by requester: %w", err)
	}
	return toBookingDTOs(bookings), nil
}

// BookingHistory returns the audit trail of a booking to either party.
func (s *BookingService) BookingHistory(ctx context.Context, bookingID, callerID string) ([]domain.BookingEvent, error) {
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("find booking: %w", err))
	}
	if booking.RequesterID() != callerID {
		trip, err := s.store.FindTrip(ctx, booking.TripID())
		if err != nil {
			return nil, s.reject(fmt.Errorf("find trip: %w", err))
		}
		if trip.OwnerID() != callerID {
			return nil, s.reject(domain.ErrNotParticipant)
		}
	}

	events, err := s.store.FindEvents(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("find booking events: %w", err)
	}
	return events, nil
}
