package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"

	"github.com/google/uuid"
)

// CreateTripCommand represents the input for publishing a trip
type CreateTripCommand struct {
	OwnerID       string
	Kind          string
	Origin        string
	Destination   string
	Description   string
	PricePerSeat  float64
	TotalSeats    int
	DepartureTime time.Time
}

// CloseTripCommand marks a trip COMPLETED or CANCELLED
type CloseTripCommand struct {
	TripID  string
	OwnerID string
	Status  string
}

func (s *BookingService) CreateTrip(ctx context.Context, cmd CreateTripCommand) (*TripDTO, error) {
	trip, err := domain.NewTrip(domain.NewTripParams{
		ID:            uuid.NewString(),
		OwnerID:       cmd.OwnerID,
		Kind:          domain.TripKind(strings.ToUpper(strings.TrimSpace(cmd.Kind))),
		Origin:        cmd.Origin,
		Destination:   cmd.Destination,
		Description:   cmd.Description,
		PricePerSeat:  cmd.PricePerSeat,
		TotalSeats:    cmd.TotalSeats,
		DepartureTime: cmd.DepartureTime,
	}, s.now())
	if err != nil {
		return nil, s.reject(err)
	}

	if err := s.store.SaveTrip(ctx, trip); err != nil {
		s.logger.Error("save_trip_failed", err)
		return nil, s.reject(fmt.Errorf("save trip: %w", err))
	}

	s.logger.WithFields(logger.LogFields{
		"trip_id":     trip.ID(),
		"owner_id":    trip.OwnerID(),
		"total_seats": trip.TotalSeats(),
	}).Info("trip_created", "Trip published")

	return toTripDTO(trip), nil
}

// GetTrip reads through the trip cache.
func (s *BookingService) GetTrip(ctx context.Context, tripID string) (*TripDTO, error) {
	var version int64
	if s.cache != nil {
		trip, v, ok := s.cache.Get(ctx, tripID)
		if ok {
			return toTripDTO(trip), nil
		}
		version = v
	}

	trip, err := s.store.FindTrip(ctx, tripID)
	if err != nil {
		return nil, s.reject(fmt.Errorf("find trip: %w", err))
	}
	if s.cache != nil {
		s.cache.Set(ctx, trip, version)
	}
	return toTripDTO(trip), nil
}

func (s *BookingService) ListOpenTrips(ctx context.Context) ([]*TripDTO, error) {
	trips, err := s.store.FindOpenTrips(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list open trips: %w", err)
	}
	return toTripDTOs(trips), nil
}

func (s *BookingService) ListMyTrips(ctx context.Context, ownerID string) ([]*TripDTO, error) {
	trips, err := s.store.FindTripsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list trips by owner: %w", err)
	}
	return toTripDTOs(trips), nil
}

// CloseTrip terminally marks a trip. Pending requests are expired; on
// cancellation confirmed bookings are cancelled as well.
func (s *BookingService) CloseTrip(ctx context.Context, cmd CloseTripCommand) (*TripDTO, error) {
	status := domain.TripStatus(strings.ToUpper(strings.TrimSpace(cmd.Status)))
	if status == "" {
		status = domain.TripCancelled
	}
	if !status.IsTerminal() {
		return nil, s.reject(fmt.Errorf("%w: cannot close trip as %q", domain.ErrInvalidTrip, cmd.Status))
	}

	closed, events, err := s.closeTrip(ctx, cmd.TripID, status, func(trip *domain.Trip) error {
		if trip.OwnerID() != cmd.OwnerID {
			return domain.ErrNotOwner
		}
		return nil
	}, cmd.OwnerID)
	if err != nil {
		return nil, s.reject(err)
	}

	s.logger.WithFields(logger.LogFields{
		"trip_id":  cmd.TripID,
		"status":   status.String(),
		"bookings": len(events),
	}).Info("trip_closed", "Trip closed by owner")

	return toTripDTO(closed), nil
}

// closeTrip moves the trip to status and settles its live bookings in one
// transaction, then publishes the resulting events.
func (s *BookingService) closeTrip(ctx context.Context, tripID string, status domain.TripStatus, guard func(*domain.Trip) error, actorID string) (*domain.Trip, []domain.BookingEvent, error) {
	var (
		closed *domain.Trip
		events []domain.BookingEvent
	)
	err := s.inTrip(ctx, tripID, func(tx domain.TripTx) error {
		events = nil
		trip := tx.Trip()
		if err := guard(trip); err != nil {
			return err
		}
		if err := trip.Close(status); err != nil {
			return err
		}

		active, err := tx.ActiveBookings(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		for _, b := range active {
			switch {
			case b.Status() == domain.BookingPending:
				err = b.Expire(trip, actorID, now)
			case status == domain.TripCancelled:
				err = b.CancelConfirmed(trip, actorID, now)
			default:
				continue
			}
			if err != nil {
				return fmt.Errorf("settle booking %s: %w", b.ID(), err)
			}
			tx.Update(b)
			events = append(events, b.Events()...)
		}
		closed = trip.Clone()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidateTrip(ctx, tripID)
	s.publish(ctx, events)
	return closed, events, nil
}
