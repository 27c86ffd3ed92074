package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"
)

// SystemActor is recorded as the actor of transitions made by the sweeper.
const SystemActor = "system"

// RunSweeper completes departed trips every interval until ctx ends.
func (s *BookingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweeper_started", fmt.Sprintf("Checking departed trips every %s", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper_stopped", "Departed trip sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepDeparted(ctx); err != nil {
				s.logger.Error("sweep_departed_failed", err)
			}
		}
	}
}

// SweepDeparted marks every OPEN or FULL trip whose departure has passed as
// COMPLETED and expires its pending requests. It returns how many trips it closed.
func (s *BookingService) SweepDeparted(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.FindDepartedTripIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find departed trips: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.logger.Debug("sweep_departed", fmt.Sprintf("Found %d departed trips", len(ids)))

	swept := 0
	for _, id := range ids {
		_, events, err := s.closeTrip(ctx, id, domain.TripCompleted, func(trip *domain.Trip) error {
			if !trip.HasDeparted(now) {
				return errNotDeparted
			}
			return nil
		}, SystemActor)
		switch {
		case err == nil:
			swept++
			s.logger.WithFields(logger.LogFields{
				"trip_id": id,
				"expired": len(events),
			}).Info("trip_completed", "Departed trip completed")
		case errors.Is(err, errNotDeparted), errors.Is(err, domain.ErrTripClosed):
			// closed or rescheduled since the scan
		default:
			s.logger.WithFields(logger.LogFields{"trip_id": id}).Error("complete_trip_failed", err)
		}
	}
	return swept, nil
}

var errNotDeparted = errors.New("trip has not departed")
