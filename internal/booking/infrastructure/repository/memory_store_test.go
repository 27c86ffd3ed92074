package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carpool/internal/booking/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedTrip(t *testing.T, s *MemoryStore, seats int) *domain.Trip {
	t.Helper()
	trip, err := domain.NewTrip(domain.NewTripParams{
		ID:            "trip-1",
		OwnerID:       "owner",
		TotalSeats:    seats,
		DepartureTime: now.Add(time.Hour),
	}, now)
	require.NoError(t, err)
	require.NoError(t, s.SaveTrip(context.Background(), trip))
	return trip
}

func seedBooking(t *testing.T, s *MemoryStore, trip *domain.Trip, id, requester string, seats int) *domain.Booking {
	t.Helper()
	b, err := domain.NewBooking(id, trip, requester, seats, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateBooking(context.Background(), b))
	return b
}

func TestMemoryStore_CreateBookingRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	trip := seedTrip(t, s, 3)
	seedBooking(t, s, trip, "b-1", "rider", 1)

	dup, err := domain.NewBooking("b-2", trip, "rider", 1, now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.CreateBooking(context.Background(), dup), domain.ErrDuplicateRequest)

	events, err := s.FindEvents(context.Background(), "b-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventNewRequest, events[0].Kind)
}

func TestMemoryStore_InTripCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	trip := seedTrip(t, s, 2)
	seedBooking(t, s, trip, "b-1", "rider", 2)

	err := s.InTrip(ctx, "trip-1", func(tx domain.TripTx) error {
		b, err := tx.Booking(ctx, "b-1")
		if err != nil {
			return err
		}
		if err := b.Confirm(tx.Trip(), "owner", now); err != nil {
			return err
		}
		tx.Update(b)
		return nil
	})
	require.NoError(t, err)

	stored, err := s.FindTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AvailableSeats())
	assert.Equal(t, domain.TripFull, stored.Status())

	b, err := s.FindBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status())

	events, err := s.FindEvents(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStore_InTripDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	trip := seedTrip(t, s, 2)
	seedBooking(t, s, trip, "b-1", "rider", 1)

	boom := errors.New("boom")
	err := s.InTrip(ctx, "trip-1", func(tx domain.TripTx) error {
		b, err := tx.Booking(ctx, "b-1")
		require.NoError(t, err)
		require.NoError(t, b.Confirm(tx.Trip(), "owner", now))
		tx.Update(b)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := s.FindTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AvailableSeats())
	b, err := s.FindBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, b.Status())
}

func TestMemoryStore_InTripUnknownTrip(t *testing.T) {
	s := NewMemoryStore()
	err := s.InTrip(context.Background(), "nope", func(tx domain.TripTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTripNotFound)
}

func TestMemoryStore_BookingFromOtherTripIsHidden(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	trip := seedTrip(t, s, 2)
	seedBooking(t, s, trip, "b-1", "rider", 1)

	other, err := domain.NewTrip(domain.NewTripParams{ID: "trip-2", OwnerID: "owner", TotalSeats: 1, DepartureTime: now.Add(time.Hour)}, now)
	require.NoError(t, err)
	require.NoError(t, s.SaveTrip(ctx, other))

	err = s.InTrip(ctx, "trip-2", func(tx domain.TripTx) error {
		_, err := tx.Booking(ctx, "b-1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestMemoryStore_InTripHonoursContextWhileWaiting(t *testing.T) {
	s := NewMemoryStore()
	seedTrip(t, s, 1)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.InTrip(context.Background(), "trip-1", func(tx domain.TripTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.InTrip(ctx, "trip-1", func(tx domain.TripTx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

// More confirmations than seats race on one trip: exactly as many as fit win
// and the counter lands on zero.
func TestMemoryStore_ConcurrentConfirmsNeverOverbook(t *testing.T) {
	const seats, requests = 3, 20
	ctx := context.Background()
	s := NewMemoryStore()
	trip := seedTrip(t, s, seats)
	for i := 0; i < requests; i++ {
		seedBooking(t, s, trip, fmt.Sprintf("b-%d", i), fmt.Sprintf("rider-%d", i), 1)
	}

	var confirmed, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := s.InTrip(ctx, "trip-1", func(tx domain.TripTx) error {
				b, err := tx.Booking(ctx, id)
				if err != nil {
					return err
				}
				if err := b.Confirm(tx.Trip(), "owner", now); err != nil {
					return err
				}
				tx.Update(b)
				return nil
			})
			switch {
			case err == nil:
				atomic.AddInt32(&confirmed, 1)
			case errors.Is(err, domain.ErrInsufficientSeats):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("b-%d", i))
	}
	wg.Wait()

	assert.Equal(t, int32(seats), confirmed)
	assert.Equal(t, int32(requests-seats), rejected)

	stored, err := s.FindTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AvailableSeats())
	assert.Equal(t, domain.TripFull, stored.Status())
}

func TestMemoryStore_Listings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	trip := seedTrip(t, s, 2)
	seedBooking(t, s, trip, "b-1", "rider", 1)

	open, err := s.FindOpenTrips(ctx, now)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	open, err = s.FindOpenTrips(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, open)

	departed, err := s.FindDepartedTripIDs(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-1"}, departed)

	owned, err := s.FindTripsByOwner(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	mine, err := s.FindBookingsByRequester(ctx, "rider")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "b-1", mine[0].ID())
}
