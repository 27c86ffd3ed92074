package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carpool/internal/booking/domain"
	"carpool/internal/booking/infrastructure/repository"
	"carpool/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.BookingEvent))
	return p.err
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *recordingPublisher) last() domain.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type mockTripCache struct {
	mock.Mock
}

func (m *mockTripCache) Get(ctx context.Context, tripID string) (*domain.Trip, int64, bool) {
	args := m.Called(ctx, tripID)
	trip, _ := args.Get(0).(*domain.Trip)
	return trip, args.Get(1).(int64), args.Bool(2)
}

func (m *mockTripCache) Set(ctx context.Context, trip *domain.Trip, version int64) {
	m.Called(ctx, trip, version)
}

func (m *mockTripCache) Invalidate(ctx context.Context, tripID string) {
	m.Called(ctx, tripID)
}

type fixture struct {
	svc   *BookingService
	store *repository.MemoryStore
	pub   *recordingPublisher
	clock *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(),
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewBookingService(f.store, f.pub, logger.Nop(), opts...)
	return f
}

func (f *fixture) trip(t *testing.T, seats int) *TripDTO {
	t.Helper()
	trip, err := f.svc.CreateTrip(context.Background(), CreateTripCommand{
		OwnerID:       "owner",
		Origin:        "Taipei",
		Destination:   "Taichung",
		PricePerSeat:  300,
		TotalSeats:    seats,
		DepartureTime: f.clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return trip
}

func (f *fixture) request(t *testing.T, tripID, requester string, seats int) *BookingDTO {
	t.Helper()
	b, err := f.svc.RequestBooking(context.Background(), RequestBookingCommand{TripID: tripID, RequesterID: requester, Seats: seats})
	require.NoError(t, err)
	return b
}

func (f *fixture) confirm(t *testing.T, bookingID string) *BookingDTO {
	t.Helper()
	b, err := f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: bookingID, ResolverID: "owner", Decision: "CONFIRM"})
	require.NoError(t, err)
	return b
}

// assertCapacity checks available = total - confirmed seats and the bounds.
func (f *fixture) assertCapacity(t *testing.T, tripID string) *domain.Trip {
	t.Helper()
	ctx := context.Background()
	trip, err := f.store.FindTrip(ctx, tripID)
	require.NoError(t, err)
	bookings, err := f.store.FindBookingsByTrip(ctx, tripID)
	require.NoError(t, err)

	confirmed := 0
	for _, b := range bookings {
		if b.Status() == domain.BookingConfirmed {
			confirmed += b.SeatsRequested()
		}
	}
	assert.GreaterOrEqual(t, trip.AvailableSeats(), 0)
	assert.LessOrEqual(t, trip.AvailableSeats(), trip.TotalSeats())
	assert.Equal(t, trip.TotalSeats()-confirmed, trip.AvailableSeats())
	return trip
}

func TestRequestBooking_CreatesPendingAndAlertsOwner(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 3)

	b := f.request(t, trip.ID, "rider", 2)

	assert.Equal(t, "PENDING", b.Status)
	assert.Equal(t, 2, b.SeatsRequested)
	assert.Equal(t, 3, f.assertCapacity(t, trip.ID).AvailableSeats(), "pending requests hold no seats")

	require.Equal(t, []domain.EventKind{domain.EventNewRequest}, f.pub.kinds())
	assert.Equal(t, "owner", f.pub.last().Recipient())
	assert.Equal(t, trip.ID, f.pub.last().TripID)
}

func TestRequestBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	f.request(t, trip.ID, "rider", 1)

	tests := []struct {
		name string
		cmd  RequestBookingCommand
		want error
	}{
		{"zero seats", RequestBookingCommand{TripID: trip.ID, RequesterID: "other", Seats: 0}, domain.ErrInvalidSeatCount},
		{"self booking", RequestBookingCommand{TripID: trip.ID, RequesterID: "owner", Seats: 1}, domain.ErrSelfBooking},
		{"duplicate", RequestBookingCommand{TripID: trip.ID, RequesterID: "rider", Seats: 1}, domain.ErrDuplicateRequest},
		{"more than available", RequestBookingCommand{TripID: trip.ID, RequesterID: "other", Seats: 3}, domain.ErrInsufficientSeats},
		{"unknown trip", RequestBookingCommand{TripID: "missing", RequesterID: "other", Seats: 1}, domain.ErrTripNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RequestBooking(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	owned, err := f.store.FindBookingsByRequester(context.Background(), "owner")
	require.NoError(t, err)
	assert.Empty(t, owned, "self booking must not write a row")
	assert.Len(t, f.pub.kinds(), 1)
}

func TestRequestBooking_AfterWithdrawIsAllowed(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	b := f.request(t, trip.ID, "rider", 1)

	_, err := f.svc.WithdrawBooking(context.Background(), b.ID, "rider")
	require.NoError(t, err)

	f.request(t, trip.ID, "rider", 1)
}

func TestRequestBooking_PublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	trip := f.trip(t, 1)

	b, err := f.svc.RequestBooking(context.Background(), RequestBookingCommand{TripID: trip.ID, RequesterID: "rider", Seats: 1})
	require.NoError(t, err)

	stored, err := f.store.FindBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status())
}

// Trip(2 seats): A confirmed -> 1 left, B confirmed -> FULL, C is turned away.
func TestScenario_TwoSeatTrip(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)

	a := f.request(t, trip.ID, "A", 1)
	assert.Equal(t, "CONFIRMED", f.confirm(t, a.ID).Status)
	stored := f.assertCapacity(t, trip.ID)
	assert.Equal(t, 1, stored.AvailableSeats())
	assert.Equal(t, domain.TripOpen, stored.Status())

	b := f.request(t, trip.ID, "B", 1)
	f.confirm(t, b.ID)
	stored = f.assertCapacity(t, trip.ID)
	assert.Equal(t, 0, stored.AvailableSeats())
	assert.Equal(t, domain.TripFull, stored.Status())

	_, err := f.svc.RequestBooking(context.Background(), RequestBookingCommand{TripID: trip.ID, RequesterID: "C", Seats: 1})
	assert.ErrorIs(t, err, domain.ErrTripNotOpen)

	_, err = f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: a.ID, ResolverID: "owner", Decision: "CONFIRM"})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 1)
	b := f.request(t, trip.ID, "rider", 1)

	_, err := f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: b.ID, ResolverID: "rider", Decision: "CONFIRM"})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: b.ID, ResolverID: "owner", Decision: "MAYBE"})
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)

	_, err = f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: "missing", ResolverID: "owner", Decision: "CONFIRM"})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	stored, err := f.store.FindBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status())
}

func TestResolveBooking_ConfirmRechecksCapacity(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	big := f.request(t, trip.ID, "A", 2)
	small := f.request(t, trip.ID, "B", 1)

	f.confirm(t, small.ID)

	_, err := f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: big.ID, ResolverID: "owner", Decision: "CONFIRM"})
	assert.ErrorIs(t, err, domain.ErrInsufficientSeats)

	stored, err := f.store.FindBooking(context.Background(), big.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status())
	assert.Equal(t, 1, f.assertCapacity(t, trip.ID).AvailableSeats())
}

func TestResolveBooking_DeclineKeepsCapacity(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	b := f.request(t, trip.ID, "rider", 2)

	out, err := f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: b.ID, ResolverID: "owner", Decision: "cancel"})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)
	assert.NotEmpty(t, out.ResolvedAt)
	assert.Equal(t, 2, f.assertCapacity(t, trip.ID).AvailableSeats())

	assert.Equal(t, domain.EventDeclined, f.pub.last().Kind)
	assert.Equal(t, "rider", f.pub.last().Recipient())
}

func TestConfirmThenCancel_RestoresCapacityAndReopens(t *testing.T) {
	cache := &mockTripCache{}
	f := newFixture(t, WithTripCache(cache))
	trip := f.trip(t, 1)
	b := f.request(t, trip.ID, "rider", 1)

	cache.On("Invalidate", mock.Anything, trip.ID).Return().Twice()

	f.confirm(t, b.ID)
	assert.Equal(t, domain.TripFull, f.assertCapacity(t, trip.ID).Status())

	out, err := f.svc.CancelConfirmedBooking(context.Background(), b.ID, "rider")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)

	stored := f.assertCapacity(t, trip.ID)
	assert.Equal(t, 1, stored.AvailableSeats())
	assert.Equal(t, domain.TripOpen, stored.Status())
	assert.Equal(t, "owner", f.pub.last().Recipient())

	cache.AssertExpectations(t)
}

func TestCancelConfirmedBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	b := f.request(t, trip.ID, "rider", 1)

	_, err := f.svc.CancelConfirmedBooking(context.Background(), b.ID, "rider")
	assert.ErrorIs(t, err, domain.ErrNotConfirmed)

	f.confirm(t, b.ID)
	_, err = f.svc.CancelConfirmedBooking(context.Background(), b.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	out, err := f.svc.CancelConfirmedBooking(context.Background(), b.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)
	assert.Equal(t, "rider", f.pub.last().Recipient(), "owner revoked, requester hears about it")
}

func TestWithdrawBooking(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	b := f.request(t, trip.ID, "rider", 1)

	_, err := f.svc.WithdrawBooking(context.Background(), b.ID, "owner")
	assert.ErrorIs(t, err, domain.ErrNotRequester)

	out, err := f.svc.WithdrawBooking(context.Background(), b.ID, "rider")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)
	assert.Equal(t, domain.EventWithdrawn, f.pub.last().Kind)

	_, err = f.svc.WithdrawBooking(context.Background(), b.ID, "rider")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestConcurrentConfirms_ExactlyCapacitySucceed(t *testing.T) {
	const seats, requests = 4, 25
	f := newFixture(t)
	trip := f.trip(t, seats)

	ids := make([]string, requests)
	for i := range ids {
		ids[i] = f.request(t, trip.ID, fmt.Sprintf("rider-%d", i), 1).ID
	}

	var ok, insufficient int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := f.svc.ResolveBooking(context.Background(), ResolveBookingCommand{BookingID: id, ResolverID: "owner", Decision: "CONFIRM"})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, domain.ErrInsufficientSeats):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(seats), ok)
	assert.Equal(t, int32(requests-seats), insufficient)
	stored := f.assertCapacity(t, trip.ID)
	assert.Equal(t, domain.TripFull, stored.Status())
}

func TestConcurrentDuplicateRequests_OneWins(t *testing.T) {
	const callers = 10
	f := newFixture(t)
	trip := f.trip(t, 3)

	var ok, dup int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestBooking(context.Background(), RequestBookingCommand{TripID: trip.ID, RequesterID: "rider", Seats: 1})
			if err == nil {
				atomic.AddInt32(&ok, 1)
			} else if errors.Is(err, domain.ErrDuplicateRequest) {
				atomic.AddInt32(&dup, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(callers-1), dup)
}

func TestCloseTrip_CancelsLiveBookings(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 3)
	pending := f.request(t, trip.ID, "A", 1)
	confirmed := f.request(t, trip.ID, "B", 2)
	f.confirm(t, confirmed.ID)

	_, err := f.svc.CloseTrip(context.Background(), CloseTripCommand{TripID: trip.ID, OwnerID: "A", Status: "CANCELLED"})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	closed, err := f.svc.CloseTrip(context.Background(), CloseTripCommand{TripID: trip.ID, OwnerID: "owner", Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", closed.Status)
	assert.Equal(t, 3, closed.AvailableSeats)

	for _, id := range []string{pending.ID, confirmed.ID} {
		b, err := f.store.FindBooking(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingCancelled, b.Status())
	}
	f.assertCapacity(t, trip.ID)

	kinds := f.pub.kinds()
	assert.Contains(t, kinds, domain.EventExpired)
	assert.Contains(t, kinds, domain.EventCancelled)

	_, err = f.svc.CloseTrip(context.Background(), CloseTripCommand{TripID: trip.ID, OwnerID: "owner", Status: "COMPLETED"})
	assert.ErrorIs(t, err, domain.ErrTripClosed)

	_, err = f.svc.CloseTrip(context.Background(), CloseTripCommand{TripID: trip.ID, OwnerID: "owner", Status: "FULL"})
	assert.ErrorIs(t, err, domain.ErrInvalidTrip)
}

func TestSweepDeparted(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	pending := f.request(t, trip.ID, "A", 1)
	confirmed := f.request(t, trip.ID, "B", 1)
	f.confirm(t, confirmed.ID)

	n, err := f.svc.SweepDeparted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(25 * time.Hour)
	n, err = f.svc.SweepDeparted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.assertCapacity(t, trip.ID)
	assert.Equal(t, domain.TripCompleted, stored.Status())

	b, err := f.store.FindBooking(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, b.Status())
	b, err = f.store.FindBooking(context.Background(), confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status())

	last := f.pub.last()
	assert.Equal(t, domain.EventExpired, last.Kind)
	assert.Equal(t, SystemActor, last.ActorID)
	assert.Equal(t, "A", last.Recipient())

	n, err = f.svc.SweepDeparted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetTrip_ReadsThroughCache(t *testing.T) {
	cache := &mockTripCache{}
	f := newFixture(t, WithTripCache(cache))
	trip := f.trip(t, 2)

	cache.On("Get", mock.Anything, trip.ID).Return(nil, int64(4), false).Once()
	cache.On("Set", mock.Anything, mock.AnythingOfType("*domain.Trip"), int64(4)).Return().Once()

	got, err := f.svc.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, trip.ID, got.ID)

	cached := domain.ReconstructTrip(trip.ID, "owner", domain.TripDriverOffering, "x", "y", "", 0, 2, 1,
		domain.TripOpen, f.clock.Now().Add(time.Hour), f.clock.Now())
	cache.On("Get", mock.Anything, trip.ID).Return(cached, int64(4), true).Once()

	got, err = f.svc.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	cache.AssertExpectations(t)

	cache.On("Get", mock.Anything, "missing").Return(nil, int64(0), false).Once()
	_, err = f.svc.GetTrip(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTripNotFound)
}

func TestCreateTrip_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTrip(context.Background(), CreateTripCommand{OwnerID: "owner", TotalSeats: 0, DepartureTime: f.clock.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidTrip)

	_, err = f.svc.CreateTrip(context.Background(), CreateTripCommand{OwnerID: "owner", TotalSeats: 2, DepartureTime: f.clock.Now().Add(-time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidTrip)

	trip, err := f.svc.CreateTrip(context.Background(), CreateTripCommand{OwnerID: "owner", Kind: "passenger_seeking", TotalSeats: 2, DepartureTime: f.clock.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "PASSENGER_SEEKING", trip.Kind)
	assert.Equal(t, "OPEN", trip.Status)
	assert.Equal(t, 2, trip.AvailableSeats)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	trip := f.trip(t, 2)
	b := f.request(t, trip.ID, "rider", 1)
	f.confirm(t, b.ID)

	_, err := f.svc.ListBookingsForTrip(context.Background(), trip.ID, "rider")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	forTrip, err := f.svc.ListBookingsForTrip(context.Background(), trip.ID, "owner")
	require.NoError(t, err)
	require.Len(t, forTrip, 1)

	mine, err := f.svc.ListMyBookings(context.Background(), "rider")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "CONFIRMED", mine[0].Status)

	open, err := f.svc.ListOpenTrips(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)

	owned, err := f.svc.ListMyTrips(context.Background(), "owner")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	history, err := f.svc.BookingHistory(context.Background(), b.ID, "owner")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventNewRequest, history[0].Kind)
	assert.Equal(t, domain.EventConfirmed, history[1].Kind)

	_, err = f.svc.BookingHistory(context.Background(), b.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
