package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"carpool/internal/booking/domain"
)

// MemoryStore implements domain.Store in process memory. Each trip has a
// one-slot semaphore so InTrip callers queue per trip and honour ctx while
// waiting.
type MemoryStore struct {
	mu       sync.RWMutex // guards the maps below
	trips    map[string]*domain.Trip
	bookings map[string]*domain.Booking
	events   map[string][]domain.BookingEvent

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:    make(map[string]*domain.Trip),
		bookings: make(map[string]*domain.Booking),
		events:   make(map[string][]domain.BookingEvent),
		locks:    make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) SaveTrip(ctx context.Context, trip *domain.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.ID()] = trip.Clone()
	return nil
}

func (s *MemoryStore) FindTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[tripID]
	if !ok {
		return nil, domain.ErrTripNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) FindOpenTrips(ctx context.Context, now time.Time) ([]*domain.Trip, error) {
	out := s.filterTrips(func(t *domain.Trip) bool {
		return t.Status() == domain.TripOpen && t.DepartureTime().After(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime().Before(out[j].DepartureTime()) })
	return out, nil
}

func (s *MemoryStore) FindTripsByOwner(ctx context.Context, ownerID string) ([]*domain.Trip, error) {
	out := s.filterTrips(func(t *domain.Trip) bool { return t.OwnerID() == ownerID })
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime().After(out[j].DepartureTime()) })
	return out, nil
}

func (s *MemoryStore) FindDepartedTripIDs(ctx context.Context, now time.Time) ([]string, error) {
	trips := s.filterTrips(func(t *domain.Trip) bool {
		return !t.Status().IsTerminal() && t.HasDeparted(now)
	})
	ids := make([]string, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.ID())
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) filterTrips(keep func(*domain.Trip) bool) []*domain.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Trip
	for _, t := range s.trips {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// CreateBooking inserts a PENDING booking. The duplicate and trip-status
// checks run under the write lock so they see every committed transition.
func (s *MemoryStore) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[booking.TripID()]
	if !ok {
		return domain.ErrTripNotFound
	}
	if trip.Status() != domain.TripOpen {
		return domain.ErrTripNotOpen
	}
	for _, b := range s.bookings {
		if b.TripID() == booking.TripID() && b.RequesterID() == booking.RequesterID() && b.IsActive() {
			return domain.ErrDuplicateRequest
		}
	}

	s.bookings[booking.ID()] = booking.Snapshot()
	s.events[booking.ID()] = append(s.events[booking.ID()], booking.Events()...)
	return nil
}

func (s *MemoryStore) FindBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return b.Snapshot(), nil
}

func (s *MemoryStore) FindBookingsByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	out := s.filterBookings(func(b *domain.Booking) bool { return b.TripID() == tripID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (s *MemoryStore) FindBookingsByRequester(ctx context.Context, requesterID string) ([]*domain.Booking, error) {
	out := s.filterBookings(func(b *domain.Booking) bool { return b.RequesterID() == requesterID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out, nil
}

func (s *MemoryStore) filterBookings(keep func(*domain.Booking) bool) []*domain.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

func (s *MemoryStore) FindEvents(ctx context.Context, bookingID string) ([]domain.BookingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BookingEvent, len(s.events[bookingID]))
	copy(out, s.events[bookingID])
	return out, nil
}

func (s *MemoryStore) tripLock(tripID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[tripID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[tripID] = l
	}
	return l
}

// InTrip runs fn against private copies of the trip and its bookings and
// publishes them to the shared maps only when fn succeeds.
func (s *MemoryStore) InTrip(ctx context.Context, tripID string, fn func(tx domain.TripTx) error) error {
	lock := s.tripLock(tripID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	trip, err := s.FindTrip(ctx, tripID)
	if err != nil {
		return err
	}

	tx := &memoryTx{store: s, trip: trip, staged: make(map[string]*domain.Booking)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[tripID] = trip.Clone()
	for _, id := range tx.order {
		b := tx.staged[id]
		s.bookings[id] = b.Snapshot()
		s.events[id] = append(s.events[id], b.Events()...)
	}
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	trip   *domain.Trip
	loaded map[string]*domain.Booking
	staged map[string]*domain.Booking
	order  []string
}

func (tx *memoryTx) Trip() *domain.Trip { return tx.trip }

// Booking returns the same instance for repeated lookups within one tx.
func (tx *memoryTx) Booking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if b, ok := tx.loaded[bookingID]; ok {
		return b, nil
	}
	b, err := tx.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.TripID() != tx.trip.ID() {
		return nil, domain.ErrBookingNotFound
	}
	tx.remember(b)
	return b, nil
}

func (tx *memoryTx) ActiveBookings(ctx context.Context) ([]*domain.Booking, error) {
	all, err := tx.store.FindBookingsByTrip(ctx, tx.trip.ID())
	if err != nil {
		return nil, err
	}
	var out []*domain.Booking
	for _, b := range all {
		if cached, ok := tx.loaded[b.ID()]; ok {
			b = cached
		} else {
			tx.remember(b)
		}
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memoryTx) remember(b *domain.Booking) {
	if tx.loaded == nil {
		tx.loaded = make(map[string]*domain.Booking)
	}
	tx.loaded[b.ID()] = b
}

func (tx *memoryTx) Update(booking *domain.Booking) {
	if _, ok := tx.staged[booking.ID()]; !ok {
		tx.order = append(tx.order, booking.ID())
	}
	tx.staged[booking.ID()] = booking
}
