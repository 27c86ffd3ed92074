package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carpool/internal/booking/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

// DB is the part of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements domain.Store on PostgreSQL. InTrip holds the trip
// row with SELECT ... FOR UPDATE and writes back with compare-and-set updates.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tripColumns = `id, owner_id, kind, origin, destination, description, price_per_seat,
	total_seats, available_seats, status, departure_time, created_at`

const bookingColumns = `id, trip_id, requester_id, seats_requested, status, created_at, resolved_at`

// SaveTrip persists a new trip
func (r *PostgresStore) SaveTrip(ctx context.Context, trip *domain.Trip) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		trip.ID(),
		trip.OwnerID(),
		string(trip.Kind()),
		trip.Origin(),
		trip.Destination(),
		trip.Description(),
		trip.PricePerSeat(),
		trip.TotalSeats(),
		trip.AvailableSeats(),
		trip.Status().String(),
		trip.DepartureTime(),
		trip.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (r *PostgresStore) FindTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, tripID)
	trip, err := scanTrip(row)
	if isNoRow(err) {
		return nil, domain.ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trip: %w", err)
	}
	return trip, nil
}

func (r *PostgresStore) FindOpenTrips(ctx context.Context, now time.Time) ([]*domain.Trip, error) {
	return r.queryTrips(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'OPEN' AND departure_time > $1
		ORDER BY departure_time ASC
	`, now)
}

func (r *PostgresStore) FindTripsByOwner(ctx context.Context, ownerID string) ([]*domain.Trip, error) {
	return r.queryTrips(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE owner_id = $1
		ORDER BY departure_time DESC
	`, ownerID)
}

func (r *PostgresStore) FindDepartedTripIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM trips
		WHERE status IN ('OPEN', 'FULL') AND departure_time <= $1
		ORDER BY departure_time ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query departed trips: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan departed trips: %w", err)
	}
	return ids, nil
}

func (r *PostgresStore) queryTrips(ctx context.Context, query string, args ...interface{}) ([]*domain.Trip, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// CreateBooking inserts a PENDING booking and its NEW_REQUEST event. The trip
// row is share-locked so a concurrent close cannot slip in between the
// status check and the insert.
func (r *PostgresStore) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM trips WHERE id = $1 FOR SHARE`, booking.TripID()).Scan(&status)
	if isNoRow(err) {
		return domain.ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("lock trip: %w", err)
	}
	if domain.TripStatus(status) != domain.TripOpen {
		return domain.ErrTripNotOpen
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		booking.ID(),
		booking.TripID(),
		booking.RequesterID(),
		booking.SeatsRequested(),
		booking.Status().String(),
		booking.CreatedAt(),
		booking.ResolvedAt(),
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := insertEvents(ctx, tx, booking.Events()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresStore) FindBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	b, err := scanBooking(row)
	if isNoRow(err) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query booking: %w", err)
	}
	return b, nil
}

func (r *PostgresStore) FindBookingsByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	return queryBookings(ctx, r.db, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE trip_id = $1
		ORDER BY created_at ASC
	`, tripID)
}

func (r *PostgresStore) FindBookingsByRequester(ctx context.Context, requesterID string) ([]*domain.Booking, error) {
	return queryBookings(ctx, r.db, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE requester_id = $1
		ORDER BY created_at DESC
	`, requesterID)
}

func (r *PostgresStore) FindEvents(ctx context.Context, bookingID string) ([]domain.BookingEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.kind, e.booking_id, e.trip_id, t.owner_id, b.requester_id,
			e.actor_id, e.seats, e.from_status, e.to_status, e.occurred_at
		FROM booking_events e
		JOIN bookings b ON b.id = e.booking_id
		JOIN trips t ON t.id = e.trip_id
		WHERE e.booking_id = $1
		ORDER BY e.seq ASC
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.BookingEvent
	for rows.Next() {
		var (
			e          domain.BookingEvent
			kind       string
			fromStatus string
			toStatus   string
		)
		if err := rows.Scan(
			&e.ID, &kind, &e.BookingID, &e.TripID, &e.OwnerID, &e.RequesterID,
			&e.ActorID, &e.Seats, &fromStatus, &toStatus, &e.At,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.FromStatus = domain.BookingStatus(fromStatus)
		e.ToStatus = domain.BookingStatus(toStatus)
		events = append(events, e)
	}
	return events, rows.Err()
}

// InTrip locks the trip row for the duration of fn and writes back the trip
// and every updated booking in the same transaction.
func (r *PostgresStore) InTrip(ctx context.Context, tripID string, fn func(tx domain.TripTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, tripID)
	trip, err := scanTrip(row)
	if isNoRow(err) {
		return domain.ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("lock trip: %w", err)
	}

	ttx := &postgresTx{
		tx:            tx,
		trip:          trip,
		expectedSeats: trip.AvailableSeats(),
		loaded:        make(map[string]*domain.Booking),
		loadedStatus:  make(map[string]domain.BookingStatus),
		staged:        make(map[string]*domain.Booking),
	}
	if err := fn(ttx); err != nil {
		return err
	}
	if err := ttx.flush(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx            pgx.Tx
	trip          *domain.Trip
	expectedSeats int
	loaded        map[string]*domain.Booking
	loadedStatus  map[string]domain.BookingStatus
	staged        map[string]*domain.Booking
	order         []string
}

func (t *postgresTx) Trip() *domain.Trip { return t.trip }

func (t *postgresTx) Booking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if b, ok := t.loaded[bookingID]; ok {
		return b, nil
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE id = $1 AND trip_id = $2
	`, bookingID, t.trip.ID())
	b, err := scanBooking(row)
	if isNoRow(err) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query booking: %w", err)
	}
	t.remember(b)
	return b, nil
}

func (t *postgresTx) ActiveBookings(ctx context.Context) ([]*domain.Booking, error) {
	rows, err := queryBookings(ctx, t.tx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE trip_id = $1 AND status IN ('PENDING', 'CONFIRMED')
		ORDER BY created_at ASC
	`, t.trip.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Booking, 0, len(rows))
	for _, b := range rows {
		if cached, ok := t.loaded[b.ID()]; ok {
			if cached.IsActive() {
				out = append(out, cached)
			}
			continue
		}
		t.remember(b)
		out = append(out, b)
	}
	return out, nil
}

func (t *postgresTx) remember(b *domain.Booking) {
	t.loaded[b.ID()] = b
	t.loadedStatus[b.ID()] = b.Status()
}

func (t *postgresTx) Update(booking *domain.Booking) {
	if _, ok := t.staged[booking.ID()]; !ok {
		t.order = append(t.order, booking.ID())
	}
	t.staged[booking.ID()] = booking
}

func (t *postgresTx) flush(ctx context.Context) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE trips
		SET available_seats = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND available_seats = $4
	`, t.trip.AvailableSeats(), t.trip.Status().String(), t.trip.ID(), t.expectedSeats)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrConcurrentUpdate
	}

	var events []domain.BookingEvent
	for _, id := range t.order {
		b := t.staged[id]
		from, ok := t.loadedStatus[id]
		if !ok {
			return fmt.Errorf("update booking %s: not loaded in this transaction", id)
		}
		tag, err := t.tx.Exec(ctx, `
			UPDATE bookings
			SET status = $1, resolved_at = $2, updated_at = NOW()
			WHERE id = $3 AND status = $4
		`, b.Status().String(), b.ResolvedAt(), id, from.String())
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrConcurrentUpdate
		}
		events = append(events, b.Events()...)
	}
	return insertEvents(ctx, t.tx, events)
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []domain.BookingEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO booking_events (id, booking_id, trip_id, kind, from_status, to_status, actor_id, seats, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.BookingID, e.TripID, string(e.Kind), e.FromStatus.String(), e.ToStatus.String(), e.ActorID, e.Seats, e.At)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert booking events: %w", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func queryBookings(ctx context.Context, q querier, query string, args ...interface{}) ([]*domain.Booking, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanTrip(row pgx.Row) (*domain.Trip, error) {
	var (
		id, ownerID, kind, origin, destination, description, status string
		price                                                       float64
		total, available                                            int
		departure, createdAt                                        time.Time
	)
	if err := row.Scan(
		&id, &ownerID, &kind, &origin, &destination, &description, &price,
		&total, &available, &status, &departure, &createdAt,
	); err != nil {
		return nil, err
	}
	return domain.ReconstructTrip(
		id, ownerID, domain.TripKind(kind), origin, destination, description,
		price, total, available, domain.TripStatus(status), departure, createdAt,
	), nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		id, tripID, requesterID, status string
		seats                           int
		createdAt                       time.Time
		resolvedAt                      *time.Time
	)
	if err := row.Scan(&id, &tripID, &requesterID, &seats, &status, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	return domain.ReconstructBooking(id, tripID, requesterID, seats, domain.BookingStatus(status), createdAt, resolvedAt), nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

// isNoRow also treats an id that is not a valid UUID as a missing row.
func isNoRow(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || hasCode(err, invalidTextRepresentation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
