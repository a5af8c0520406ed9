package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/slotline/slotline/libs/db"
	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
	"github.com/slotline/slotline/services/scheduling-service/internal/model"
	"github.com/slotline/slotline/services/scheduling-service/internal/outbox"
	"github.com/slotline/slotline/services/scheduling-service/internal/scheduling"
)

// AppointmentRepository is the Postgres implementation of scheduling.Store.
// State changes and their outbox events commit in one transaction.
type AppointmentRepository struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, events *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, events: events}
}

var _ scheduling.Store = (*AppointmentRepository)(nil)

const appointmentColumns = `id, provider, slot_time, status, COALESCE(client, ''), reserved_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(&appt.ID, &appt.Provider, &appt.Time, &status, &appt.Client, &appt.ReservedAt, &appt.CreatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	return appt, nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fault.NotFound(
			"appointment %s not found, please confirm the appointment id and try again", id)
	}
	if err != nil {
		return model.Appointment{}, fault.Internal(err, "failed to load appointment")
	}
	return appt, nil
}

func (r *AppointmentRepository) ListAvailable(ctx context.Context, date *time.Time, provider string) ([]model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE status = 'available'`
	args := []any{}
	if provider != "" {
		args = append(args, provider)
		query += ` AND provider = $1`
	}
	if date != nil {
		dayStart := date.UTC().Truncate(24 * time.Hour)
		args = append(args, dayStart, dayStart.AddDate(0, 0, 1))
		query += ` AND slot_time >= $` + itoa(len(args)-1) + ` AND slot_time < $` + itoa(len(args))
	}
	query += ` ORDER BY slot_time ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fault.Internal(err, "failed to list available appointments")
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListReserved(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'reserved'
		ORDER BY slot_time ASC
	`)
	if err != nil {
		return nil, fault.Internal(err, "failed to list reserved appointments")
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// UpdateStateIf performs the guarded read-modify-write: the UPDATE matches on
// the expected prior status, so a row mutated by another instance between read
// and write falls through with ok=false instead of being clobbered.
func (r *AppointmentRepository) UpdateStateIf(ctx context.Context, id string, expect model.Status, mut scheduling.Mutation) (model.Appointment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, fault.Internal(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			client = NULLIF($4, ''),
			reserved_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, string(expect), string(mut.Status), mut.Client, mut.ReservedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, fault.Internal(err, "failed to update appointment")
	}

	if mut.Event != nil {
		if err := r.events.Insert(ctx, tx, *mut.Event); err != nil {
			return model.Appointment{}, false, fault.Internal(err, "failed to write outbox event")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, fault.Internal(err, "failed to commit")
	}
	return appt, true, nil
}

// ReplaceDaySlots runs the check/delete/insert sequence for a provider's day
// as one transaction. The FOR UPDATE read locks the existing rows, so two
// concurrent availability requests for the same (provider, day) serialize
// instead of double-writing the day. When no rows exist yet there is nothing
// to lock, and the slower of two first-time writers fails the unique index
// instead; that failure surfaces as the same conflict.
func (r *AppointmentRepository) ReplaceDaySlots(ctx context.Context, provider string, day time.Time, starts []time.Time, overwrite bool, evt *outbox.Event) error {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.AddDate(0, 0, 1)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fault.Internal(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id FROM appointments
		WHERE provider = $1 AND slot_time >= $2 AND slot_time < $3
		FOR UPDATE
	`, provider, dayStart, dayEnd)
	if err != nil {
		return fault.Internal(err, "failed to check existing availability")
	}
	existing := 0
	for rows.Next() {
		existing++
	}
	if rows.Err() != nil {
		rows.Close()
		return fault.Internal(rows.Err(), "failed to check existing availability")
	}
	rows.Close()

	if existing > 0 {
		if !overwrite {
			return fault.Conflict("availability already exists for provider %s on %s",
				provider, dayStart.Format("2006-01-02"))
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM appointments
			WHERE provider = $1 AND slot_time >= $2 AND slot_time < $3
		`, provider, dayStart, dayEnd); err != nil {
			return fault.Internal(err, "failed to delete existing availability")
		}
	}

	batch := &pgx.Batch{}
	for _, start := range starts {
		batch.Queue(`
			INSERT INTO appointments (id, provider, slot_time, status)
			VALUES ($1, $2, $3, 'available')
		`, uuid.NewString(), provider, start)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict("availability already exists for provider %s on %s",
				provider, dayStart.Format("2006-01-02"))
		}
		return fault.Internal(err, "failed to insert slots")
	}

	if evt != nil {
		if err := r.events.Insert(ctx, tx, *evt); err != nil {
			return fault.Internal(err, "failed to write outbox event")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fault.Internal(err, "failed to commit")
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fault.Internal(err, "failed to scan appointment")
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, fault.Internal(rows.Err(), "failed to read appointments")
	}
	return appts, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
// Two first-time writes for the same (provider, day) race past the FOR UPDATE
// check because there are no rows yet to lock; the loser of that race hits
// the (provider, slot_time) unique index and lands here.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
