package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-outreach/internal/prospects"
)

type appointmentsDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository stores scheduled appointments for the practice calendar.
type Repository struct {
	db appointmentsDB
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db appointmentsDB) *Repository {
	return &Repository{db: db}
}

var _ AppointmentSink = (*Repository)(nil)

// Save upserts an appointment row.
func (r *Repository) Save(ctx context.Context, appt prospects.Appointment) error {
	query := `
		INSERT INTO appointments (id, prospect_id, appointment_date, time_label, status, service, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, appt.ID, appt.ProspectID, appt.Date, appt.Time,
		string(appt.Status), appt.Service, appt.CreatedAt); err != nil {
		return fmt.Errorf("bookings: save appointment: %w", err)
	}
	return nil
}

// ListByDate returns appointments on the given calendar day ordered by creation.
func (r *Repository) ListByDate(ctx context.Context, day time.Time) ([]prospects.Appointment, error) {
	query := `
		SELECT id, prospect_id, appointment_date, time_label, status, service, created_at
		FROM appointments
		WHERE appointment_date = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("bookings: list by date: %w", err)
	}
	defer rows.Close()

	out := []prospects.Appointment{}
	for rows.Next() {
		var (
			appt   prospects.Appointment
			status string
		)
		if err := rows.Scan(&appt.ID, &appt.ProspectID, &appt.Date, &appt.Time, &status, &appt.Service, &appt.CreatedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		appt.Status = prospects.AppointmentStatus(status)
		out = append(out, appt)
	}
	return out, rows.Err()
}
