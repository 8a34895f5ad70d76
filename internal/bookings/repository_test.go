package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-outreach/internal/prospects"
)

func TestRepositorySave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := prospects.Appointment{
		ID:         "a1",
		ProspectID: "p1",
		Date:       time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Time:       "3:00 PM",
		Status:     prospects.AppointmentScheduled,
		Service:    "exam",
		CreatedAt:  monday,
	}
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(appt.ID, appt.ProspectID, appt.Date, appt.Time, "scheduled", appt.Service, appt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewRepositoryWithDB(mock)
	require.NoError(t, repo.Save(context.Background(), appt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySaveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO appointments").WillReturnError(errors.New("boom"))
	repo := NewRepositoryWithDB(mock)
	err = repo.Save(context.Background(), prospects.Appointment{ID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bookings: save appointment")
}

func TestRepositoryListByDate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "prospect_id", "appointment_date", "time_label", "status", "service", "created_at"}).
		AddRow("a1", "p1", day, "2:00 PM", "scheduled", "exam", monday).
		AddRow("a2", "p2", day, "3:00 PM", "cancelled", "", monday.Add(time.Minute))
	mock.ExpectQuery("SELECT id, prospect_id").WithArgs("2026-03-03").WillReturnRows(rows)

	repo := NewRepositoryWithDB(mock)
	out, err := repo.ListByDate(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2:00 PM", out[0].Time)
	assert.Equal(t, prospects.AppointmentCancelled, out[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
