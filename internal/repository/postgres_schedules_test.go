package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"singularity-sleep/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSchedulesRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSchedulesRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresSchedulesRepository(db)
}

func scheduleRowColumns() []string {
	return []string{
		"schedule_id", "user_id", "provider", "sync_time", "timezone",
		"enabled", "last_run_date", "created_at", "updated_at",
	}
}

func TestSchedulesGet_Success(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(scheduleRowColumns()).
		AddRow("sched-1", "user-1", "eight_sleep", "08:00", "America/New_York",
			true, "2026-08-30", now, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "eight_sleep").
		WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "user-1", "eight_sleep")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "08:00", s.SyncTime)
	assert.Equal(t, "America/New_York", s.Timezone)
	assert.True(t, s.Enabled)
	assert.Equal(t, "2026-08-30", s.LastRunDate)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulesGet_NotFoundReturnsNil(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "eight_sleep").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "user-1", "eight_sleep")
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulesUpsert(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO sync_schedules`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &domain.SyncSchedule{
		UserID:   "user-1",
		Provider: "eight_sleep",
		SyncTime: "08:00",
		Timezone: "UTC",
		Enabled:  true,
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulesUpdateSettings_NotFound(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sync_schedules`).
		WithArgs("user-1", "eight_sleep", "06:00", "UTC").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSettings(context.Background(), "user-1", "eight_sleep", "06:00", "UTC")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulesListEnabled(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(scheduleRowColumns()).
		AddRow("sched-1", "user-1", "eight_sleep", "08:00", "UTC", true, "", now, now).
		AddRow("sched-2", "user-2", "eight_sleep", "07:30", "Asia/Tokyo", true, "2026-08-31", now, now)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	schedules, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, "user-2", schedules[1].UserID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulesMarkRun(t *testing.T) {
	db, mock, repo := setupSchedulesRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sync_schedules`).
		WithArgs("sched-1", "2026-08-31").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRun(context.Background(), "sched-1", "2026-08-31"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
