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

func setupSessionsRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSessionsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresSessionsRepository(db)
}

// sessionRowColumns 与 sessionColumns 的列顺序一致
func sessionRowColumns() []string {
	return []string{
		"session_id", "user_id", "date",
		"sleep_score", "time_slept",
		"light_sleep_minutes", "deep_sleep_minutes", "rem_sleep_minutes", "awake_minutes",
		"light_sleep_pct", "deep_sleep_pct", "rem_sleep_pct", "awake_pct",
		"wake_events", "wake_event_times",
		"woke_between_2_and_4_am", "wake_time_between_2_and_4_am",
		"avg_heart_rate", "min_heart_rate", "max_heart_rate",
		"avg_hrv", "min_hrv", "max_hrv",
		"avg_breath_rate", "min_breath_rate", "max_breath_rate",
		"avg_bed_temp", "avg_room_temp", "avg_room_humidity",
		"toss_and_turn_count", "time_to_fall_asleep",
		"session_start", "session_end", "raw_payload",
		"created_at", "updated_at",
	}
}

func addSampleRow(rows *sqlmock.Rows, now time.Time) {
	rows.AddRow(
		"sess-1", "user-1", "2026-08-30",
		85, 420,
		240, 120, 60, 20,
		54.5, 27.3, 13.6, 4.5,
		2, `["2026-08-31T02:10:00Z"]`,
		true, now,
		60.5, 55.0, 71.0,
		nil, nil, nil,
		14.2, 12.0, 16.5,
		nil, 21.5, nil,
		40, nil,
		now, now, `{"id":"iv-1"}`,
		now, now,
	)
}

func TestSessionsGet_Success(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows(sessionRowColumns())
	addSampleRow(rows, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "sess-1").
		WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, "2026-08-30", s.Date)
	require.NotNil(t, s.SleepScore)
	assert.Equal(t, 85, *s.SleepScore)
	require.NotNil(t, s.TimeSlept)
	assert.Equal(t, 420, *s.TimeSlept)
	require.NotNil(t, s.LightSleepPct)
	assert.InDelta(t, 54.5, *s.LightSleepPct, 0.001)
	assert.Equal(t, 2, s.WakeEvents)
	require.Len(t, s.WakeEventTimes, 1)
	assert.True(t, s.WokeBetween2And4AM)

	require.NotNil(t, s.HeartRate.Avg)
	assert.InDelta(t, 60.5, *s.HeartRate.Avg, 0.001)
	// 无数据的时序摘要保持 nil
	assert.Nil(t, s.HRV.Avg)
	assert.Nil(t, s.AvgBedTemp)
	assert.Nil(t, s.AvgRoomHumidity)
	assert.Nil(t, s.TimeToFallAsleep)
	require.NotNil(t, s.TossAndTurnCount)
	assert.Equal(t, 40, *s.TossAndTurnCount)

	assert.Equal(t, `{"id":"iv-1"}`, s.RawPayload)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsGet_NotFoundReturnsNil(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "sess-404").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "user-1", "sess-404")
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsUpsert(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO sleep_sessions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	score := 85
	session := &domain.SleepSession{
		UserID:     "user-1",
		Date:       "2026-08-30",
		SleepScore: &score,
	}
	require.NoError(t, repo.Upsert(context.Background(), session))

	// 未提供 session_id 时生成 UUID
	assert.NotEmpty(t, session.SessionID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsUpsert_RequiresUserAndDate(t *testing.T) {
	db, _, repo := setupSessionsRepo(t)
	defer db.Close()

	assert.Error(t, repo.Upsert(context.Background(), &domain.SleepSession{Date: "2026-08-30"}))
	assert.Error(t, repo.Upsert(context.Background(), &domain.SleepSession{UserID: "user-1"}))
	assert.Error(t, repo.Upsert(context.Background(), nil))
}

func TestSessionsList(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("user-1", "2026-08-01", "2026-08-31").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(sessionRowColumns())
	addSampleRow(rows, now)
	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "2026-08-01", "2026-08-31", 10, 0).
		WillReturnRows(rows)

	sessions, total, err := repo.List(context.Background(), "user-1", "2026-08-01", "2026-08-31", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].SessionID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsListSince_Empty(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1", "2026-08-01").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

	sessions, err := repo.ListSince(context.Background(), "user-1", "2026-08-01")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsListWithoutCorrelation(t *testing.T) {
	db, mock, repo := setupSessionsRepo(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows(sessionRowColumns())
	addSampleRow(rows, now)

	mock.ExpectQuery(`NOT EXISTS`).
		WithArgs("user-1").
		WillReturnRows(rows)

	sessions, err := repo.ListWithoutCorrelation(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}
