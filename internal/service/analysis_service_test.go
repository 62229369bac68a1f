package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"singularity-sleep/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCorrelationsRepo struct {
	mu           sync.Mutex
	correlations map[string]*domain.Correlation // key: sessionID
}

func newFakeCorrelationsRepo() *fakeCorrelationsRepo {
	return &fakeCorrelationsRepo{correlations: map[string]*domain.Correlation{}}
}

func (r *fakeCorrelationsRepo) Upsert(ctx context.Context, corr *domain.Correlation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *corr
	r.correlations[corr.SessionID] = &cp
	return nil
}

func (r *fakeCorrelationsRepo) ListSince(ctx context.Context, userID, startDate string) ([]*domain.Correlation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Correlation
	for _, c := range r.correlations {
		if c.UserID == userID && c.Date >= startDate {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeActivityRepo struct {
	supplements map[string][]string // key: date
	routine     map[string][]string
	err         error
}

func (r *fakeActivityRepo) ListActiveSupplements(ctx context.Context, userID, date string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.supplements[date], nil
}

func (r *fakeActivityRepo) ListActiveRoutineItems(ctx context.Context, userID, date string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.routine[date], nil
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func seedSession(sessions *fakeSessionsRepo, date string, score int) {
	sessions.sessions["user-1/"+date] = &domain.SleepSession{
		SessionID:  "sess-" + date,
		UserID:     "user-1",
		Date:       date,
		SleepScore: intPtr(score),
		TimeSlept:  intPtr(420),
		HeartRate:  domain.VitalSummary{Avg: floatPtr(60)},
	}
}

type analysisFixture struct {
	svc          *analysisService
	sessions     *fakeSessionsRepo
	correlations *fakeCorrelationsRepo
	activity     *fakeActivityRepo
	kv           *memKV
	now          time.Time
}

func newAnalysisFixture(t *testing.T) *analysisFixture {
	t.Helper()
	f := &analysisFixture{
		sessions:     newFakeSessionsRepo(),
		correlations: newFakeCorrelationsRepo(),
		activity:     &fakeActivityRepo{supplements: map[string][]string{}, routine: map[string][]string{}},
		kv:           newMemKV(),
		now:          time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	svc := NewAnalysisService(f.sessions, f.correlations, f.activity, f.kv, zap.NewNop())
	f.svc = svc.(*analysisService)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestGetAnalysis_Empty(t *testing.T) {
	f := newAnalysisFixture(t)

	resp, err := f.svc.GetAnalysis(context.Background(), GetAnalysisRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Nights)
	assert.Nil(t, resp.AvgSleepScore)
	assert.Nil(t, resp.WokeBetween2And4Pct)
	assert.Nil(t, resp.BestNight)
}

func TestGetAnalysis_Aggregates(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-28", 70)
	seedSession(f.sessions, "2026-08-29", 90)
	seedSession(f.sessions, "2026-08-30", 80)
	f.sessions.sessions["user-1/2026-08-29"].WokeBetween2And4AM = true

	resp, err := f.svc.GetAnalysis(context.Background(), GetAnalysisRequest{UserID: "user-1", Days: 30})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Nights)
	require.NotNil(t, resp.AvgSleepScore)
	assert.InDelta(t, 80.0, *resp.AvgSleepScore, 0.001)
	require.NotNil(t, resp.AvgTimeSleptMinutes)
	assert.InDelta(t, 420.0, *resp.AvgTimeSleptMinutes, 0.001)
	require.NotNil(t, resp.AvgHeartRate)
	assert.InDelta(t, 60.0, *resp.AvgHeartRate, 0.001)

	assert.Equal(t, 1, resp.NightsWokeBetween2And4)
	require.NotNil(t, resp.WokeBetween2And4Pct)
	assert.InDelta(t, 33.3, *resp.WokeBetween2And4Pct, 0.001)

	require.NotNil(t, resp.BestNight)
	assert.Equal(t, "2026-08-29", resp.BestNight.Date)
	assert.Equal(t, 90, resp.BestNight.Score)
	require.NotNil(t, resp.WorstNight)
	assert.Equal(t, "2026-08-28", resp.WorstNight.Date)
}

func TestGetAnalysis_CachesResult(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-30", 80)

	first, err := f.svc.GetAnalysis(context.Background(), GetAnalysisRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, f.kv.data)

	// 缓存生效后，底层数据变化不反映在响应里
	seedSession(f.sessions, "2026-08-29", 40)
	second, err := f.svc.GetAnalysis(context.Background(), GetAnalysisRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Nights, second.Nights)

	// 失效后重新计算
	require.NoError(t, f.kv.DeletePrefix(context.Background(), analysisCachePrefix("user-1")))
	third, err := f.svc.GetAnalysis(context.Background(), GetAnalysisRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, third.Nights)
}

func TestGetTrends_MovingAverage(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-28", 60)
	seedSession(f.sessions, "2026-08-29", 70)
	seedSession(f.sessions, "2026-08-30", 80)

	resp, err := f.svc.GetTrends(context.Background(), GetTrendsRequest{UserID: "user-1", Days: 7})
	require.NoError(t, err)
	require.Len(t, resp.Points, 3)

	// fake repo 不保证顺序，按日期索引校验
	byDate := map[string]TrendPoint{}
	for _, p := range resp.Points {
		byDate[p.Date] = p
	}
	require.Contains(t, byDate, "2026-08-30")
	require.NotNil(t, byDate["2026-08-30"].SleepScore)
}

func TestGetCorrelations_ComparesScores(t *testing.T) {
	f := newAnalysisFixture(t)
	// magnesium 夜晚分数高，无 magnesium 夜晚分数低
	withDates := []string{"2026-08-20", "2026-08-21", "2026-08-22", "2026-08-23", "2026-08-24"}
	withoutDates := []string{"2026-08-25", "2026-08-26", "2026-08-27", "2026-08-28", "2026-08-29"}
	for _, d := range withDates {
		seedSession(f.sessions, d, 90)
		require.NoError(t, f.correlations.Upsert(context.Background(), &domain.Correlation{
			SessionID: "sess-" + d, UserID: "user-1", Date: d,
			ActiveSupplements: []string{"magnesium"},
		}))
	}
	for _, d := range withoutDates {
		seedSession(f.sessions, d, 70)
		require.NoError(t, f.correlations.Upsert(context.Background(), &domain.Correlation{
			SessionID: "sess-" + d, UserID: "user-1", Date: d,
			ActiveRoutineItems: []string{"reading"},
		}))
	}

	resp, err := f.svc.GetCorrelations(context.Background(), GetCorrelationsRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	// 排序后 magnesium 在 reading 前
	mag := resp.Items[0]
	assert.Equal(t, "magnesium", mag.Item)
	assert.Equal(t, "supplement", mag.Type)
	assert.Equal(t, 5, mag.NightsWith)
	assert.Equal(t, 5, mag.NightsWithout)
	require.NotNil(t, mag.AvgScoreWith)
	assert.InDelta(t, 90.0, *mag.AvgScoreWith, 0.001)
	require.NotNil(t, mag.AvgScoreWithout)
	assert.InDelta(t, 70.0, *mag.AvgScoreWithout, 0.001)
	require.NotNil(t, mag.ScoreDelta)
	assert.InDelta(t, 20.0, *mag.ScoreDelta, 0.001)
	assert.False(t, mag.InsufficientData)

	reading := resp.Items[1]
	assert.Equal(t, "routine", reading.Type)
}

func TestGetCorrelations_InsufficientData(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-30", 85)
	require.NoError(t, f.correlations.Upsert(context.Background(), &domain.Correlation{
		SessionID: "sess-2026-08-30", UserID: "user-1", Date: "2026-08-30",
		ActiveSupplements: []string{"melatonin"},
	}))

	resp, err := f.svc.GetCorrelations(context.Background(), GetCorrelationsRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].InsufficientData)
}

func TestBackfillCorrelations(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-29", 80)
	seedSession(f.sessions, "2026-08-30", 85)
	f.activity.supplements["2026-08-29"] = []string{"magnesium"}
	f.activity.routine["2026-08-30"] = []string{"reading"}

	result, err := f.svc.BackfillCorrelations(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SessionsProcessed)
	assert.Equal(t, 2, result.SnapshotsCreated)

	corr := f.correlations.correlations["sess-2026-08-29"]
	require.NotNil(t, corr)
	assert.Equal(t, []string{"magnesium"}, corr.ActiveSupplements)

	corr = f.correlations.correlations["sess-2026-08-30"]
	require.NotNil(t, corr)
	assert.Equal(t, []string{"reading"}, corr.ActiveRoutineItems)
}

func TestBackfillCorrelations_ActivityErrorSkips(t *testing.T) {
	f := newAnalysisFixture(t)
	seedSession(f.sessions, "2026-08-30", 85)
	f.activity.err = errors.New("query failed")

	result, err := f.svc.BackfillCorrelations(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SessionsProcessed)
	assert.Equal(t, 0, result.SnapshotsCreated)
	assert.Empty(t, f.correlations.correlations)
}
