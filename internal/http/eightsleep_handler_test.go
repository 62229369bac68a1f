package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"singularity-sleep/internal/domain"
	"singularity-sleep/internal/eightsleep"
	"singularity-sleep/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEightSleepService 可编程的服务替身
type stubEightSleepService struct {
	connectResp *service.ConnectResponse
	connectErr  error

	disconnectErr error

	statusResp *service.StatusResponse

	syncResp *service.SyncResult
	syncErr  error

	settingsErr error

	sessionsResp *service.GetSessionsResponse
	detailResp   *domain.SleepSession
	exportResp   []*domain.SleepSession

	lastSyncReq service.SyncRequest
}

func (s *stubEightSleepService) Connect(ctx context.Context, req service.ConnectRequest) (*service.ConnectResponse, error) {
	return s.connectResp, s.connectErr
}

func (s *stubEightSleepService) Disconnect(ctx context.Context, userID string) error {
	return s.disconnectErr
}

func (s *stubEightSleepService) GetStatus(ctx context.Context, userID string) (*service.StatusResponse, error) {
	return s.statusResp, nil
}

func (s *stubEightSleepService) Sync(ctx context.Context, req service.SyncRequest) (*service.SyncResult, error) {
	s.lastSyncReq = req
	return s.syncResp, s.syncErr
}

func (s *stubEightSleepService) UpdateSettings(ctx context.Context, req service.UpdateSettingsRequest) error {
	return s.settingsErr
}

func (s *stubEightSleepService) GetSessions(ctx context.Context, req service.GetSessionsRequest) (*service.GetSessionsResponse, error) {
	return s.sessionsResp, nil
}

func (s *stubEightSleepService) GetSessionDetail(ctx context.Context, userID, sessionID string) (*domain.SleepSession, error) {
	return s.detailResp, nil
}

func (s *stubEightSleepService) ExportSessions(ctx context.Context, userID, startDate string) ([]*domain.SleepSession, error) {
	return s.exportResp, nil
}

type stubAnalysisService struct {
	analysisResp     *service.AnalysisResponse
	trendsResp       *service.TrendsResponse
	correlationsResp *service.CorrelationsResponse
	backfillResp     *service.BackfillResult
}

func (s *stubAnalysisService) GetAnalysis(ctx context.Context, req service.GetAnalysisRequest) (*service.AnalysisResponse, error) {
	return s.analysisResp, nil
}

func (s *stubAnalysisService) GetTrends(ctx context.Context, req service.GetTrendsRequest) (*service.TrendsResponse, error) {
	return s.trendsResp, nil
}

func (s *stubAnalysisService) GetCorrelations(ctx context.Context, req service.GetCorrelationsRequest) (*service.CorrelationsResponse, error) {
	return s.correlationsResp, nil
}

func (s *stubAnalysisService) BackfillCorrelations(ctx context.Context, userID string) (*service.BackfillResult, error) {
	return s.backfillResp, nil
}

func newTestRouter(es *stubEightSleepService, as *stubAnalysisService) *Router {
	logger := zap.NewNop()
	handler := NewEightSleepHandler(es, as, logger)
	router := NewRouter(logger)
	router.RegisterEightSleepRoutes(handler)
	return router
}

func doRequest(router *Router, method, path, userID, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestConnectEndpoint(t *testing.T) {
	es := &stubEightSleepService{
		connectResp: &service.ConnectResponse{DeviceID: "device-1", BedSide: "left"},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/connect", "user-1",
		`{"email":"a@b.com","password":"secret"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Eight Sleep connected", body["message"])
	assert.Equal(t, "device-1", body["device_id"])
	assert.Equal(t, "left", body["bed_side"])
}

func TestConnectEndpoint_MissingCredentials(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/connect", "user-1",
		`{"email":"a@b.com"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "password")
}

func TestConnectEndpoint_InvalidVendorCredentials(t *testing.T) {
	es := &stubEightSleepService{connectErr: &eightsleep.AuthError{Message: "login"}}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/connect", "user-1",
		`{"email":"a@b.com","password":"wrong"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "invalid Eight Sleep credentials", body["error"])
}

func TestConnectEndpoint_AlreadyConnected(t *testing.T) {
	es := &stubEightSleepService{connectErr: service.ErrAlreadyConnected}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/connect", "user-1",
		`{"email":"a@b.com","password":"secret"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEndpoints_RequireUserHeader(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	paths := []struct {
		method, path string
	}{
		{http.MethodPost, "/eightsleep/api/v1/connect"},
		{http.MethodGet, "/eightsleep/api/v1/status"},
		{http.MethodPost, "/eightsleep/api/v1/sync"},
		{http.MethodGet, "/eightsleep/api/v1/sessions"},
		{http.MethodGet, "/eightsleep/api/v1/analysis"},
	}
	for _, p := range paths {
		w := doRequest(router, p.method, p.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, p.path)
	}
}

func TestStatusEndpoint(t *testing.T) {
	es := &stubEightSleepService{
		statusResp: &service.StatusResponse{
			Connected:      true,
			LastSyncStatus: domain.SyncStatusSuccess,
			BedSide:        "left",
		},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/status", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "success", body["last_sync_status"])
}

func TestSyncEndpoint(t *testing.T) {
	es := &stubEightSleepService{
		syncResp: &service.SyncResult{Success: true, RecordsSynced: 3, SkippedIncomplete: 1},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/sync", "user-1",
		`{"initial_sync":true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(3), body["records_synced"])
	assert.True(t, es.lastSyncReq.InitialSync)
}

func TestSyncEndpoint_NotConnected(t *testing.T) {
	es := &stubEightSleepService{
		syncResp: &service.SyncResult{Success: false, Error: service.ErrNotConnected.Error()},
		syncErr:  service.ErrNotConnected,
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/sync", "user-1", `{}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Eight Sleep not connected", body["error"])
}

func TestSyncEndpoint_InvalidDate(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/sync", "user-1",
		`{"from_date":"08/01/2026"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncEndpoint_FailureReturnsResult(t *testing.T) {
	es := &stubEightSleepService{
		syncResp: &service.SyncResult{Success: false, Error: "vendor unavailable"},
		syncErr:  &eightsleep.NetworkError{},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/sync", "user-1", `{}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "vendor unavailable", body["error"])
}

func TestSessionsEndpoint(t *testing.T) {
	score := 85
	es := &stubEightSleepService{
		sessionsResp: &service.GetSessionsResponse{
			Items: []*domain.SleepSession{
				{SessionID: "sess-1", Date: "2026-08-30", SleepScore: &score},
			},
			Total: 1, Page: 1, Size: 10,
		},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/sessions?page=1&size=10", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["total"])
}

func TestSessionDetailEndpoint_NotFound(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/sessions/sess-404", "user-1", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionDetailEndpoint(t *testing.T) {
	es := &stubEightSleepService{
		detailResp: &domain.SleepSession{SessionID: "sess-1", Date: "2026-08-30"},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/sessions/sess-1", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "sess-1", body["session_id"])
}

func TestExportEndpoint(t *testing.T) {
	es := &stubEightSleepService{
		exportResp: []*domain.SleepSession{{SessionID: "sess-1", Date: "2026-08-30"}},
	}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/sessions/export", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodPatch, "/eightsleep/api/v1/settings", "user-1",
		`{"sync_time":"06:30","timezone":"Asia/Tokyo"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "settings updated", body["message"])
}

func TestUpdateSettingsEndpoint_NotConnected(t *testing.T) {
	es := &stubEightSleepService{settingsErr: service.ErrNotConnected}
	router := newTestRouter(es, &stubAnalysisService{})

	w := doRequest(router, http.MethodPatch, "/eightsleep/api/v1/settings", "user-1",
		`{"sync_time":"06:30"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisEndpoint(t *testing.T) {
	avg := 82.5
	as := &stubAnalysisService{
		analysisResp: &service.AnalysisResponse{Days: 30, Nights: 12, AvgSleepScore: &avg},
	}
	router := newTestRouter(&stubEightSleepService{}, as)

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/analysis?days=30", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(12), body["nights"])
	assert.Equal(t, 82.5, body["avg_sleep_score"])
}

func TestBackfillEndpoint(t *testing.T) {
	as := &stubAnalysisService{
		backfillResp: &service.BackfillResult{SessionsProcessed: 4, SnapshotsCreated: 4},
	}
	router := newTestRouter(&stubEightSleepService{}, as)

	w := doRequest(router, http.MethodPost, "/eightsleep/api/v1/correlations/backfill", "user-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(4), body["snapshots_created"])
}

func TestTimezonesEndpoint(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/timezones", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	zones, ok := body["timezones"].([]any)
	require.True(t, ok)
	assert.Contains(t, zones, "UTC")
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(&stubEightSleepService{}, &stubAnalysisService{})

	w := doRequest(router, http.MethodGet, "/eightsleep/api/v1/connect", "user-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doRequest(router, http.MethodPost, "/eightsleep/api/v1/status", "user-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
