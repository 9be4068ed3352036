package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/metrics"
	"github.com/dyike/tradecouncil/internal/service"
	"github.com/dyike/tradecouncil/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHistory struct {
	records []models.SessionRecord
	err     error
}

func (f *fakeHistory) ListSessions(_ context.Context, cursor int64, limit int) ([]models.SessionRecord, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	start := int(cursor)
	end := min(start+limit, len(f.records))
	var next int64
	if end < len(f.records) {
		next = int64(end)
	}
	return f.records[start:end], next, nil
}

func (f *fakeHistory) GetSession(_ context.Context, id string) (*models.SessionRecord, error) {
	for _, r := range f.records {
		if r.Id == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) ListMessages(_ context.Context, id string) ([]models.MessageRecord, error) {
	return []models.MessageRecord{{SessionId: id, Role: "market_analyst", Kind: "report", Seq: 1}}, nil
}

func (f *fakeHistory) GetSnapshot(context.Context, string) (*models.Snapshot, error) {
	return nil, nil
}

// blockingRun starts the session and holds it running until cancelled.
func blockingRun(ctx context.Context, s *models.Session) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Cancel(models.Failure{Stage: s.Stage(), Message: ctx.Err().Error()})
	return ctx.Err()
}

type fixture struct {
	router   *gin.Engine
	registry *service.Registry
	history  *fakeHistory
}

func newFixture(t *testing.T, run service.RunFunc) *fixture {
	t.Helper()
	reg := service.NewRegistry(service.Defaults{Analysts: []consts.Role{consts.MarketAnalyst}, Rounds: 1}, time.Hour)
	t.Cleanup(reg.Close)
	hist := &fakeHistory{records: []models.SessionRecord{
		{Id: "a", Symbol: "NVDA"}, {Id: "b", Symbol: "AAPL"}, {Id: "c", Symbol: "TSLA"},
	}}
	promReg := prometheus.NewRegistry()
	metrics.New(promReg).SessionFinished(models.StatusCompleted)
	return &fixture{
		router: NewRouter(Deps{
			Registry: reg,
			History:  service.NewHistory(hist),
			Run:      run,
			Gatherer: promReg,
			Sources:  func() []string { return []string{"yahoo"} },
		}),
		registry: reg,
		history:  hist,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, blockingRun)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"yahoo"}, body["data_sources"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, blockingRun)
	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `council_sessions_total{status="completed"} 1`)
}

func TestStartGetAndCancelAnalysis(t *testing.T) {
	f := newFixture(t, blockingRun)

	w := f.do(t, http.MethodPost, "/v1/analyses", `{"ticker":"nvda","trade_date":"2025-03-14","analysts":["news"]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[models.AnalysisStarted](t, w)
	require.NotEmpty(t, started.SessionID)
	assert.Equal(t, "/v1/analyses/"+started.SessionID, w.Header().Get("Location"))

	require.Eventually(t, func() bool {
		snap, err := f.registry.Get(started.SessionID)
		return err == nil && snap.Status == models.StatusRunning
	}, time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodGet, "/v1/analyses/"+started.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[models.Snapshot](t, w)
	assert.Equal(t, "NVDA", snap.Ticker)
	assert.Equal(t, "2025-03-14", snap.TradeDate)
	assert.Equal(t, []consts.Role{consts.NewsAnalyst}, snap.Analysts)

	w = f.do(t, http.MethodGet, "/v1/analyses", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]models.Snapshot](t, w)["items"], 1)

	w = f.do(t, http.MethodDelete, "/v1/analyses/"+started.SessionID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/v1/analyses/"+started.SessionID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartAnalysisValidation(t *testing.T) {
	f := newFixture(t, blockingRun)
	for name, body := range map[string]string{
		"not json":    `{`,
		"no ticker":   `{"trade_date":"2025-03-14"}`,
		"bad date":    `{"ticker":"NVDA","trade_date":"14/03/2025"}`,
		"bad analyst": `{"ticker":"NVDA","analysts":["tarot"]}`,
	} {
		w := f.do(t, http.MethodPost, "/v1/analyses", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
	assert.Equal(t, 0, f.registry.Len())
}

func TestStartAfterClose(t *testing.T) {
	f := newFixture(t, blockingRun)
	f.registry.Close()
	w := f.do(t, http.MethodPost, "/v1/analyses", `{"ticker":"NVDA"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnknownAnalysis(t *testing.T) {
	f := newFixture(t, blockingRun)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/analyses/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/analyses/nope", "").Code)
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t, blockingRun)

	w := f.do(t, http.MethodGet, "/v1/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.HistoryPage](t, w)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "2", page.NextCursor)

	w = f.do(t, http.MethodGet, "/v1/history?limit=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[models.HistoryPage](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "TSLA", page.Items[0].Symbol)
	assert.Empty(t, page.NextCursor)

	w = f.do(t, http.MethodGet, "/v1/history?cursor=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryDetail(t *testing.T) {
	f := newFixture(t, blockingRun)

	w := f.do(t, http.MethodGet, "/v1/history/b", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[models.HistoryDetail](t, w)
	assert.Equal(t, "AAPL", detail.Session.Symbol)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "b", detail.Messages[0].SessionId)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/history/zzz", "").Code)
}

func TestHistoryStoreErrorIsHidden(t *testing.T) {
	f := newFixture(t, blockingRun)
	f.history.err = errors.New("disk on fire")
	w := f.do(t, http.MethodGet, "/v1/history", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "disk"))
}

func TestHistoryRoutesNeedArchive(t *testing.T) {
	reg := service.NewRegistry(service.Defaults{}, time.Hour)
	defer reg.Close()
	router := NewRouter(Deps{Registry: reg, Run: blockingRun})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
