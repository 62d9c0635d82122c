package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/reimbursement-engine/export"
	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/ledger/store"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/pipeline"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var now = time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeSyncer struct {
	run    ledger.SyncRun
	daily  pipeline.DailyResult
	err    error
	calls  int
	ranges [][2]time.Time

	// optional: RunDaily closes entered, then waits on release
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSyncer) RunSync(_ context.Context, start, end time.Time) (ledger.SyncRun, error) {
	f.calls++
	f.ranges = append(f.ranges, [2]time.Time{start, end})
	return f.run, f.err
}

func (f *fakeSyncer) RunDaily(context.Context) (pipeline.DailyResult, error) {
	f.calls++
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	return f.daily, f.err
}

type testServer struct {
	http   *httptest.Server
	store  *store.Memory
	syncer *fakeSyncer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	obs := observe.New(logger, reg)
	mem := store.NewMemory()
	costs := ledger.NewCostBook(decimal.NewFromInt(5), nil)
	syncer := &fakeSyncer{}

	h := NewHandler(
		ledger.NewService(mem, costs, obs, clock),
		ledger.NewSweeper(mem, obs, clock),
		syncer, mem, costs, logger,
	)
	srv := httptest.NewServer(NewRouter(h, RouterOptions{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testServer{http: srv, store: mem, syncer: syncer}
}

func (ts *testServer) seed(t *testing.T, id, fnsku string, daysOld int, status ledger.Status, unreconciled int) {
	t.Helper()
	require.NoError(t, ts.store.Insert(context.Background(), ledger.Event{
		ID: id,
		EventData: ledger.EventData{
			EventDate:            ledger.Day(now).AddDate(0, 0, -daysOld),
			FNSKU:                fnsku,
			ASIN:                 "B0" + fnsku,
			SKU:                  "SKU-" + fnsku,
			EventType:            ledger.EventAdjustments,
			Quantity:             -unreconciled,
			FulfillmentCenter:    ledger.StrPtr("PHX7"),
			UnreconciledQuantity: unreconciled,
			Country:              "US",
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// INGESTION
// =============================================================================

func TestSync_ReturnsCounts(t *testing.T) {
	ts := newTestServer(t)
	ts.syncer.run = ledger.SyncRun{ReportID: "R1", Counts: ledger.Counts{ProcessedCount: 2, NewEventsCount: 2}}

	resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/sync", map[string]string{
		"dataStartTime": "2025-08-01T00:00:00Z",
		"dataEndTime":   "2025-08-02T00:00:00Z",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[SyncResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "R1", body.Data.ReportID)
	assert.Equal(t, 2, body.Data.NewEventsCount)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), ts.syncer.ranges[0][0])
}

func TestSync_RejectsMissingOrReversedRange(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []map[string]string{
		{"dataStartTime": "2025-08-01T00:00:00Z"},
		{"dataStartTime": "2025-08-02T00:00:00Z", "dataEndTime": "2025-08-01T00:00:00Z"},
	} {
		resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/sync", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Zero(t, ts.syncer.calls)
}

func TestSync_MapsErrorsToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"report failed", &pipeline.StageError{Stage: pipeline.StagePoll, Err: &ledger.ReportFailedError{ReportID: "R1", Status: "FATAL"}}, http.StatusBadGateway},
		{"timeout", &pipeline.StageError{Stage: pipeline.StagePoll, Err: &ledger.ReportTimeoutError{ReportID: "R1"}}, http.StatusGatewayTimeout},
		{"in progress", &pipeline.StageError{Stage: pipeline.StageLock, Err: ledger.ErrSyncInProgress}, http.StatusConflict},
		{"decode", &pipeline.StageError{Stage: pipeline.StageDecode, Err: &ledger.DecodeError{Source: "document", Reason: "empty"}}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.syncer.err = tc.err

			resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/sync", map[string]string{
				"dataStartTime": "2025-08-01T00:00:00Z",
				"dataEndTime":   "2025-08-02T00:00:00Z",
			})

			assert.Equal(t, tc.want, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, "Sync failed", body.Error)
			assert.NotEmpty(t, body.Details)
		})
	}
}

func TestUpdateStatuses_Sweeps(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "X1", 8, ledger.StatusWaiting, 2)

	resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/update-statuses", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[SweepResponse](t, resp)
	assert.Equal(t, 1, body.Data.WaitingToClaimable)
}

func TestAutomationSync(t *testing.T) {
	ts := newTestServer(t)
	ts.syncer.daily = pipeline.DailyResult{Sync: ledger.SyncRun{ReportID: "R9"}}

	resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/automation/sync", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "R9", decode[DailyResponse](t, resp).Data.Sync.ReportID)
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.SaveRun(context.Background(), ledger.RunRecord{
		ID: "run-1", Kind: "K", State: ledger.RunCompleted, ReportID: "R1", StartedAt: now,
	}))

	resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/runs", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]RunDTO](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestListEvents_FiltersAndPages(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "AA1", 10, ledger.StatusClaimable, 1)
	ts.seed(t, "e2", "AA2", 9, ledger.StatusClaimable, 1)
	ts.seed(t, "e3", "BB3", 2, ledger.StatusWaiting, 1)

	resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/?status=claimable&fnsku=aa&limit=1&page=2", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[EventListResponse](t, resp)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 2, body.TotalPages)
	assert.Equal(t, 2, body.Page)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "AA1", body.Events[0].FNSKU)
	assert.Equal(t, "CLAIMABLE", body.Events[0].Status)
}

func TestListEvents_BadInput(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"?status=LOST", "?dateFrom=yesterday", "?page=x"} {
		resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "X1", 10, ledger.StatusClaimable, 3)
	ts.seed(t, "e2", "X2", 2, ledger.StatusWaiting, 4)

	resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/stats", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(3), body["totalClaimableUnits"])
	assert.Equal(t, float64(4), body["totalWaiting"])
	assert.Equal(t, "15", body["totalEstimatedValue"])
}

func TestClaimableAndExport(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "X1", 10, ledger.StatusClaimable, 3)
	ts.seed(t, "e2", "X2", 2, ledger.StatusWaiting, 4)

	resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/claimable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]EventDTO](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)

	resp = ts.do(t, http.MethodGet, "/api/inventory-ledger/claimable/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestClaimText(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "X1", 10, ledger.StatusClaimable, 3)

	resp := ts.do(t, http.MethodGet, "/api/inventory-ledger/e1/claim-text", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[ClaimTextResponse](t, resp).ClaimText, "FNSKU X1 (ASIN B0X1) lost in FC PHX7")

	resp = ts.do(t, http.MethodGet, "/api/inventory-ledger/missing/claim-text", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// OPERATOR ACTIONS
// =============================================================================

func TestClaimThenPaid(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "e1", "X1", 10, ledger.StatusClaimable, 3)

	// Paying before claiming conflicts
	resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/e1/paid", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/inventory-ledger/e1/claim", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CLAIMED", decode[EventDTO](t, resp).Status)

	resp = ts.do(t, http.MethodPost, "/api/inventory-ledger/e1/paid", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PAID", decode[EventDTO](t, resp).Status)
}

func TestCleanup(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Insert(context.Background(), ledger.Event{
		ID: "old",
		EventData: ledger.EventData{
			EventDate: now.AddDate(0, 0, -200), FNSKU: "X1", ASIN: "B1", EventType: ledger.EventAdjustments,
		},
		Status:    ledger.StatusResolved,
		UpdatedAt: now.AddDate(0, 0, -40),
	}))

	resp := ts.do(t, http.MethodPost, "/api/inventory-ledger/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CleanupResponse{Deleted: 0, RetentionDays: 90}, decode[CleanupResponse](t, resp))

	resp = ts.do(t, http.MethodPost, "/api/inventory-ledger/cleanup?days=30", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[CleanupResponse](t, resp).Deleted)

	resp = ts.do(t, http.MethodPost, "/api/inventory-ledger/cleanup?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
