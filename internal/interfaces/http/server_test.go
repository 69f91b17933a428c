package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/db"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

type fakeLauncher struct {
	mu     sync.Mutex
	calls  []string
	ctxErr error
	record launch.Record
	err    error
}

func (f *fakeLauncher) run(ctx context.Context, op, credential, postID string) (launch.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+credential+":"+postID)
	f.ctxErr = ctx.Err()
	return f.record, f.err
}

func (f *fakeLauncher) SubmitLaunch(ctx context.Context, credential, postID string) (launch.Record, error) {
	return f.run(ctx, "submit", credential, postID)
}

func (f *fakeLauncher) ResumeLaunch(ctx context.Context, credential, postID string) (launch.Record, error) {
	return f.run(ctx, "resume", credential, postID)
}

type fakeRecords struct {
	records []launch.Record
	filter  persistence.ListFilter
	err     error
}

func (f *fakeRecords) ByAsset(_ context.Context, assetID string) (launch.Record, error) {
	if f.err != nil {
		return launch.Record{}, f.err
	}
	for _, r := range f.records {
		if r.AssetID == assetID {
			return r, nil
		}
	}
	return launch.Record{}, persistence.ErrNotFound
}

func (f *fakeRecords) List(_ context.Context, filter persistence.ListFilter) ([]launch.Record, error) {
	f.filter = filter
	return f.records, f.err
}

type fakeLedgerHealth struct{ healthy bool }

func (f fakeLedgerHealth) Health(context.Context) db.HealthCheck {
	return db.HealthCheck{Healthy: f.healthy, Driver: "memory"}
}

var sampleRecord = launch.Record{
	AssetID:      "Asset111",
	AgentID:      "agent-1",
	Name:         "Foo",
	Symbol:       "FOO",
	SourcePostID: "post-1",
	MetadataURI:  "https://store.example/m/1",
	BroadcastProof: launch.BroadcastProof{
		Kind: launch.ProofBundle, ID: "bundle-1", Endpoint: "ny",
	},
	CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func newTestServer(l *fakeLauncher, recs *fakeRecords, health *Health) *Server {
	return NewServer(Config{LaunchTimeout: time.Minute}, Deps{
		Launcher: l,
		Records:  recs,
		Health:   health,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics\n")) }),
	})
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestSubmitLaunch(t *testing.T) {
	l := &fakeLauncher{record: sampleRecord}
	s := newTestServer(l, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/launches", `{"post_id":" post-1 "}`,
		map[string]string{"Authorization": "Bearer cred-1", "X-Request-ID": "req-42"})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))

	var resp LaunchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, sampleRecord, resp.Launch)
	assert.Equal(t, []string{"submit:cred-1:post-1"}, l.calls)
}

func TestSubmitLaunch_RequestRejections(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/launches", `{"post_id":"p"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, string(launch.KindAuthentication), decodeError(t, rr).Code)

	rr = do(t, s, http.MethodPost, "/v1/launches", `{"post_id":"p"}`, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	auth := map[string]string{"Authorization": "Bearer c"}
	for _, body := range []string{``, `{"post_id":""}`, `{"post":"p"}`, `not json`} {
		rr = do(t, s, http.MethodPost, "/v1/launches", body, auth)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestSubmitLaunch_FailureMapping(t *testing.T) {
	cases := []struct {
		kind   launch.Kind
		status int
	}{
		{launch.KindAuthentication, http.StatusUnauthorized},
		{launch.KindOwnershipMismatch, http.StatusForbidden},
		{launch.KindNotFound, http.StatusNotFound},
		{launch.KindTriggerMissing, http.StatusUnprocessableEntity},
		{launch.KindValidation, http.StatusUnprocessableEntity},
		{launch.KindDuplicateSymbol, http.StatusConflict},
		{launch.KindInProgress, http.StatusConflict},
		{launch.KindResumeUnavailable, http.StatusConflict},
		{launch.KindRateLimited, http.StatusTooManyRequests},
		{launch.KindCreation, http.StatusBadGateway},
		{launch.KindBroadcast, http.StatusBadGateway},
		{launch.KindSigning, http.StatusInternalServerError},
		{launch.KindLedger, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.status, StatusFor(tc.kind))
		})
	}
}

func TestSubmitLaunch_StrandedFailureBody(t *testing.T) {
	f := launch.NewFailure("run-1", "post-1", launch.StageBroadcast, launch.KindBroadcast, errors.New("all strategies failed"))
	f.AssetID = "Asset999"
	s := newTestServer(&fakeLauncher{err: f}, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/launches", `{"post_id":"post-1"}`, map[string]string{"Authorization": "Bearer c"})
	require.Equal(t, http.StatusBadGateway, rr.Code)

	resp := decodeError(t, rr)
	assert.Equal(t, string(launch.KindBroadcast), resp.Code)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, "Asset999", resp.Failure.AssetID)
	assert.Equal(t, launch.StageBroadcast, resp.Failure.Stage)
	assert.NotEmpty(t, resp.RequestID)
}

func TestSubmitLaunch_RateLimitedSetsRetryAfter(t *testing.T) {
	f := launch.NewFailure("run-1", "post-1", launch.StageAdmit, launch.KindRateLimited, launch.RateLimited(50*time.Hour))
	s := newTestServer(&fakeLauncher{err: f}, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/launches", `{"post_id":"post-1"}`, map[string]string{"Authorization": "Bearer c"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "259200", rr.Header().Get("Retry-After"))
	assert.Equal(t, 3, decodeError(t, rr).Failure.CooldownDays)
}

func TestSubmitLaunch_DetachedFromClient(t *testing.T) {
	l := &fakeLauncher{record: sampleRecord}
	s := newTestServer(l, &fakeRecords{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/launches", strings.NewReader(`{"post_id":"p"}`)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer c")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.NoError(t, l.ctxErr)
}

func TestResumeLaunch(t *testing.T) {
	l := &fakeLauncher{record: sampleRecord}
	s := newTestServer(l, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/launches/post-1/resume", "", map[string]string{"Authorization": "Bearer cred-1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"resume:cred-1:post-1"}, l.calls)
}

func TestListLaunches(t *testing.T) {
	recs := &fakeRecords{records: []launch.Record{sampleRecord}}
	s := newTestServer(&fakeLauncher{}, recs, nil)

	rr := do(t, s, http.MethodGet, "/v1/launches?agent_id=agent-1&limit=10&offset=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, persistence.ListFilter{AgentID: "agent-1", Limit: 10, Offset: 5}, recs.filter)

	for _, q := range []string{"limit=0", "limit=501", "limit=x", "offset=-1"} {
		rr = do(t, s, http.MethodGet, "/v1/launches?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestListLaunches_EmptyIsArray(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, nil)
	rr := do(t, s, http.MethodGet, "/v1/launches", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"launches":[]`)
}

func TestShowLaunch(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{records: []launch.Record{sampleRecord}}, nil)

	rr := do(t, s, http.MethodGet, "/v1/launches/Asset111", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"symbol":"FOO"`)

	rr = do(t, s, http.MethodGet, "/v1/launches/Nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "launch_not_found", decodeError(t, rr).Code)
}

func TestLedgerErrorsAreInternal(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{err: errors.New("disk I/O error")}, nil)

	rr := do(t, s, http.MethodGet, "/v1/launches/Asset111", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk I/O")
}

func TestHealth(t *testing.T) {
	h := NewHealth(fakeLedgerHealth{healthy: true}, "v1.2.3").WithActive(func() int { return 2 })
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, h)

	rr := do(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.Equal(t, 2, resp.ActiveLaunches)
}

func TestHealth_ProbeDegrades(t *testing.T) {
	h := NewHealth(fakeLedgerHealth{healthy: true}, "dev").
		WithProbe("journal", func(context.Context) error { return errors.New("connection refused") })
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, h)

	rr := do(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "fail", resp.Checks["journal"].Status)
}

func TestHealth_LedgerDownIsUnavailable(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, NewHealth(fakeLedgerHealth{}, "dev"))
	rr := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	s := newTestServer(&fakeLauncher{}, &fakeRecords{}, nil)

	rr := do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/v2/anything", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "endpoint_not_found", decodeError(t, rr).Code)

	rr = do(t, s, http.MethodDelete, "/v1/launches", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
