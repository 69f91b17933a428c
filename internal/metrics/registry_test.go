package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

func TestLaunchLifecycle(t *testing.T) {
	r := NewRegistry(false)

	r.LaunchStarted()
	r.LaunchStarted()
	assert.Equal(t, 2, r.Active())

	r.LaunchFinished(nil)
	stranded := launch.NewFailure("run", "post", launch.StageBroadcast, launch.KindBroadcast, errors.New("all relays down"))
	stranded.AssetID = "Mint"
	r.LaunchFinished(stranded)

	assert.Equal(t, 0, r.Active())
	assert.Equal(t, 2.0, testutil.ToFloat64(r.TotalLaunches))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Outcomes.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Outcomes.WithLabelValues(string(launch.KindBroadcast))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Stranded))
}

func TestEarlyFailureIsNotStranded(t *testing.T) {
	r := NewRegistry(false)
	r.LaunchStarted()
	r.LaunchFinished(launch.NewFailure("run", "post", launch.StageAdmit, launch.KindLedger, launch.ErrDuplicateSymbol))

	assert.Equal(t, 0.0, testutil.ToFloat64(r.Stranded))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Outcomes.WithLabelValues(string(launch.KindDuplicateSymbol))))
}

func TestBroadcastObserver(t *testing.T) {
	r := NewRegistry(false)
	r.RelayAttempt("ams", false, 120*time.Millisecond)
	r.RelayAttempt("ams", true, 80*time.Millisecond)
	r.RelayAttempt("ny", false, time.Second)
	r.BroadcastPath(launch.ProofBundle)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RelayAttempts.WithLabelValues("ams", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RelayAttempts.WithLabelValues("ams", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Paths.WithLabelValues("bundle")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.RelayLatency))
}

func TestStageTimer(t *testing.T) {
	r := NewRegistry(false)
	r.StartStage(launch.StageCreate).Stop(ResultSuccess)
	r.StartStage(launch.StageSign).Stop(ResultError)

	assert.Equal(t, 2, testutil.CollectAndCount(r.StageDuration, "postlaunch_stage_duration_seconds"))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRegistry(true)
	r.LaunchStarted()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "postlaunch_active_launches 1")
	assert.Contains(t, body, "go_goroutines")

	expected := `
# HELP postlaunch_launches_total Launch runs started, including resumes
# TYPE postlaunch_launches_total counter
postlaunch_launches_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "postlaunch_launches_total"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry(false)
	b := NewRegistry(false)
	a.LaunchStarted()
	assert.Equal(t, 0, b.Active())
}
