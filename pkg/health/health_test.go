package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) report {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var r report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return r
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestLiveEndpoint_Passing(t *testing.T) {
	h := New()
	h.Liveness(Probe{Name: "goroutines", Check: GoroutineCountCheck(100000)})

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeReport(t, w).Status)
}

func TestProbe_FailAfterThreshold(t *testing.T) {
	h := New()
	h.Liveness(Probe{Name: "catalog", Check: PingCheck(pinger{err: errors.New("connection refused")})})
	p := h.liveness[0]
	ctx := context.Background()

	p.run(ctx)
	p.run(ctx)
	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code, "two failures stay below the threshold")

	p.run(ctx)
	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	r := decodeReport(t, w)
	assert.Equal(t, "unhealthy", r.Status)
	assert.Equal(t, "connection refused", r.Checks["catalog"])
}

func TestProbe_RecoversOnSuccess(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	check := func(context.Context) error {
		if failing.Load() {
			return errors.New("down")
		}
		return nil
	}

	h := New()
	h.Readiness(Probe{Name: "store", Check: check, FailAfter: 1})
	h.SetReady(true)
	p := h.readiness[0]

	p.run(context.Background())
	assert.False(t, h.IsReady())

	failing.Store(false)
	p.run(context.Background())
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_ManualFlag(t *testing.T) {
	h := New()
	h.Readiness(Probe{Name: "catalog", Check: PingCheck(pinger{})})

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", decodeReport(t, w).Checks["ready"])

	h.SetReady(true)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Readiness(Probe{Name: "count", Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestProbe_Timeout(t *testing.T) {
	h := New()
	h.Readiness(Probe{
		Name:      "slow",
		Timeout:   10 * time.Millisecond,
		FailAfter: 1,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h.SetReady(true)

	h.readiness[0].run(context.Background())
	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), decodeReport(t, w).Checks["slow"])
}

func TestDirWritableCheck(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, DirWritableCheck(dir)(context.Background()))
	assert.Error(t, DirWritableCheck(filepath.Join(dir, "missing"))(context.Background()))
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
