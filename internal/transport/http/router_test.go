package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagectl/internal/config"
	apierrors "stagectl/internal/errors"
	"stagectl/internal/infrastructure"
	"stagectl/internal/operations"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClass(name string, procno int) *operations.StageClass {
	return &operations.StageClass{
		Name:   name,
		Kind:   operations.KindStep,
		Procno: procno,
		New: func(operations.Binding) (operations.Stage, error) {
			return nil, nil
		},
	}
}

// newTracker returns a tracker with one succeeded, one failed and one
// running worker.
func newTracker() *operations.Tracker {
	tracker := operations.NewTracker()
	creator := testClass("statistics-creator", 1)
	measure := testClass("measure-statistics", 2)

	tracker.Add(operations.NewWorker(creator, 0, 1), operations.WorkerModeGoroutine).Finish(0, nil)
	tracker.Add(operations.NewWorker(measure, 0, 2), operations.WorkerModeGoroutine).Finish(1, nil)
	tracker.Add(operations.NewWorker(measure, 1, 2), operations.WorkerModeGoroutine).Start()
	return tracker
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		tracker    func() *operations.Tracker
		wantStatus string
		complete   bool
	}{
		{
			name:       "no workers",
			tracker:    operations.NewTracker,
			wantStatus: "ok",
			complete:   true,
		},
		{
			name: "workers still running",
			tracker: func() *operations.Tracker {
				tr := operations.NewTracker()
				tr.Add(operations.NewWorker(testClass("a", 1), 0, 1), operations.WorkerModeProcess).Start()
				return tr
			},
			wantStatus: "running",
		},
		{
			name:       "a worker failed",
			tracker:    newTracker,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterOptions{Workers: tt.tracker(), Version: "1.2.3", Logger: discardLogger()})

			rec := get(t, router, "/healthz")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "1.2.3", body.Version)
			assert.Equal(t, tt.complete, body.Complete)
			assert.Len(t, body.Workers, 4)
		})
	}
}

func TestWorkers(t *testing.T) {
	router := NewRouter(RouterOptions{Workers: newTracker(), Logger: discardLogger()})

	t.Run("list", func(t *testing.T) {
		rec := get(t, router, "/workers")
		require.Equal(t, http.StatusOK, rec.Code)

		var body WorkersResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, 3, body.Total)
		assert.Equal(t, "statistics-creator.0", body.Workers[0].ID)
		assert.Equal(t, operations.WorkerStatusSucceeded, body.Workers[0].Status)
		assert.Equal(t, operations.WorkerStatusFailed, body.Workers[1].Status)
		assert.Equal(t, 1, body.Workers[1].ExitStatus)
		assert.Equal(t, operations.WorkerStatusRunning, body.Workers[2].Status)
	})

	t.Run("empty list renders an array", func(t *testing.T) {
		empty := NewRouter(RouterOptions{Workers: operations.NewTracker(), Logger: discardLogger()})
		rec := get(t, empty, "/workers")
		assert.JSONEq(t, `{"workers":[],"total":0}`, rec.Body.String())
	})

	t.Run("one", func(t *testing.T) {
		rec := get(t, router, "/workers/measure-statistics.1")
		require.Equal(t, http.StatusOK, rec.Code)

		var snap operations.WorkerSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, "measure-statistics", snap.Stage)
		assert.Equal(t, 1, snap.Replica)
		assert.Equal(t, 2, snap.Replicas)
		assert.Equal(t, operations.WorkerModeGoroutine, snap.Mode)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := get(t, router, "/workers/nope.0")
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body apierrors.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "NOT_FOUND", body.Error.ErrorCode)
		assert.Equal(t, "worker nope.0 not found", body.Error.Message)
	})
}

func TestRouterFallbacks(t *testing.T) {
	router := NewRouter(RouterOptions{Workers: operations.NewTracker(), Logger: discardLogger()})

	rec := get(t, router, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics disabled without providers")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED")
}

func TestMetricsEndpoint(t *testing.T) {
	providers, err := infrastructure.InitializeOTel(config.TelemetryConfig{
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		SampleRatio:    1,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { providers.Shutdown(context.Background()) })

	router := NewRouter(RouterOptions{
		Workers:   newTracker(),
		Logger:    discardLogger(),
		Providers: providers,
	})

	get(t, router, "/healthz")
	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()
	router := NewRouter(RouterOptions{Workers: newTracker(), Logger: discardLogger()})
	srv := NewServer("127.0.0.1:0", router, discardLogger())

	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/workers/statistics-creator.0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/healthz")
	assert.Error(t, err)
}

func TestServerBadAddress(t *testing.T) {
	srv := NewServer("256.0.0.1:bad", http.NotFoundHandler(), discardLogger())
	assert.Error(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}
