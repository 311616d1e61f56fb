package picota

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:       baseURL,
		token:         "test-token",
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollInterval:  5 * time.Millisecond,
		retryInterval: time.Millisecond,
	}
}

func testManifest() Manifest {
	return Manifest{
		DatasetName: "multivariate_20210615_120000",
		DatasetPath: "results/multivariate_20210615_120000.csv",
		Checksum:    "deadbeef",
		Features:    []string{"env.sst", "env.par"},
		Targets:     []string{"bio.chl"},
	}
}

func TestClient_SubmitJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var m Manifest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		assert.Equal(t, "multivariate_20210615_120000", m.DatasetName)
		assert.Equal(t, []string{"bio.chl"}, m.Targets)

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-1", Status: StatusQueued}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).SubmitJob(context.Background(), testManifest())
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, StatusQueued, job.Status)
}

func TestClient_SubmitJob_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int64
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if attempts.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-2", Status: StatusQueued}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).SubmitJob(context.Background(), testManifest())
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.ID)
	assert.Equal(t, int64(3), attempts.Load())

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1], "idempotency key must survive retries")
	assert.Equal(t, keys[0], keys[2], "idempotency key must survive retries")
}

func TestClient_SubmitJob_DoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":"unknown target column"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SubmitJob(context.Background(), testManifest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Equal(t, int64(1), attempts.Load())
}

func TestClient_GetJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/jobs/job-3", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-3", Status: StatusRunning}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
}

func TestClient_CancelJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/jobs/job-4", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, testClient(srv.URL).CancelJob(context.Background(), "job-4"))
}

func TestClient_WaitForJob_Succeeds(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := StatusRunning
		if polls.Add(1) >= 3 {
			status = StatusSucceeded
		}
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-5", Status: status}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).WaitForJob(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.GreaterOrEqual(t, polls.Load(), int64(3))
}

func TestClient_WaitForJob_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(Job{
			ID: "job-6", Status: StatusFailed, Detail: "loss diverged",
		}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).WaitForJob(context.Background(), "job-6")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "loss diverged")
	assert.Equal(t, StatusFailed, job.Status)
}

func TestClient_WaitForJob_ToleratesTransientPollErrors(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) == 1 {
			http.Error(w, "blip", http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-7", Status: StatusSucceeded}))
	}))
	defer srv.Close()

	job, err := testClient(srv.URL).WaitForJob(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
}

func TestClient_WaitForJob_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(Job{ID: "job-8", Status: StatusRunning}))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := testClient(srv.URL).WaitForJob(ctx, "job-8")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
