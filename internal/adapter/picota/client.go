package picota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/seastate/ocean-twin-etl/internal/config"
)

// Job statuses reported by Picota.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrJobFailed marks a training job that ran and failed, as opposed to a
// transport problem talking to the service.
var ErrJobFailed = errors.New("training job failed")

// Manifest describes a training run over a cataloged dataset. The dataset
// itself is shipped by path and checksum; Picota reads it from shared storage.
type Manifest struct {
	DatasetName     string            `json:"dataset_name"`
	DatasetPath     string            `json:"dataset_path"`
	Checksum        string            `json:"checksum,omitempty"`
	Features        []string          `json:"features"`
	Targets         []string          `json:"targets"`
	HoldoutFraction float64           `json:"holdout_fraction,omitempty"`
	Hyperparams     map[string]string `json:"hyperparams,omitempty"`
}

// Job is the training service's view of a submitted run.
type Job struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIError is a non-2xx response from the Picota API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("picota API error: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Picota training service over its HTTP API.
type Client struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	logger        *slog.Logger
	pollInterval  time.Duration
	retryInterval time.Duration
}

// NewClient creates a Picota client from the service configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.PicotaBaseURL, "/"),
		token:         cfg.PicotaToken,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		pollInterval:  cfg.PicotaPollInterval,
		retryInterval: 500 * time.Millisecond,
	}
}

// SubmitJob posts a training manifest. The idempotency key is generated once
// per call and reused across retries, so a retried submit cannot double-start
// a run.
func (c *Client) SubmitJob(ctx context.Context, m Manifest) (Job, error) {
	idempotencyKey := uuid.NewString()

	var job Job
	op := func() error {
		err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", m,
			map[string]string{"Idempotency-Key": idempotencyKey}, &job)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx)); err != nil {
		return Job{}, fmt.Errorf("submit job: %w", err)
	}

	c.logger.Info("training job submitted",
		"job_id", job.ID, "dataset", m.DatasetName, "status", job.Status)
	return job, nil
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+id, nil, nil, &job); err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// CancelJob asks Picota to stop a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/jobs/"+id, nil, nil, nil); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return nil
}

// WaitForJob polls until the job reaches a terminal state. Transport errors
// and 5xx responses are retried on the next poll; a failed job returns
// ErrJobFailed with the service's detail message.
func (c *Client) WaitForJob(ctx context.Context, id string) (Job, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
				return Job{}, err
			}
			c.logger.Warn("job poll failed, will retry", "job_id", id, "error", err)
		case job.Status == StatusSucceeded:
			return job, nil
		case job.Status == StatusFailed:
			if job.Detail != "" {
				return job, fmt.Errorf("%s: %w", job.Detail, ErrJobFailed)
			}
			return job, ErrJobFailed
		default:
			c.logger.Debug("training job pending", "job_id", id, "status", job.Status)
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("picota request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
