package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seastate/ocean-twin-etl/internal/observability"
)

// Product describes one dataset offered by the marine data store.
type Product struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Variables []string  `json:"variables"`
	LatMin    float64   `json:"lat_min"`
	LatMax    float64   `json:"lat_max"`
	LonMin    float64   `json:"lon_min"`
	LonMax    float64   `json:"lon_max"`
	TimeFrom  time.Time `json:"time_from"`
	TimeTo    time.Time `json:"time_to"`
}

// BBox is a geographic window. Nil in a request means the product's full
// extent.
type BBox struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// SubsetRequest selects a slab of one product for download.
type SubsetRequest struct {
	ProductID  string
	Variables  []string
	Start      time.Time
	End        time.Time
	BBox       *BBox
	OutputPath string
}

// SubsetResult reports the file a subset request delivered.
type SubsetResult struct {
	Path     string
	Checksum string
	Size     int64
}

// StoreClient talks to a Copernicus-style marine data store: credential
// login, product metadata, and subset downloads. A circuit breaker trips
// after consecutive failures so a down portal fails fast instead of hanging
// every request.
type StoreClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewStoreClient creates a store client for the given portal base URL.
func NewStoreClient(baseURL string, metrics *observability.Metrics, logger *slog.Logger) *StoreClient {
	return &StoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Subset deliveries stream whole NetCDF files, so the timeout is
		// generous.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "marine-store",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		metrics: metrics,
		logger:  logger,
	}
}

// Login exchanges portal credentials for a bearer token used on later calls.
func (s *StoreClient) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/v1/login", body, &out); err != nil {
		return fmt.Errorf("store login: %w", err)
	}
	if out.Token == "" {
		return errors.New("store login: empty token")
	}

	s.mu.Lock()
	s.token = out.Token
	s.mu.Unlock()

	s.logger.Info("logged in to marine data store", "user", username)
	return nil
}

// DescribeProduct fetches metadata for one product.
func (s *StoreClient) DescribeProduct(ctx context.Context, id string) (Product, error) {
	start := time.Now()
	res, err := s.breaker.Execute(func() (any, error) {
		var p Product
		err := s.doJSON(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(id), nil, &p)
		return p, err
	})
	s.observe("describe", start, err)
	if err != nil {
		return Product{}, fmt.Errorf("describe product %s: %w", id, err)
	}
	return res.(Product), nil
}

// Subset requests a slab of one product and streams the NetCDF result to
// req.OutputPath. Delivery goes through a temp file, so a partial download
// never lands under the final name.
func (s *StoreClient) Subset(ctx context.Context, req SubsetRequest) (SubsetResult, error) {
	if req.ProductID == "" {
		return SubsetResult{}, errors.New("subset: product id required")
	}
	if req.OutputPath == "" {
		return SubsetResult{}, errors.New("subset: output path required")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return SubsetResult{}, fmt.Errorf("subset: %w", err)
	}

	payload := subsetPayload{
		ProductID: req.ProductID,
		Variables: req.Variables,
		BBox:      req.BBox,
	}
	if !req.Start.IsZero() {
		payload.Start = req.Start.UTC().Format(time.RFC3339)
	}
	if !req.End.IsZero() {
		payload.End = req.End.UTC().Format(time.RFC3339)
	}

	start := time.Now()
	res, err := s.breaker.Execute(func() (any, error) {
		return s.downloadSubset(ctx, payload, req.OutputPath)
	})
	s.observe("subset", start, err)
	if err != nil {
		return SubsetResult{}, fmt.Errorf("subset %s: %w", req.ProductID, err)
	}

	out := res.(SubsetResult)
	s.logger.Info("subset downloaded",
		"product", req.ProductID, "path", out.Path, "bytes", out.Size)
	return out, nil
}

func (s *StoreClient) downloadSubset(ctx context.Context, payload subsetPayload, dest string) (SubsetResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SubsetResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/subset", bytes.NewReader(data))
	if err != nil {
		return SubsetResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SubsetResult{}, fmt.Errorf("store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SubsetResult{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	// A subset can legitimately be tiny, so only empty bodies are rejected.
	checksum, size, err := writeFile(resp.Body, dest, 1)
	if err != nil {
		return SubsetResult{}, err
	}
	return SubsetResult{Path: dest, Checksum: checksum, Size: size}, nil
}

func (s *StoreClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *StoreClient) authorize(req *http.Request) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (s *StoreClient) observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.StoreRequests.WithLabelValues(op, outcome).Inc()
	s.metrics.StoreAPIDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Store request payload.

type subsetPayload struct {
	ProductID string   `json:"product_id"`
	Variables []string `json:"variables,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	BBox      *BBox    `json:"bbox,omitempty"`
}
