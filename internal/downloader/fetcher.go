// Package downloader acquires source datasets: bulk URL-list downloads from
// satellite data portals and subset requests against a marine data store.
package downloader

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTooSmall marks a download whose body is implausibly short, usually an
// HTML error page served with a 200 status.
var ErrTooSmall = errors.New("downloaded file below minimum size")

// DefaultMinSize is the smallest body accepted as a real data file.
const DefaultMinSize = 10 * 1024

const (
	defaultWorkers = 2
	defaultRetries = 3
)

// StatusError is a non-2xx response from a portal or the marine data store.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// FetchOptions control a bulk download run.
type FetchOptions struct {
	// Dir is the destination directory, created if missing.
	Dir string
	// MinSize is the smallest plausible file in bytes. DefaultMinSize when zero.
	MinSize int64
	// Delay pauses each worker between downloads, sparing rate-limited portals.
	Delay time.Duration
	// Workers bounds concurrent downloads. 2 when zero.
	Workers int
	// Username and Password are optional basic-auth portal credentials.
	Username string
	Password string
	// MaxRetries is the retry count per URL after the first attempt. 3 when zero.
	MaxRetries uint64
	// RetryWait is the initial retry backoff. One second when zero.
	RetryWait time.Duration
}

// Result is the outcome of one URL in a fetch run.
type Result struct {
	URL      string
	Path     string
	Checksum string // hex SHA-256, empty when skipped or failed
	Size     int64
	Skipped  bool // already present with plausible size
	Err      error
}

// Fetcher downloads the files named in a URL list.
type Fetcher struct {
	opts       FetchOptions
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a fetcher, filling defaults for unset options.
// The HTTP client carries no timeout: granule downloads can run long, and the
// caller's context governs cancellation.
func NewFetcher(opts FetchOptions, logger *slog.Logger) *Fetcher {
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	return &Fetcher{
		opts:       opts,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// ReadURLFile loads a download list, one URL per line. Blank lines and lines
// starting with '#' are skipped.
func ReadURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// FileName returns the basename a URL downloads to, the last segment of its
// path.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("url %s has no file name", rawURL)
	}
	return name, nil
}

// FetchAll downloads every URL through a bounded worker pool. A failed URL
// does not stop the run; each outcome lands in the returned slice, in input
// order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))

	if err := os.MkdirAll(f.opts.Dir, 0o755); err != nil {
		for i, u := range urls {
			results[i] = Result{URL: u, Err: fmt.Errorf("mkdir %s: %w", f.opts.Dir, err)}
		}
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range f.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = f.fetchOne(ctx, urls[i])
				if f.opts.Delay > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(f.opts.Delay):
					}
				}
			}
		}()
	}
	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) Result {
	res := Result{URL: rawURL}

	name, err := FileName(rawURL)
	if err != nil {
		res.Err = err
		return res
	}
	res.Path = filepath.Join(f.opts.Dir, name)

	if info, err := os.Stat(res.Path); err == nil && info.Size() >= f.opts.MinSize {
		res.Skipped = true
		res.Size = info.Size()
		f.logger.Debug("file already present, skipping", "name", name, "bytes", info.Size())
		return res
	}

	op := func() error {
		checksum, size, err := f.download(ctx, rawURL, res.Path)
		if err != nil {
			// Undersized bodies and 4xx responses do not heal on retry.
			var se *StatusError
			if errors.Is(err, ErrTooSmall) || (errors.As(err, &se) && se.Code < 500) {
				return backoff.Permanent(err)
			}
			return err
		}
		res.Checksum = checksum
		res.Size = size
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.RetryWait
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.opts.MaxRetries), ctx)); err != nil {
		res.Err = err
		f.logger.Warn("download failed", "url", rawURL, "error", err)
		return res
	}

	f.logger.Info("downloaded", "name", name, "bytes", res.Size)
	return res
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	if f.opts.Username != "" {
		req.SetBasicAuth(f.opts.Username, f.opts.Password)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return writeFile(resp.Body, dest, f.opts.MinSize)
}

// writeFile streams body into dest through a temp file, hashing as it copies.
// The rename happens only after the size check, so a truncated or bogus
// response never replaces a good file.
func writeFile(body io.Reader, dest string, minSize int64) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(body, h))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if size < minSize {
		return "", 0, fmt.Errorf("%s: %d bytes: %w", filepath.Base(dest), size, ErrTooSmall)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("rename temp file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
