package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeURLList(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")), 0o644))
	return p
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// --- URL list tests ---

func TestReadURLFile(t *testing.T) {
	p := writeURLList(t,
		"https://example.com/granules/a.nc",
		"",
		"# ocean color granules, batch 2",
		"  https://example.com/granules/b.nc  ",
	)

	urls, err := ReadURLFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/granules/a.nc",
		"https://example.com/granules/b.nc",
	}, urls)
}

func TestReadURLFile_Missing(t *testing.T) {
	_, err := ReadURLFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "plain", url: "https://example.com/allData/A2003001.L3m_DAY_CHL.nc", want: "A2003001.L3m_DAY_CHL.nc"},
		{name: "query ignored", url: "https://example.com/files/sst.nc?session=abc", want: "sst.nc"},
		{name: "no path", url: "https://example.com/", wantErr: true},
		{name: "unparsable", url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileName(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// --- fetcher tests ---

func TestFetcher_DownloadsAll(t *testing.T) {
	payloadA := bytes.Repeat([]byte("a"), 64)
	payloadB := bytes.Repeat([]byte("b"), 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/granules/a.nc":
			_, _ = w.Write(payloadA)
		case "/granules/b.nc":
			_, _ = w.Write(payloadB)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetchOptions{Dir: dir, MinSize: 16}, discardLogger())
	results := f.FetchAll(context.Background(), []string{
		srv.URL + "/granules/a.nc",
		srv.URL + "/granules/b.nc",
	})

	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.False(t, res.Skipped)
	}
	assert.Equal(t, filepath.Join(dir, "a.nc"), results[0].Path)
	assert.Equal(t, int64(64), results[0].Size)
	assert.Equal(t, sha256Hex(payloadA), results[0].Checksum)
	assert.Equal(t, sha256Hex(payloadB), results[1].Checksum)

	data, err := os.ReadFile(filepath.Join(dir, "b.nc"))
	require.NoError(t, err)
	assert.Equal(t, payloadB, data)
}

func TestFetcher_SkipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nc"), bytes.Repeat([]byte("y"), 32), 0o644))

	f := NewFetcher(FetchOptions{Dir: dir, MinSize: 16}, discardLogger())
	results := f.FetchAll(context.Background(), []string{srv.URL + "/a.nc"})

	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, int64(32), results[0].Size)
	assert.Empty(t, results[0].Checksum)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetcher_RedownloadsUndersizedFile(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nc"), []byte("stub"), 0o644))

	f := NewFetcher(FetchOptions{Dir: dir, MinSize: 16}, discardLogger())
	results := f.FetchAll(context.Background(), []string{srv.URL + "/a.nc"})

	require.NoError(t, results[0].Err)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, int64(64), results[0].Size)

	data, err := os.ReadFile(filepath.Join(dir, "a.nc"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetcher_RejectsTooSmall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<html>please log in</html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetchOptions{Dir: dir, RetryWait: time.Millisecond}, discardLogger())
	results := f.FetchAll(context.Background(), []string{srv.URL + "/a.nc"})

	require.Error(t, results[0].Err)
	assert.ErrorIs(t, results[0].Err, ErrTooSmall)
	assert.Equal(t, int32(1), hits.Load(), "undersized responses are not retried")
	assert.NoFileExists(t, filepath.Join(dir, "a.nc"))
}

func TestFetcher_RetriesServerError(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Dir: t.TempDir(), MinSize: 16, RetryWait: time.Millisecond}, discardLogger())
	results := f.FetchAll(context.Background(), []string{srv.URL + "/a.nc"})

	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(64), results[0].Size)
}

func TestFetcher_ContinuesPastFailures(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.nc" {
			hits.Add(1)
			http.Error(w, "no such granule", http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Dir: t.TempDir(), MinSize: 16, RetryWait: time.Millisecond}, discardLogger())
	results := f.FetchAll(context.Background(), []string{
		srv.URL + "/missing.nc",
		srv.URL + "/good.nc",
	})

	require.Error(t, results[0].Err)
	var se *StatusError
	require.ErrorAs(t, results[0].Err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses are not retried")

	require.NoError(t, results[1].Err)
	assert.Equal(t, int64(64), results[1].Size)
}

func TestFetcher_BasicAuth(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "jdoe" || pass != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{
		Dir:      t.TempDir(),
		MinSize:  16,
		Username: "jdoe",
		Password: "hunter2",
	}, discardLogger())
	results := f.FetchAll(context.Background(), []string{srv.URL + "/a.nc"})

	require.NoError(t, results[0].Err)
}

func TestFetcher_BoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	payload := bytes.Repeat([]byte("x"), 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Dir: t.TempDir(), MinSize: 16, Workers: 2}, discardLogger())
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/file-%d.nc", srv.URL, i)
	}
	results := f.FetchAll(context.Background(), urls)

	for _, res := range results {
		require.NoError(t, res.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
