package packdlhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/packdl/internal/progress"
	"github.com/tanq16/packdl/internal/utils"
)

func fetchTo(t *testing.T, d *Downloader, uri, dest string, batch *progress.Batch) (Result, error) {
	t.Helper()
	return d.Fetch(context.Background(), TransferRequest{URI: uri, Destination: dest, Resume: true}, batch)
}

func assertContent(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Errorf("part file left behind: %v", err)
	}
}

func TestFetchChunked(t *testing.T) {
	data := testData(10*1024 + 17)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "nested", "out.bin")
	batch := progress.NewBatch()

	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if res.Strategy != StrategyChunked || res.State != StateDone {
		t.Errorf("strategy=%s state=%s", res.Strategy, res.State)
	}
	if res.Chunks != 11 || srv.rangeCount("bytes=") != 11 {
		t.Errorf("chunks=%d ranged GETs=%d, want 11", res.Chunks, srv.rangeCount("bytes="))
	}
	if res.Written != int64(len(data)) {
		t.Errorf("written = %d, want %d", res.Written, len(data))
	}
	if batch.Downloaded() != batch.Total() || batch.Total() != int64(len(data)) {
		t.Errorf("batch downloaded=%d total=%d", batch.Downloaded(), batch.Total())
	}
}

func TestFetchChunkedBoundedConnections(t *testing.T) {
	data := testData(8*1024 + 1)
	var active, peak atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	})
	opts := testOptions()
	opts.Connections = 2
	dest := filepath.Join(t.TempDir(), "out.bin")
	if _, err := fetchTo(t, newTestDownloader(opts), srv.URL, dest, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrent chunks = %d, want at most 2", p)
	}
}

func TestFetchResumesPartFile(t *testing.T) {
	data := testData(10*1024 + 17)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest+".part", data[:3000], 0644); err != nil {
		t.Fatal(err)
	}
	batch := progress.NewBatch()

	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if !res.Resumed {
		t.Error("expected a resumed transfer")
	}
	if srv.rangeCount("bytes=3000-4023") != 1 {
		t.Errorf("expected first chunk at 3000, saw %v", srv.ranges)
	}
	if srv.rangeCount("bytes=0-") != 0 {
		t.Errorf("already present bytes were fetched again: %v", srv.ranges)
	}
	if res.Written != int64(len(data)-3000) {
		t.Errorf("written = %d, want %d", res.Written, len(data)-3000)
	}
	if batch.Downloaded() != int64(len(data)) {
		t.Errorf("batch downloaded = %d, want %d", batch.Downloaded(), len(data))
	}
	if batch.Transferred() != res.Written {
		t.Errorf("batch transferred = %d, want %d", batch.Transferred(), res.Written)
	}
}

func TestFetchCompleteFileIsIdempotent(t *testing.T) {
	data := testData(10*1024 + 17)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "out.bin")
	d := newTestDownloader(testOptions())
	if _, err := fetchTo(t, d, srv.URL, dest, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	gets := srv.gets.Load()

	batch := progress.NewBatch()
	res, err := fetchTo(t, d, srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if srv.gets.Load() != gets {
		t.Errorf("re-run issued %d GETs", srv.gets.Load()-gets)
	}
	if res.State != StateDone || res.Written != 0 {
		t.Errorf("state=%s written=%d", res.State, res.Written)
	}
	if batch.Downloaded() != int64(len(data)) {
		t.Errorf("batch downloaded = %d, want %d", batch.Downloaded(), len(data))
	}
}

func TestFetchZeroBytes(t *testing.T) {
	srv := newRangeServer(t, nil)
	dest := filepath.Join(t.TempDir(), "empty.bin")
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Strategy != StrategyEmpty || res.Chunks != 0 {
		t.Errorf("strategy=%s chunks=%d", res.Strategy, res.Chunks)
	}
	if srv.gets.Load() != 0 {
		t.Errorf("expected no GET, got %d", srv.gets.Load())
	}
	assertContent(t, dest, []byte{})
}

func TestFetchBelowThresholdStreams(t *testing.T) {
	data := testData(1500)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "small.bin")
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if res.Strategy != StrategySmall || res.Strategy.Chunked() || res.Chunks != 0 {
		t.Errorf("strategy=%s chunks=%d", res.Strategy, res.Chunks)
	}
	if srv.rangeCount("bytes=") != 0 {
		t.Errorf("unexpected range requests: %v", srv.ranges)
	}
}

func TestFetchHeadForbiddenGetOK(t *testing.T) {
	data := testData(5000)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	})
	dest := filepath.Join(t.TempDir(), "out.bin")
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if res.Strategy.Chunked() || res.State != StateDone {
		t.Errorf("strategy=%s state=%s", res.Strategy, res.State)
	}
}

func TestFetchPersistentChunkFailure(t *testing.T) {
	data := testData(6 * 1024)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=2048-") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	})
	opts := testOptions()
	opts.Connections = 1
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := fetchTo(t, newTestDownloader(opts), srv.URL, dest, nil)
	var ce *ChunkError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ChunkError, got %v", err)
	}
	if ce.Range.Start != 2048 || ce.Attempts != opts.Retries+1 {
		t.Errorf("chunk error range=%s attempts=%d", ce.Range, ce.Attempts)
	}
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus in chain: %v", err)
	}
	if got := srv.rangeCount("bytes=2048-"); got != opts.Retries+1 {
		t.Errorf("failing chunk requested %d times, want %d", got, opts.Retries+1)
	}
	if res.State != StateFailed || res.FailedIn != StateChunked {
		t.Errorf("state=%s failedIn=%s", res.State, res.FailedIn)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("destination must not exist after failure: %v", err)
	}
	info, err := os.Stat(dest + ".part")
	if err != nil {
		t.Fatalf("part file: %v", err)
	}
	if info.Size() != 2048 {
		t.Errorf("part size = %d, want completed prefix 2048", info.Size())
	}
}

func TestFetchTransientChunkFailure(t *testing.T) {
	data := testData(4 * 1024)
	var failed atomic.Bool
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Range"), "bytes=1024-") && failed.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	})
	dest := filepath.Join(t.TempDir(), "out.bin")
	if _, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if got := srv.rangeCount("bytes=1024-"); got != 2 {
		t.Errorf("retried chunk requested %d times, want 2", got)
	}
}

func TestFetchDiscardsStalePart(t *testing.T) {
	data := testData(5000)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest+".part", bytes.Repeat([]byte{0xff}, len(data)+5), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if res.Resumed {
		t.Error("stale part must not count as resumed")
	}
}

func TestFetchShortChunkBody(t *testing.T) {
	data := testData(4 * 1024)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		rg := r.Header.Get("Range")
		if r.Method == http.MethodGet && rg != "" {
			var start, end int
			fmt.Sscanf(rg, "bytes=%d-%d", &start, &end)
			short := data[start : start+(end-start+1)/2]
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.Header().Set("Content-Length", strconv.Itoa(len(short)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(short)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	})
	opts := testOptions()
	opts.Retries = 1
	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := fetchTo(t, newTestDownloader(opts), srv.URL, dest, nil)
	if !errors.Is(err, ErrPartialWrite) {
		t.Fatalf("expected ErrPartialWrite, got %v", err)
	}
	var ce *ChunkError
	if errors.As(err, &ce) && ce.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", ce.Attempts)
	}
}

func TestFetchChunkNon206IsNotRetried(t *testing.T) {
	data := testData(4 * 1024)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	})
	opts := testOptions()
	opts.Connections = 1
	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := fetchTo(t, newTestDownloader(opts), srv.URL, dest, nil)
	var ce *ChunkError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ChunkError, got %v", err)
	}
	if ce.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", ce.Attempts)
	}
	if got := srv.rangeCount("bytes=0-"); got != 1 {
		t.Errorf("first chunk requested %d times, want 1", got)
	}
}

func TestFetchStreamResumesWithRange(t *testing.T) {
	data := testData(1500)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "small.bin")
	if err := os.WriteFile(dest+".part", data[:700], 0644); err != nil {
		t.Fatal(err)
	}
	batch := progress.NewBatch()
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if !res.Resumed || res.Written != 800 {
		t.Errorf("resumed=%v written=%d", res.Resumed, res.Written)
	}
	if srv.rangeCount("bytes=700-") != 1 {
		t.Errorf("expected a bytes=700- request, saw %v", srv.ranges)
	}
	if batch.Downloaded() != int64(len(data)) {
		t.Errorf("batch downloaded = %d, want %d", batch.Downloaded(), len(data))
	}
	if batch.Transferred() != 800 {
		t.Errorf("batch transferred = %d, want 800", batch.Transferred())
	}
}

func TestFetchStreamRestartsWhenRangeIgnored(t *testing.T) {
	data := testData(1500)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	})
	dest := filepath.Join(t.TempDir(), "small.bin")
	if err := os.WriteFile(dest+".part", bytes.Repeat([]byte{0xff}, 700), 0644); err != nil {
		t.Fatal(err)
	}
	batch := progress.NewBatch()
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, data)
	if res.Resumed {
		t.Error("a 200 response must restart, not resume")
	}
	if batch.Downloaded() != int64(len(data)) || batch.Total() != int64(len(data)) {
		t.Errorf("batch downloaded=%d total=%d, want %d", batch.Downloaded(), batch.Total(), len(data))
	}
}

func TestFetchUnknownSize(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("streamed "))
		w.(http.Flusher).Flush()
		w.Write([]byte("without length"))
	})
	dest := filepath.Join(t.TempDir(), "stream.txt")
	batch := progress.NewBatch()
	res, err := fetchTo(t, newTestDownloader(testOptions()), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, []byte("streamed without length"))
	if res.Strategy != StrategyUnknownSize {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if batch.Total() != batch.Downloaded() || batch.Total() != 23 {
		t.Errorf("batch downloaded=%d total=%d, want 23", batch.Downloaded(), batch.Total())
	}
}

func TestFetchProbedSkipsProbe(t *testing.T) {
	data := testData(3000)
	srv := newRangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "out.bin")
	probe := ProbeResult{TotalSize: int64(len(data)), RangeSupported: true}
	res, err := newTestDownloader(testOptions()).FetchProbed(context.Background(), TransferRequest{URI: srv.URL, Destination: dest, Resume: true}, probe, nil)
	if err != nil {
		t.Fatalf("FetchProbed: %v", err)
	}
	assertContent(t, dest, data)
	if srv.heads.Load() != 0 {
		t.Errorf("expected no HEAD, got %d", srv.heads.Load())
	}
	if res.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", res.Chunks)
	}
}

func TestFetchCancelled(t *testing.T) {
	data := testData(4 * 1024)
	srv := newRangeServer(t, data)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := filepath.Join(t.TempDir(), "out.bin")
	res, err := newTestDownloader(testOptions()).Fetch(ctx, TransferRequest{URI: srv.URL, Destination: dest, Resume: true}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State != StateFailed || res.FailedIn != StateProbing {
		t.Errorf("state=%s failedIn=%s", res.State, res.FailedIn)
	}
}

func TestFetchStreamRestartsAfterRangeRejected(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Write([]byte("hello "))
		w.(http.Flusher).Flush()
		w.Write([]byte("world"))
	})
	dest := filepath.Join(t.TempDir(), "greeting.txt")
	if err := os.WriteFile(dest+".part", bytes.Repeat([]byte{0xff}, 100), 0644); err != nil {
		t.Fatal(err)
	}
	opts := testOptions()
	opts.Retries = 0
	batch := progress.NewBatch()
	res, err := fetchTo(t, newTestDownloader(opts), srv.URL, dest, batch)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	assertContent(t, dest, []byte("hello world"))
	if res.Strategy != StrategyUnknownSize {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if srv.rangeCount("bytes=100-") != 1 {
		t.Errorf("expected one bytes=100- request, saw %v", srv.ranges)
	}
	if batch.Total() != 11 || batch.Downloaded() != 11 {
		t.Errorf("batch downloaded=%d total=%d, want 11", batch.Downloaded(), batch.Total())
	}
}

func TestFetchSlowStreamOutlivesTimeout(t *testing.T) {
	const pieces, size = 6, 8 * 1024
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(pieces*size))
		if r.Method == http.MethodHead {
			return
		}
		for i := 0; i < pieces; i++ {
			if i > 0 {
				select {
				case <-time.After(250 * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			w.Write(bytes.Repeat([]byte{byte(i)}, size))
			w.(http.Flusher).Flush()
		}
	})
	opts := testOptions()
	opts.ChunkThreshold = pieces * size
	opts.Retries = 0
	d := NewDownloader(utils.NewPackdlHTTPClient(utils.HTTPClientConfig{Timeout: time.Second}), opts)
	dest := filepath.Join(t.TempDir(), "slow.bin")
	res, err := fetchTo(t, d, srv.URL, dest, progress.NewBatch())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Strategy != StrategySmall {
		t.Errorf("strategy = %s", res.Strategy)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() != pieces*size {
		t.Errorf("dest = %v, %v", info, err)
	}
	if got := srv.gets.Load(); got != 1 {
		t.Errorf("GET count = %d, want 1", got)
	}
}
