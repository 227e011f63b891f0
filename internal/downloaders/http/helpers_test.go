package packdlhttp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/packdl/internal/utils"
)

// testServer counts requests and records the Range headers it saw.
type testServer struct {
	*httptest.Server
	heads  atomic.Int32
	gets   atomic.Int32
	mu     sync.Mutex
	ranges []string
}

func (s *testServer) record(r *http.Request) {
	if r.Method == http.MethodHead {
		s.heads.Add(1)
		return
	}
	s.gets.Add(1)
	if rg := r.Header.Get("Range"); rg != "" {
		s.mu.Lock()
		s.ranges = append(s.ranges, rg)
		s.mu.Unlock()
	}
}

func (s *testServer) rangeCount(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.ranges {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// newRangeServer serves data with full HEAD and Range support.
func newRangeServer(t *testing.T, data []byte) *testServer {
	return newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	})
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func testOptions() Options {
	return Options{
		ChunkSize:      1024,
		ChunkThreshold: 2048,
		Retries:        2,
		RetryBackoff:   time.Millisecond,
	}
}

func newTestDownloader(opts Options) *Downloader {
	return NewDownloader(utils.NewPackdlHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second}), opts)
}
