package packdlhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestProbeHead(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Disposition", `attachment; filename="mod.jar"`)
	})
	d := newTestDownloader(testOptions())
	probe, err := d.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if probe.TotalSize != 4096 || !probe.RangeSupported || probe.FileName != "mod.jar" {
		t.Errorf("unexpected probe %+v", probe)
	}
	if srv.gets.Load() != 0 {
		t.Errorf("expected no GET, got %d", srv.gets.Load())
	}
}

func TestProbeHeadForbiddenFallsBackToGet(t *testing.T) {
	data := testData(3000)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	})
	d := newTestDownloader(testOptions())
	probe, err := d.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if probe.TotalSize != int64(len(data)) || probe.RangeSupported {
		t.Errorf("unexpected probe %+v", probe)
	}
	if srv.heads.Load() != 1 || srv.gets.Load() != 1 {
		t.Errorf("heads=%d gets=%d, want 1 and 1", srv.heads.Load(), srv.gets.Load())
	}
}

func TestProbeUnknownLength(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("part one "))
		w.(http.Flusher).Flush()
		w.Write([]byte("part two"))
	})
	d := newTestDownloader(testOptions())
	probe, err := d.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if probe.TotalSize != -1 {
		t.Errorf("TotalSize = %d, want -1", probe.TotalSize)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newTestDownloader(testOptions())
	_, err := d.Probe(context.Background(), url)
	var pe *ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProbeError, got %v", err)
	}
	if pe.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a transport error", pe.StatusCode)
	}
}

func TestProbeNotFound(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	d := newTestDownloader(testOptions())
	_, err := d.Probe(context.Background(), srv.URL)
	var pe *ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProbeError, got %v", err)
	}
	if pe.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", pe.StatusCode)
	}
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus in chain: %v", err)
	}
}
