package progress

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRenderSuppressesDuplicates(t *testing.T) {
	b := NewBatch()
	f := b.Track("dir/file.jar", 100)
	r := NewReporter(b, ReporterOptions{Out: io.Discard})

	f.Add(10)
	if _, ok := r.Render(); !ok {
		t.Fatal("expected first render")
	}
	if _, ok := r.Render(); ok {
		t.Fatal("expected duplicate render to be suppressed")
	}
	f.Add(1)
	line, ok := r.Render()
	if !ok {
		t.Fatal("expected render after change")
	}
	if !strings.Contains(line, "file.jar 11.0%") {
		t.Errorf("line missing file percent: %q", line)
	}
}

func TestRenderUnknownTotalShowsBytes(t *testing.T) {
	b := NewBatch()
	f := b.Track("stream.bin", -1)
	r := NewReporter(b, ReporterOptions{Out: io.Discard})
	f.Add(2048)
	line, ok := r.Render()
	if !ok {
		t.Fatal("expected render")
	}
	if !strings.Contains(line, "stream.bin 2.0 KiB") {
		t.Errorf("expected byte count for unknown total: %q", line)
	}
	if strings.Contains(line, "stream.bin 100.0%") {
		t.Errorf("unexpected percentage for unknown total: %q", line)
	}
}

func TestReporterStopWritesFinalLine(t *testing.T) {
	b := NewBatch()
	var buf bytes.Buffer
	r := NewReporter(b, ReporterOptions{Out: &buf, Interval: time.Hour})
	r.Start()
	b.Track("a", 4).Add(4)
	r.Stop()
	r.Stop()
	if !strings.Contains(buf.String(), "100.0%") {
		t.Errorf("expected final render, got %q", buf.String())
	}
}
