package packdlhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// fetchChunked downloads the missing ranges of t concurrently into the
// pre-sized part file. On failure the part file is cut back to the contiguous
// prefix of finished chunks so a later run resumes from there.
func (d *Downloader) fetchChunked(ctx context.Context, t *transfer) (int64, error) {
	total := t.probe.TotalSize
	already, err := resumeOffset(t.part, total, t.resume)
	if err != nil {
		return 0, err
	}
	f, err := openChunked(t.part, already, total)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ranges := Plan(total, already, d.opts.ChunkSize)
	t.resumed = already > 0
	t.chunks = len(ranges)
	t.file.AddResumed(already)
	log.Debug().Str("op", "http/chunk").Int64("already", already).Int("chunks", len(ranges)).Msgf("Chunked download of %s", t.uri)

	done := make([]bool, len(ranges))
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if d.opts.Connections > 0 {
		g.SetLimit(d.opts.Connections)
	}
	for i, r := range ranges {
		g.Go(func() error {
			n, err := d.fetchChunkWithRetry(gctx, t.uri, f, t.part, r)
			if err != nil {
				return err
			}
			done[i] = true
			written.Add(n)
			t.file.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		watermark := already
		for i, r := range ranges {
			if !done[i] {
				break
			}
			watermark = r.End + 1
		}
		if terr := f.Truncate(watermark); terr != nil {
			log.Error().Str("op", "http/chunk").Err(terr).Msgf("Could not trim %s after failure", t.part)
		}
		return written.Load(), err
	}
	if err := f.Sync(); err != nil {
		return written.Load(), &FileSystemError{Op: "sync", Path: t.part, Err: err}
	}
	return written.Load(), nil
}

func (d *Downloader) fetchChunkWithRetry(ctx context.Context, uri string, dst io.WriterAt, part string, r ByteRange) (int64, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx, attempt); err != nil {
				break
			}
			log.Debug().Str("op", "http/chunk").Err(lastErr).Msgf("Retrying chunk %s (attempt %d/%d)", r, attempt+1, d.opts.Retries+1)
		}
		attempts++
		n, err := d.fetchChunk(ctx, uri, dst, part, r)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return 0, &ChunkError{Range: r, Attempts: attempts, Err: lastErr}
}

// fetchChunk issues one ranged GET and writes the body into dst at r.Start.
func (d *Downloader) fetchChunk(ctx context.Context, uri string, dst io.WriterAt, part string, r ByteRange) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating GET request: %w", err)
	}
	req.Header.Set("Range", r.header())
	req.Header.Set("Connection", "keep-alive")
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return 0, newStatusErr(resp.StatusCode)
	}
	if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != r.Start {
		return 0, fmt.Errorf("%w: Content-Range starts at %d, requested %d", ErrPartialWrite, start, r.Start)
	}
	w := &fsWriter{w: io.NewOffsetWriter(dst, r.Start), path: part}
	n, err := io.CopyN(w, limitReader(ctx, resp.Body, d.limiter), r.Len())
	if errors.Is(err, io.EOF) || (err == nil && n != r.Len()) {
		return n, fmt.Errorf("%w: got %d of %d bytes", ErrPartialWrite, n, r.Len())
	}
	return n, err
}

// contentRangeStart parses the first byte of "bytes start-end/size".
func contentRangeStart(header string) (int64, bool) {
	rng, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	startStr, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}
