package packdlhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/packdl/internal/utils"
)

// fetchWhole streams the resource sequentially into the part file, resuming
// with "bytes=offset-" when the server accepts ranges. Progress is reported per
// buffer, never above the furthest position already reported.
func (d *Downloader) fetchWhole(ctx context.Context, t *transfer) (int64, error) {
	offset, err := resumeOffset(t.part, t.probe.TotalSize, t.resume)
	if err != nil {
		return 0, err
	}
	var written, counted int64
	var lastErr error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := d.backoff(ctx, attempt); err != nil {
				return written, err
			}
			offset = 0
			if info, err := os.Stat(t.part); err == nil && t.probe.RangeSupported {
				offset = info.Size()
			}
			log.Warn().Str("op", "http/stream").Err(lastErr).Msgf("Retrying download for %s from %d (attempt %d/%d)", t.uri, offset, attempt+1, d.opts.Retries+1)
		}
		n, err := d.streamAttempt(ctx, t, offset, &counted)
		written += n
		if errors.Is(err, ErrRangeNotSatisfied) && offset > 0 {
			// the part file is not a prefix the server recognizes
			log.Warn().Str("op", "http/stream").Msgf("Server rejected resume offset %d for %s, restarting", offset, t.uri)
			if err := os.Truncate(t.part, 0); err != nil {
				return written, &FileSystemError{Op: "truncate", Path: t.part, Err: err}
			}
			n, err = d.streamAttempt(ctx, t, 0, &counted)
			written += n
		}
		if err == nil {
			return written, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return written, lastErr
}

func (d *Downloader) streamAttempt(ctx context.Context, t *transfer, offset int64, counted *int64) (int64, error) {
	out, err := os.OpenFile(t.part, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, &FileSystemError{Op: "open", Path: t.part, Err: err}
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.uri, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating GET request: %w", err)
	}
	ranged := offset > 0 && t.probe.RangeSupported
	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		log.Debug().Str("op", "http/stream").Msgf("Resuming download from offset %d", offset)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error executing GET request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && ranged:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			return 0, fmt.Errorf("%w: Content-Range starts at %d, requested %d", ErrPartialWrite, start, offset)
		}
		t.resumed = true
	case resp.StatusCode == http.StatusOK:
		if ranged {
			log.Warn().Str("op", "http/stream").Msgf("Server ignored range for %s, restarting", t.uri)
		}
		offset = 0
	default:
		return 0, newStatusErr(resp.StatusCode)
	}
	if err := rewind(out, offset); err != nil {
		return 0, err
	}
	if offset > *counted {
		t.file.AddResumed(offset - *counted)
		*counted = offset
	}

	pos := offset
	advance := func() {
		if pos > *counted {
			t.file.Add(pos - *counted)
			*counted = pos
		}
	}
	w := &fsWriter{w: out, path: t.part}
	body := limitReader(ctx, resp.Body, d.limiter)
	buffer := make([]byte, utils.DefaultBufferSize)
	var written int64
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			if _, err := w.Write(buffer[:bytesRead]); err != nil {
				return written, err
			}
			written += int64(bytesRead)
			pos += int64(bytesRead)
			advance()
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return written, fmt.Errorf("error reading response body: %w", readErr)
		}
	}
	if err := out.Sync(); err != nil {
		return written, &FileSystemError{Op: "sync", Path: t.part, Err: err}
	}
	return written, nil
}
