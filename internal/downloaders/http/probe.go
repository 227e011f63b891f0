package packdlhttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/packdl/internal/utils"
)

// ProbeResult is what a metadata request learned about a remote resource.
type ProbeResult struct {
	TotalSize      int64 // -1 when the server never disclosed it
	RangeSupported bool
	FileName       string // from Content-Disposition, may be empty
}

// Probe sends HEAD and falls back to a GET (body discarded) when HEAD is
// rejected or carries no Content-Length. Nothing is retried here.
func (d *Downloader) Probe(ctx context.Context, uri string) (ProbeResult, error) {
	resp, err := d.probeRequest(ctx, http.MethodHead, uri)
	if err != nil {
		return ProbeResult{}, &ProbeError{URI: uri, Err: err}
	}
	resp.Body.Close()
	if isSuccess(resp.StatusCode) && resp.ContentLength >= 0 {
		return probeFromResponse(resp), nil
	}
	log.Debug().Str("op", "http/probe").Int("status", resp.StatusCode).Int64("length", resp.ContentLength).Msgf("HEAD insufficient for %s, trying GET", uri)

	resp, err = d.probeRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return ProbeResult{}, &ProbeError{URI: uri, Err: err}
	}
	resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return ProbeResult{}, &ProbeError{URI: uri, StatusCode: resp.StatusCode, Err: newStatusErr(resp.StatusCode)}
	}
	return probeFromResponse(resp), nil
}

func (d *Downloader) probeRequest(ctx context.Context, method, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %w", method, err)
	}
	return d.client.Do(req)
}

func probeFromResponse(resp *http.Response) ProbeResult {
	return ProbeResult{
		TotalSize:      max(resp.ContentLength, -1),
		RangeSupported: resp.Header.Get("Accept-Ranges") == "bytes",
		FileName:       utils.ContentDispositionName(resp.Header.Get("Content-Disposition")),
	}
}

// 3xx never reaches here since the client follows redirects.
func isSuccess(code int) bool { return code >= 200 && code < 300 }
