package packdlhttp

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPartialWrite      = errors.New("http: bytes written differ from requested range")
	ErrUnexpectedStatus  = errors.New("http: unexpected status code")
	ErrRangeNotSatisfied = errors.New("http: range not satisfiable")
)

// ProbeError means size and range support could not be determined.
type ProbeError struct {
	URI        string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *ProbeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("probe %s: status %d: %v", e.URI, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("probe %s: %v", e.URI, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ChunkError is a byte-range transfer that failed after all attempts.
type ChunkError struct {
	Range    ByteRange
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s failed after %d attempt(s): %v", e.Range, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

func statusError(code int) error {
	if code == http.StatusRequestedRangeNotSatisfiable {
		return fmt.Errorf("%w: %d", ErrRangeNotSatisfied, code)
	}
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, code, http.StatusText(code))
}

// retryable reports whether a failed attempt may succeed when repeated.
// File-system errors and unexpected statuses other than 5xx/429 are final.
func retryable(err error) bool {
	var fsErr *FileSystemError
	if errors.As(err, &fsErr) {
		return false
	}
	var se *statusErr
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

// statusErr carries the response code alongside the wrapped sentinel.
type statusErr struct {
	code int
	err  error
}

func (e *statusErr) Error() string { return e.err.Error() }
func (e *statusErr) Unwrap() error { return e.err }

func newStatusErr(code int) error {
	return &statusErr{code: code, err: statusError(code)}
}
