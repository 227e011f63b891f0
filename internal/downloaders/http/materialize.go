package packdlhttp

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/packdl/internal/utils"
)

func partPath(dest string) string { return dest + utils.PartSuffix }

func ensureParent(dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FileSystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// isComplete reports whether dest already holds exactly total bytes.
func isComplete(dest string, total int64) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() == total
}

// resumeOffset returns how many bytes of part can be kept. A part at or above
// the probed total cannot be trusted (a pre-sized chunk file looks the same)
// and is discarded.
func resumeOffset(part string, total int64, resume bool) (int64, error) {
	info, err := os.Stat(part)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &FileSystemError{Op: "stat", Path: part, Err: err}
	}
	size := info.Size()
	if resume && (total < 0 || size < total) {
		return size, nil
	}
	if size > 0 {
		log.Debug().Str("op", "http/materialize").Int64("size", size).Int64("total", total).Msgf("Discarding partial file %s", part)
	}
	if err := os.Remove(part); err != nil {
		return 0, &FileSystemError{Op: "remove", Path: part, Err: err}
	}
	return 0, nil
}

// openChunked opens part for positional writes, truncated to keep bytes and
// extended to total by writing one byte at total-1.
func openChunked(part string, keep, total int64) (*os.File, error) {
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &FileSystemError{Op: "open", Path: part, Err: err}
	}
	if err := f.Truncate(keep); err != nil {
		f.Close()
		return nil, &FileSystemError{Op: "truncate", Path: part, Err: err}
	}
	if total > keep {
		if _, err := f.WriteAt([]byte{0}, total-1); err != nil {
			f.Close()
			return nil, &FileSystemError{Op: "presize", Path: part, Err: err}
		}
	}
	return f, nil
}

// rewind truncates f to offset and positions the next write there.
func rewind(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return &FileSystemError{Op: "truncate", Path: f.Name(), Err: err}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return &FileSystemError{Op: "seek", Path: f.Name(), Err: err}
	}
	return nil
}

func finalize(part, dest string) error {
	if err := os.Rename(part, dest); err != nil {
		return &FileSystemError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// fsWriter tags write failures as FileSystemError so they are never retried.
type fsWriter struct {
	w    io.Writer
	path string
}

func (w *fsWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, &FileSystemError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}
