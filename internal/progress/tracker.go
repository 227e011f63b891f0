package progress

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// File is the progress of one destination path inside a Batch. Counters are
// written by every worker of the transfer and read by the reporter.
type File struct {
	Path       string
	batch      *Batch
	total      atomic.Int64
	downloaded atomic.Int64
	completed  atomic.Bool
}

func (f *File) Total() int64      { return f.total.Load() }
func (f *File) Downloaded() int64 { return f.downloaded.Load() }
func (f *File) Completed() bool   { return f.completed.Load() }

// Add records n transferred bytes. For a known total the file counter is capped
// at that total; for an unknown total the batch total grows with it, so the
// batch never reports more downloaded than expected.
func (f *File) Add(n int64) { f.add(n, true) }

// AddResumed records n bytes found on disk from an earlier run. They count
// toward completion but not toward the batch transfer rate.
func (f *File) AddResumed(n int64) { f.add(n, false) }

func (f *File) add(n int64, moved bool) {
	if n <= 0 {
		return
	}
	total := f.total.Load()
	if total < 0 {
		f.downloaded.Add(n)
		f.batch.total.Add(n)
		f.batch.downloaded.Add(n)
		if moved {
			f.batch.transferred.Add(n)
		}
		f.batch.last.Store(f)
		return
	}
	for {
		cur := f.downloaded.Load()
		step := min(n, total-cur)
		if step <= 0 {
			return
		}
		if f.downloaded.CompareAndSwap(cur, cur+step) {
			f.batch.downloaded.Add(step)
			if moved {
				f.batch.transferred.Add(step)
			}
			f.batch.last.Store(f)
			return
		}
	}
}

// Complete forces the counter to the known total. A file of unknown size takes
// whatever was downloaded as its total.
func (f *File) Complete() {
	if !f.completed.CompareAndSwap(false, true) {
		return
	}
	total := f.total.Load()
	if total < 0 {
		f.total.Store(f.downloaded.Load())
		return
	}
	if delta := total - f.downloaded.Swap(total); delta != 0 {
		f.batch.downloaded.Add(delta)
	}
	f.batch.last.Store(f)
}

// Batch aggregates the files of one batch call. It is passed explicitly to the
// orchestrator and downloaders rather than kept as package state.
type Batch struct {
	total       atomic.Int64
	downloaded  atomic.Int64
	transferred atomic.Int64 // bytes received during this batch
	started     atomic.Int64
	last        atomic.Pointer[File]
	files       sync.Map // path -> *File
}

func NewBatch() *Batch {
	b := &Batch{}
	b.started.Store(time.Now().UnixNano())
	return b
}

// Reset clears every file and counter and restarts the batch clock.
func (b *Batch) Reset() {
	b.files.Clear()
	b.total.Store(0)
	b.downloaded.Store(0)
	b.transferred.Store(0)
	b.last.Store(nil)
	b.started.Store(time.Now().UnixNano())
}

// Track registers path with its expected total (-1 when unknown) and returns
// its File. Tracking an already known path returns the existing File.
func (b *Batch) Track(path string, total int64) *File {
	if f, ok := b.files.Load(path); ok {
		return f.(*File)
	}
	f := &File{Path: path, batch: b}
	f.total.Store(total)
	actual, loaded := b.files.LoadOrStore(path, f)
	if loaded {
		return actual.(*File)
	}
	if total > 0 {
		b.total.Add(total)
	}
	return f
}

func (b *Batch) File(path string) (*File, bool) {
	f, ok := b.files.Load(path)
	if !ok {
		return nil, false
	}
	return f.(*File), true
}

func (b *Batch) AddBytes(path string, n int64) {
	if f, ok := b.File(path); ok {
		f.Add(n)
	}
}

func (b *Batch) MarkComplete(path string) {
	if f, ok := b.File(path); ok {
		f.Complete()
	}
}

// Files returns the tracked files sorted by path.
func (b *Batch) Files() []*File {
	var files []*File
	b.files.Range(func(_, v any) bool {
		files = append(files, v.(*File))
		return true
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func (b *Batch) Total() int64      { return b.total.Load() }
func (b *Batch) Downloaded() int64 { return b.downloaded.Load() }
func (b *Batch) Last() *File       { return b.last.Load() }

// Transferred excludes resumed bytes, so it is the basis for the speed figure.
func (b *Batch) Transferred() int64 { return b.transferred.Load() }

func (b *Batch) Elapsed() time.Duration {
	return time.Since(time.Unix(0, b.started.Load()))
}

// Percent is the byte-weighted completion of the whole batch.
func (b *Batch) Percent() float64 {
	total := b.total.Load()
	if total <= 0 {
		return 0
	}
	return float64(b.downloaded.Load()) / float64(total) * 100
}
