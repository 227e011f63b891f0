package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanq16/packdl/internal/output"
)

const DefaultReportInterval = 500 * time.Millisecond

type ReporterOptions struct {
	Interval time.Duration
	Out      io.Writer
	BarWidth int
}

// Reporter periodically renders a one-line view of a Batch.
type Reporter struct {
	batch        *Batch
	opts         ReporterOptions
	lastRendered atomic.Int64
	rendered     atomic.Bool
	doneCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewReporter(batch *Batch, opts ReporterOptions) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReportInterval
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.BarWidth <= 0 {
		opts.BarWidth = max(10, min(output.TerminalWidth()/4, 40))
	}
	r := &Reporter{
		batch:  batch,
		opts:   opts,
		doneCh: make(chan struct{}),
	}
	r.lastRendered.Store(-1)
	return r
}

func (r *Reporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.write()
			case <-r.doneCh:
				return
			}
		}
	}()
}

// Stop ends the ticker loop and renders the final state once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.doneCh)
		r.wg.Wait()
		r.write()
		if r.rendered.Load() {
			fmt.Fprintln(r.opts.Out)
		}
	})
}

func (r *Reporter) write() {
	line, ok := r.Render()
	if !ok {
		return
	}
	r.rendered.Store(true)
	fmt.Fprint(r.opts.Out, "\r"+line+"\033[K")
}

// Render builds the progress line. It returns false when the downloaded byte
// count has not moved since the previous render.
func (r *Reporter) Render() (string, bool) {
	downloaded := r.batch.Downloaded()
	if r.lastRendered.Swap(downloaded) == downloaded {
		return "", false
	}
	total := r.batch.Total()
	line := fmt.Sprintf("%s %s / %s %s",
		output.PrintProgressBar(downloaded, total, r.opts.BarWidth),
		output.FormatBytes(downloaded),
		output.FormatBytes(total),
		output.FInfo(output.FormatSpeed(r.batch.Transferred(), r.batch.Elapsed().Seconds())),
	)
	if last := r.batch.Last(); last != nil {
		line += " " + output.StyleSymbols["dot"] + " " + fileStatus(last)
	}
	return line, true
}

func fileStatus(f *File) string {
	name := filepath.Base(f.Path)
	if len(name) > 25 {
		name = "..." + name[len(name)-22:]
	}
	total := f.Total()
	if total < 0 {
		return output.FDetail(name) + " " + output.FormatBytes(f.Downloaded())
	}
	return fmt.Sprintf("%s %.1f%%", output.FDetail(name), output.Percent(f.Downloaded(), total))
}
