package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	packdlhttp "github.com/tanq16/packdl/internal/downloaders/http"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/progress"
	"github.com/tanq16/packdl/internal/utils"
)

// Item is one requested download. Dir defaults to the batch target directory
// and Name to a name derived from the URI.
type Item struct {
	URI  string
	Dir  string
	Name string
}

type Outcome struct {
	URI    string
	Path   string
	Result packdlhttp.Result
	Err    error
}

type Report struct {
	Outcomes map[string]Outcome // keyed by requested URI
	Progress *progress.Batch
}

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes sorted by URI.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].URI < failed[j].URI })
	return failed
}

type Options struct {
	Workers  int  // concurrent files, 0 for one worker per item
	NoResume bool // restart every transfer from zero
	Reporter progress.ReporterOptions
	// Resolve maps a requested URI to the URL actually fetched (e.g. presigning
	// s3:// sources). Nil keeps URIs as they are.
	Resolve func(ctx context.Context, uri string) (string, error)
}

type Scheduler struct {
	dl     *packdlhttp.Downloader
	opts   Options
	logger zerolog.Logger
}

func New(dl *packdlhttp.Downloader, opts Options) *Scheduler {
	return &Scheduler{dl: dl, opts: opts, logger: output.GetLogger("scheduler")}
}

// job carries one item through resolve, probe and download.
type job struct {
	item     Item
	fetchURI string
	probe    packdlhttp.ProbeResult
	path     string
	result   packdlhttp.Result
	err      error
}

// FetchAll downloads uris into targetDir. An existing file as targetDir means
// its parent directory.
func (s *Scheduler) FetchAll(ctx context.Context, batch *progress.Batch, uris []string, targetDir string) Report {
	if info, err := os.Stat(targetDir); err == nil && !info.IsDir() {
		targetDir = filepath.Dir(targetDir)
	}
	items := make([]Item, 0, len(uris))
	for _, uri := range uris {
		items = append(items, Item{URI: uri, Dir: targetDir})
	}
	return s.FetchItems(ctx, batch, items)
}

// FetchItems resets batch, probes every item to learn the expected batch size,
// then downloads all of them concurrently while the reporter runs. One item's
// failure never stops the others.
func (s *Scheduler) FetchItems(ctx context.Context, batch *progress.Batch, items []Item) Report {
	if batch == nil {
		batch = progress.NewBatch()
	}
	batch.Reset()

	seen := make(map[string]bool)
	var jobs []*job
	for _, it := range items {
		if seen[it.URI] {
			s.logger.Debug().Str("uri", it.URI).Msg("Skipping duplicate URI")
			continue
		}
		seen[it.URI] = true
		jobs = append(jobs, &job{item: it})
	}

	s.runPool(jobs, func(j *job) { s.prepare(ctx, j) })

	taken := make(map[string]bool)
	for _, j := range jobs {
		if j.err != nil {
			continue
		}
		s.assignPath(j, taken)
		if j.err == nil {
			batch.Track(j.path, j.probe.TotalSize)
		}
	}
	s.logger.Debug().Int("items", len(jobs)).Int64("expected", batch.Total()).Msg("Probing finished")

	reporter := progress.NewReporter(batch, s.opts.Reporter)
	reporter.Start()
	s.runPool(jobs, func(j *job) {
		if j.err != nil {
			return
		}
		req := packdlhttp.TransferRequest{URI: j.fetchURI, Destination: j.path, Resume: !s.opts.NoResume}
		j.result, j.err = s.dl.FetchProbed(ctx, req, j.probe, batch)
	})
	reporter.Stop()

	report := Report{Outcomes: make(map[string]Outcome, len(jobs)), Progress: batch}
	for _, j := range jobs {
		if j.err != nil {
			s.logger.Error().Err(j.err).Str("uri", j.item.URI).Msg("Download failed")
		}
		report.Outcomes[j.item.URI] = Outcome{URI: j.item.URI, Path: j.path, Result: j.result, Err: j.err}
	}
	return report
}

// runPool feeds jobs through a channel to a fixed set of workers.
func (s *Scheduler) runPool(jobs []*job, fn func(*job)) {
	numWorkers := s.opts.Workers
	if numWorkers <= 0 || numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}
	jobCh := make(chan *job, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				fn(j)
			}
		}()
	}
	wg.Wait()
}

func (s *Scheduler) prepare(ctx context.Context, j *job) {
	j.fetchURI = j.item.URI
	if s.opts.Resolve != nil {
		resolved, err := s.opts.Resolve(ctx, j.item.URI)
		if err != nil {
			j.err = fmt.Errorf("error resolving %s: %w", j.item.URI, err)
			return
		}
		j.fetchURI = resolved
	}
	parsed, err := url.Parse(j.fetchURI)
	if err != nil {
		j.err = fmt.Errorf("invalid URL: %w", err)
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		j.err = fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
		return
	}
	j.probe, j.err = s.dl.Probe(ctx, j.fetchURI)
}

// assignPath names the destination in input order so duplicate names inside the
// batch get stable "-(n)" suffixes.
func (s *Scheduler) assignPath(j *job, taken map[string]bool) {
	name := utils.SanitizeFileName(j.item.Name)
	if name == "" {
		name = utils.DeriveFileName(j.item.URI)
	}
	if name == "" {
		name = j.probe.FileName
	}
	if name == "" {
		name = utils.GenerateFileName()
	}
	path, err := filepath.Abs(filepath.Join(j.item.Dir, name))
	if err != nil {
		j.err = fmt.Errorf("error resolving output path: %w", err)
		return
	}
	if taken[path] {
		path = utils.RenewOutputPath(path, func(p string) bool { return taken[p] })
	}
	taken[path] = true
	j.path = path
}
