package packdlhttp

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/packdl/internal/progress"
	"github.com/tanq16/packdl/internal/utils"
	"golang.org/x/time/rate"
)

type Options struct {
	ChunkSize      int64         // bytes per ranged request
	ChunkThreshold int64         // sizes at or below this are streamed
	Connections    int           // concurrent chunks per file, 0 for unbounded
	Retries        int           // extra attempts per chunk or stream
	RetryBackoff   time.Duration // multiplied by the attempt number
	BandwidthLimit int64         // bytes/s across the downloader, 0 for none
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:      DefaultChunkSize,
		ChunkThreshold: DefaultChunkThreshold,
		Retries:        3,
		RetryBackoff:   500 * time.Millisecond,
	}
}

type TransferRequest struct {
	URI         string
	Destination string
	Resume      bool
}

type State int

const (
	StatePending State = iota
	StateProbing
	StateChunked
	StateStreamed
	StateCompleting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProbing:
		return "probing"
	case StateChunked:
		return "chunked"
	case StateStreamed:
		return "streamed"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "invalid"
}

type Result struct {
	URI      string
	Path     string
	Strategy Strategy
	State    State
	FailedIn State // state the transfer was in when it failed
	Probe    ProbeResult
	Written  int64 // bytes received over the network
	Resumed  bool
	Chunks   int
	Elapsed  time.Duration
}

// Downloader fetches single resources. It is safe for concurrent use; transfers
// to the same destination are serialized.
type Downloader struct {
	client  utils.HTTPDoer
	opts    Options
	limiter *rate.Limiter
	locks   *pathLocks
}

func NewDownloader(client utils.HTTPDoer, opts Options) *Downloader {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = def.ChunkThreshold
	}
	opts.Retries = max(opts.Retries, 0)
	opts.Connections = max(opts.Connections, 0)
	return &Downloader{
		client:  client,
		opts:    opts,
		limiter: newLimiter(opts.BandwidthLimit),
		locks:   newPathLocks(),
	}
}

func (d *Downloader) Options() Options { return d.opts }

// transfer is the per-request working state shared by the fetch paths.
type transfer struct {
	uri     string
	part    string
	resume  bool
	probe   ProbeResult
	file    *progress.File
	resumed bool
	chunks  int
}

// Fetch probes req.URI and downloads it to req.Destination, reporting bytes to
// batch (a private batch is used when nil).
func (d *Downloader) Fetch(ctx context.Context, req TransferRequest, batch *progress.Batch) (Result, error) {
	res := &Result{URI: req.URI, Path: req.Destination}
	start := time.Now()
	d.transition(res, StateProbing)
	probe, err := d.Probe(ctx, req.URI)
	if err != nil {
		return d.fail(res, start, err)
	}
	return d.run(ctx, req, probe, batch, res, start)
}

// FetchProbed downloads with a probe result obtained earlier by Probe.
func (d *Downloader) FetchProbed(ctx context.Context, req TransferRequest, probe ProbeResult, batch *progress.Batch) (Result, error) {
	res := &Result{URI: req.URI, Path: req.Destination}
	d.transition(res, StateProbing)
	return d.run(ctx, req, probe, batch, res, time.Now())
}

func (d *Downloader) run(ctx context.Context, req TransferRequest, probe ProbeResult, batch *progress.Batch, res *Result, start time.Time) (Result, error) {
	res.Probe = probe
	res.Strategy = ChooseStrategy(probe, d.opts.ChunkThreshold)
	path, err := filepath.Abs(req.Destination)
	if err != nil {
		return d.fail(res, start, &FileSystemError{Op: "abs", Path: req.Destination, Err: err})
	}
	res.Path = path

	unlock := d.locks.Lock(path)
	defer unlock()

	if batch == nil {
		batch = progress.NewBatch()
	}
	t := &transfer{
		uri:    req.URI,
		part:   partPath(path),
		resume: req.Resume,
		probe:  probe,
		file:   batch.Track(path, probe.TotalSize),
	}
	if err := ensureParent(path); err != nil {
		return d.fail(res, start, err)
	}

	if req.Resume && probe.TotalSize >= 0 && isComplete(path, probe.TotalSize) {
		log.Debug().Str("op", "http/downloader").Msgf("%s already complete", path)
		res.Resumed = true
		return d.complete(res, start, t, "")
	}

	switch res.Strategy {
	case StrategyEmpty:
		d.transition(res, StateStreamed)
		if err := os.WriteFile(t.part, nil, 0644); err != nil {
			return d.fail(res, start, &FileSystemError{Op: "create", Path: t.part, Err: err})
		}
	case StrategyChunked:
		d.transition(res, StateChunked)
		res.Written, err = d.fetchChunked(ctx, t)
	default:
		d.transition(res, StateStreamed)
		res.Written, err = d.fetchWhole(ctx, t)
	}
	res.Resumed = t.resumed
	res.Chunks = t.chunks
	if err != nil {
		return d.fail(res, start, err)
	}
	return d.complete(res, start, t, t.part)
}

// complete renames part onto the destination (when given) and forces the file
// counter to its total.
func (d *Downloader) complete(res *Result, start time.Time, t *transfer, part string) (Result, error) {
	d.transition(res, StateCompleting)
	if part != "" {
		if err := finalize(part, res.Path); err != nil {
			return d.fail(res, start, err)
		}
	}
	t.file.Complete()
	d.transition(res, StateDone)
	res.Elapsed = time.Since(start)
	log.Debug().Str("op", "http/downloader").Str("strategy", res.Strategy.String()).Int64("written", res.Written).Msgf("Download successful for %s", res.Path)
	return *res, nil
}

func (d *Downloader) fail(res *Result, start time.Time, err error) (Result, error) {
	res.FailedIn = res.State
	d.transition(res, StateFailed)
	res.Elapsed = time.Since(start)
	log.Debug().Str("op", "http/downloader").Err(err).Str("in", res.FailedIn.String()).Msgf("Download failed for %s", res.URI)
	return *res, err
}

func (d *Downloader) transition(res *Result, next State) {
	log.Debug().Str("op", "http/downloader").Str("uri", res.URI).Str("from", res.State.String()).Str("to", next.String()).Msg("State change")
	res.State = next
}

func (d *Downloader) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt+1) * d.opts.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
