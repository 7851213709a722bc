package warper

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// Config sizes the farm.
type Config struct {
	// Processes is the worker count; defaults to hardware concurrency.
	Processes int
	// RSSLimit is the aggregate worker RSS budget in bytes; 0 disables
	// the check.
	RSSLimit int64
	// RSSCheckPeriod is the housekeeping period.
	RSSCheckPeriod time.Duration
	// MaxRequestsPerWorker recycles a worker after that many requests;
	// 0 disables.
	MaxRequestsPerWorker int
	// DatasetCacheSize bounds each worker's open-dataset LRU.
	DatasetCacheSize int
	// TmpRoot is exported to workers as their GDAL scratch space.
	TmpRoot string
	// WorkerCommand spawns one worker process; defaults to re-executing
	// this binary with the gdal-worker subcommand.
	WorkerCommand []string
}

func (c Config) withDefaults() Config {
	if c.Processes <= 0 {
		c.Processes = runtime.NumCPU()
	}
	if c.RSSCheckPeriod <= 0 {
		c.RSSCheckPeriod = 10 * time.Second
	}
	if c.DatasetCacheSize <= 0 {
		c.DatasetCacheSize = 32
	}
	if len(c.WorkerCommand) == 0 {
		c.WorkerCommand = []string{os.Args[0], "gdal-worker"}
	}
	return c
}

type pending struct {
	ch chan *Response
}

// statusLost is parent-side only: the worker died with the request in
// flight.
const statusLost Status = -1

// worker is one child process plus its dispatch bookkeeping.
type worker struct {
	cmd   *exec.Cmd
	stdin interface{ Close() error }
	enc   interface{ Encode(any) error }

	mu       sync.Mutex
	pending  map[uint64]*pending
	lost     bool
	requests int
	busy     bool
}

func (w *worker) fail(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lost = true
	for id, p := range w.pending {
		p.ch <- &Response{ID: id, Status: statusLost, Error: msg}
		delete(w.pending, id)
	}
}

// Farm is the pool. It is safe for concurrent use; callers are
// serialised only by the bounded number of workers.
type Farm struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	workers []*worker
	free    chan *worker
	closed  bool

	nextID  uint64
	idMu    sync.Mutex
	metrics *metrics

	stopHousekeeping context.CancelFunc
	housekeepingDone chan struct{}
}

// New starts the farm with cfg.Processes workers.
func New(cfg Config, log *slog.Logger) (*Farm, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	f := &Farm{
		cfg:     cfg,
		log:     log,
		free:    make(chan *worker, cfg.Processes),
		metrics: newMetrics(),
	}
	for i := 0; i < cfg.Processes; i++ {
		w, err := f.spawn()
		if err != nil {
			f.Close()
			return nil, err
		}
		f.workers = append(f.workers, w)
		f.free <- w
	}

	hctx, cancel := context.WithCancel(context.Background())
	f.stopHousekeeping = cancel
	f.housekeepingDone = make(chan struct{})
	go f.housekeeping(hctx)

	log.Info("warper farm started", "processes", cfg.Processes,
		"rss_limit", cfg.RSSLimit, "rss_check_period", cfg.RSSCheckPeriod)
	return f, nil
}

func (f *Farm) spawn() (*worker, error) {
	cmd := exec.Command(f.cfg.WorkerCommand[0], f.cfg.WorkerCommand[1:]...)
	cmd.Stderr = os.Stderr
	if f.cfg.TmpRoot != "" {
		cmd.Env = append(os.Environ(), "CPL_TMPDIR="+f.cfg.TmpRoot)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "warper: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "warper: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "warper: start worker")
	}

	w := &worker{
		cmd:     cmd,
		stdin:   stdin,
		enc:     newEncoder(stdin),
		pending: map[uint64]*pending{},
	}

	// reader goroutine: correlate responses, detect crash by pipe EOF
	go func() {
		dec := newDecoder(stdout)
		for {
			var resp Response
			if err := dec.Decode(&resp); err != nil {
				w.fail("warper: worker lost: " + err.Error())
				cmd.Wait()
				f.replace(w)
				return
			}
			w.mu.Lock()
			if p, ok := w.pending[resp.ID]; ok {
				delete(w.pending, resp.ID)
				p.ch <- &resp
			}
			w.mu.Unlock()
		}
	}()

	f.metrics.workers.Inc()
	return w, nil
}

// replace drops a dead worker and spawns a successor.
func (f *Farm) replace(dead *worker) {
	f.metrics.workers.Dec()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	for i, w := range f.workers {
		if w == dead {
			f.workers = append(f.workers[:i], f.workers[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	w, err := f.spawn()
	if err != nil {
		f.log.Error("warper: respawn failed", "error", err)
		return
	}
	f.mu.Lock()
	f.workers = append(f.workers, w)
	f.mu.Unlock()
	f.free <- w
	f.log.Warn("warper: worker replaced")
}

func (f *Farm) id() uint64 {
	f.idMu.Lock()
	defer f.idMu.Unlock()
	f.nextID++
	return f.nextID
}

// Warp dispatches one request and blocks until the worker answers, the
// context is cancelled, or the worker dies. A dead worker surfaces as a
// WorkerLost error; the caller may retry once.
func (f *Farm) Warp(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "warper: request aborted")
	}

	var w *worker
	select {
	case w = <-f.free:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "warper: request aborted")
	}

	req.ID = f.id()
	p := &pending{ch: make(chan *Response, 1)}

	w.mu.Lock()
	if w.lost {
		w.mu.Unlock()
		return nil, errs.New(errs.WorkerLost, "warper: worker lost before dispatch")
	}
	w.pending[req.ID] = p
	w.requests++
	w.busy = true
	w.mu.Unlock()

	release := func() {
		w.mu.Lock()
		w.busy = false
		lost := w.lost
		recycle := f.cfg.MaxRequestsPerWorker > 0 && w.requests >= f.cfg.MaxRequestsPerWorker
		w.mu.Unlock()
		if lost {
			return
		}
		if recycle {
			f.metrics.recycles.Inc()
			f.retire(w)
			return
		}
		f.free <- w
	}

	if err := w.enc.Encode(envelope{Request: &req}); err != nil {
		w.fail("warper: send failed: " + err.Error())
		release()
		return nil, errs.New(errs.WorkerLost, "warper: worker lost: %v", err)
	}

	select {
	case resp := <-p.ch:
		release()
		return finish(f.metrics, resp)

	case <-ctx.Done():
		// propagate cancellation; the worker answers Cancelled between
		// its processing steps
		w.mu.Lock()
		lost := w.lost
		w.mu.Unlock()
		if !lost {
			id := req.ID
			w.enc.Encode(envelope{Cancel: &id})
		}
		select {
		case resp := <-p.ch:
			release()
			if resp.Status == StatusOK {
				// finished before the cancel landed; still report abort
				f.metrics.observe(StatusCancelled)
				return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "warper: request aborted")
			}
			return finish(f.metrics, resp)
		case <-time.After(5 * time.Second):
			// worker stuck in a GDAL call; recycle it
			w.fail("warper: cancel timeout")
			w.cmd.Process.Kill()
			release()
			f.metrics.observe(StatusCancelled)
			return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "warper: request aborted")
		}
	}
}

func finish(m *metrics, resp *Response) (*Response, error) {
	m.observe(resp.Status)
	switch resp.Status {
	case StatusOK:
		return resp, nil
	case StatusCancelled:
		return nil, errs.New(errs.Cancelled, "warper: request aborted")
	case statusLost:
		return nil, errs.New(errs.WorkerLost, "%s", resp.Error)
	default:
		return nil, errs.New(errs.Internal, "warper: %s", resp.Error)
	}
}

// WarpImage is the synchronous convenience wrapper producers use; it
// retries once on a lost worker.
func (f *Farm) WarpImage(ctx context.Context, req Request) (*gdal.Raster, error) {
	resp, err := f.Warp(ctx, req)
	if errs.Is(err, errs.WorkerLost) {
		resp, err = f.Warp(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp.Raster, nil
}

// HeightcodeVector runs a heightcode request with the same retry
// policy.
func (f *Farm) HeightcodeVector(ctx context.Context, req Request) ([]byte, error) {
	resp, err := f.Warp(ctx, req)
	if errs.Is(err, errs.WorkerLost) {
		resp, err = f.Warp(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}

// retire asks an idle worker to exit by closing its stdin and replaces
// it.
func (f *Farm) retire(w *worker) {
	w.mu.Lock()
	w.lost = true
	w.mu.Unlock()
	if w.stdin != nil {
		w.stdin.Close()
	}
	w.cmd.Process.Kill()
}

// housekeeping enforces the RSS budget on a fixed period: when the sum
// of worker RSS exceeds the budget, the largest idle worker is retired
// and replaced.
func (f *Farm) housekeeping(ctx context.Context) {
	defer close(f.housekeepingDone)
	ticker := time.NewTicker(f.cfg.RSSCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.checkRSS()
		}
	}
}

func (f *Farm) checkRSS() {
	f.mu.Lock()
	workers := append([]*worker(nil), f.workers...)
	f.mu.Unlock()

	var total int64
	var largest *worker
	var largestRSS int64
	for _, w := range workers {
		rss := processRSS(w.cmd.Process.Pid)
		total += rss
		w.mu.Lock()
		idle := !w.busy && !w.lost
		w.mu.Unlock()
		if idle && rss > largestRSS {
			largest, largestRSS = w, rss
		}
	}
	f.metrics.rss.Set(float64(total))

	if f.cfg.RSSLimit > 0 && total > f.cfg.RSSLimit && largest != nil {
		f.log.Warn("warper: rss budget exceeded, recycling worker",
			"total", total, "limit", f.cfg.RSSLimit, "worker_rss", largestRSS)
		f.metrics.recycles.Inc()
		f.retire(largest)
	}
}

// Close shuts the farm down. In-flight requests fail.
func (f *Farm) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	workers := append([]*worker(nil), f.workers...)
	f.workers = nil
	f.mu.Unlock()

	if f.stopHousekeeping != nil {
		f.stopHousekeeping()
		<-f.housekeepingDone
	}
	for _, w := range workers {
		w.fail("warper: farm closed")
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
}
