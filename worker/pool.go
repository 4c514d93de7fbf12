package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"pdfextract/config"
	"pdfextract/extract"
	"pdfextract/task"
)

// Extractor is the pipeline contract the pool depends on. *extract.Pipeline
// satisfies it; tests substitute stubs.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string, report extract.ProgressFn) (*extract.Result, string, error)
}

// Pool owns a fixed set of symmetric workers draining the queue. Workers
// communicate only through the Queue and Store contracts, never with each
// other. The pool holds all its dependencies explicitly; there is no
// package-level state.
type Pool struct {
	cfg      *config.Config
	store    task.Store
	queue    task.Queue
	pipeline Extractor
	log      zerolog.Logger

	workers []*worker
	wg      sync.WaitGroup
}

// worker carries one loop's advisory counters. They are observability
// state only, not part of the correctness contract.
type worker struct {
	id int

	mu        sync.Mutex
	running   bool
	current   string
	processed int
	failed    int
	startedAt time.Time
}

// Stats is a point-in-time snapshot of one worker.
type Stats struct {
	WorkerID      int     `json:"worker_id"`
	Running       bool    `json:"is_running"`
	CurrentTask   string  `json:"current_task,omitempty"`
	Processed     int     `json:"processed_count"`
	Failed        int     `json:"failed_count"`
	SuccessRate   float64 `json:"success_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// PoolStats aggregates all workers for the operational endpoints.
type PoolStats struct {
	TotalWorkers       int     `json:"total_workers"`
	ActiveWorkers      int     `json:"active_workers"`
	TotalProcessed     int     `json:"total_processed"`
	TotalFailed        int     `json:"total_failed"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
	Workers            []Stats `json:"workers"`
}

func NewPool(cfg *config.Config, store task.Store, queue task.Queue, pipeline Extractor, log zerolog.Logger) *Pool {
	p := &Pool{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		pipeline: pipeline,
		log:      log.With().Str("component", "worker-pool").Logger(),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		p.workers = append(p.workers, &worker{id: i})
	}
	return p
}

// Start launches all workers. They run until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", len(p.workers)).Dur("poll_interval", p.cfg.PollInterval).Msg("worker pool starting")
	for _, w := range p.workers {
		w.mu.Lock()
		w.running = true
		w.startedAt = time.Now()
		w.mu.Unlock()

		p.wg.Add(1)
		go p.run(ctx, w)
	}
}

// Wait blocks until every worker loop has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, w *worker) {
	defer p.wg.Done()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		p.log.Info().Int("worker", w.id).Msg("worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := p.checkResources(); err != nil {
			p.log.Debug().Int("worker", w.id).Err(err).Msg("throttled, backing off")
			p.sleep(ctx)
			continue
		}

		id, err := p.queue.Dequeue(ctx, p.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Queue unavailability is infrastructure-level; back off and
			// keep polling rather than killing the worker.
			p.log.Error().Int("worker", w.id).Err(err).Msg("dequeue failed")
			p.sleep(ctx)
			continue
		}
		if id == "" {
			continue
		}

		p.process(ctx, w, id)
	}
}

// process handles one dequeued task end to end. Every failure is captured
// into the task record; nothing raised here may escape and stall the loop.
func (p *Pool) process(ctx context.Context, w *worker, id string) {
	log := p.log.With().Int("worker", w.id).Str("task_id", id).Logger()

	w.mu.Lock()
	w.current = id
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.current = ""
		w.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered task panic")
			p.writeFailure(ctx, w, id, task.KindExtractionFailed, fmt.Sprintf("internal error: %v", r), log)
		}
	}()

	if err := p.store.MarkProcessing(ctx, id, 10, "Starting PDF extraction..."); err != nil {
		// Deleted while queued, or another worker already finished it.
		// Either way there is nothing for this worker to do.
		log.Warn().Err(err).Msg("cannot mark task processing, skipping")
		return
	}

	t, err := p.store.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("task record vanished after pickup")
		return
	}

	data, err := p.store.Payload(ctx, id)
	if err != nil {
		p.writeFailure(ctx, w, id, task.KindExtractionFailed, "uploaded document is no longer available", log)
		return
	}

	log.Info().Str("filename", t.Filename).Int64("size", t.Size).Msg("processing task")
	start := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	report := func(progress int, message string) {
		// Progress writes race Delete by design; a missing record is a
		// warning, not a failure, and must never recreate the task.
		if err := p.store.Update(ctx, id, progress, message); err != nil {
			log.Warn().Err(err).Int("progress", progress).Msg("progress update dropped")
		}
	}

	result, backend, err := p.pipeline.Extract(taskCtx, data, t.Filename, report)
	if err != nil {
		kind := classifyFailure(err)
		p.writeFailure(ctx, w, id, kind, err.Error(), log)
	} else {
		if err := p.store.Complete(ctx, id, result, backend); err != nil {
			// First terminal write wins; our result is discarded. The
			// extraction itself succeeded, so this is not a failure for
			// the advisory counters either.
			log.Warn().Err(err).Msg("completion write rejected")
		} else {
			w.mu.Lock()
			w.processed++
			w.mu.Unlock()
			log.Info().Str("backend", backend).Dur("elapsed", time.Since(start)).Msg("task completed")
		}
	}

	if err := p.store.DeletePayload(ctx, id); err != nil {
		log.Warn().Err(err).Msg("payload cleanup failed")
	}
}

func (p *Pool) writeFailure(ctx context.Context, w *worker, id, kind, message string, log zerolog.Logger) {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()

	if err := p.store.Fail(ctx, id, kind, message); err != nil {
		if errors.Is(err, task.ErrNotFound) || errors.Is(err, task.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("failure write rejected")
		} else {
			log.Error().Err(err).Msg("could not record task failure")
		}
		return
	}
	log.Info().Str("kind", kind).Str("reason", message).Msg("task failed")
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, extract.ErrNotPDF):
		return task.KindInvalidDocument
	case errors.Is(err, context.DeadlineExceeded):
		return task.KindTimeout
	default:
		return task.KindExtractionFailed
	}
}

// sleep pauses for one poll interval, or less if the pool is shutting down.
func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// checkResources verifies the host has spare capacity before taking on
// more extraction work. Zero thresholds disable the corresponding check.
func (p *Pool) checkResources() error {
	if p.cfg.ThrottleCPU > 0 {
		// Interval 0 samples usage since the previous call.
		pct, err := cpu.Percent(0, false)
		if err == nil && len(pct) > 0 && pct[0] > (100.0-p.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU: current usage %.2f%%", pct[0])
		}
	}

	if p.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err == nil && vm.Available < uint64(p.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, p.cfg.ThrottleFreeMem)
		}
	}

	if p.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(os.TempDir())
		if err == nil && d.Free < uint64(p.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk: available %d, required %d", d.Free, p.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

// Stats snapshots every worker for the /workers endpoint.
func (p *Pool) Stats() PoolStats {
	var out PoolStats
	out.TotalWorkers = len(p.workers)

	for _, w := range p.workers {
		w.mu.Lock()
		s := Stats{
			WorkerID:    w.id,
			Running:     w.running,
			CurrentTask: w.current,
			Processed:   w.processed,
			Failed:      w.failed,
		}
		if !w.startedAt.IsZero() {
			s.UptimeSeconds = time.Since(w.startedAt).Seconds()
		}
		w.mu.Unlock()

		total := s.Processed + s.Failed
		if total > 0 {
			s.SuccessRate = float64(s.Processed) / float64(total) * 100
		}
		if s.Running {
			out.ActiveWorkers++
		}
		out.TotalProcessed += s.Processed
		out.TotalFailed += s.Failed
		out.Workers = append(out.Workers, s)
	}

	if grand := out.TotalProcessed + out.TotalFailed; grand > 0 {
		out.OverallSuccessRate = float64(out.TotalProcessed) / float64(grand) * 100
	}
	return out
}
