package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrDetectionRunning is returned when a detection trigger arrives while a
// previous run is still in progress. The trigger is skipped, not queued.
var ErrDetectionRunning = errors.New("a detection run is already in progress")

// JobRunner owns the periodic jobs: cycle detection (every detectEvery) and
// the deadline sweeps (every sweepEvery). It holds its own running flag —
// scheduled and manual detection triggers share the same gate, so the batch
// job is never re-entered. Errors and panics inside a tick are logged and
// never stop future ticks.
type JobRunner struct {
	detector  *Detector
	lifecycle *Lifecycle

	detectEvery  time.Duration
	sweepEvery   time.Duration
	maxCycleSize int
	topN         int

	mu      sync.Mutex
	running bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJobRunner creates an idle runner. Call Start to begin the loops.
func NewJobRunner(detector *Detector, lifecycle *Lifecycle, detectEvery, sweepEvery time.Duration, maxCycleSize, topN int) *JobRunner {
	return &JobRunner{
		detector:     detector,
		lifecycle:    lifecycle,
		detectEvery:  detectEvery,
		sweepEvery:   sweepEvery,
		maxCycleSize: maxCycleSize,
		topN:         topN,
		stop:         make(chan struct{}),
	}
}

// Start launches the detection and sweep loops. Call once.
func (r *JobRunner) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.loop(ctx, "detect", r.detectEvery, func(ctx context.Context) {
		if _, err := r.TriggerDetection(ctx); err != nil && !errors.Is(err, ErrDetectionRunning) {
			log.Printf("[scheduler] detection run failed: %v", err)
		}
	})
	go r.loop(ctx, "sweep", r.sweepEvery, func(ctx context.Context) {
		if _, err := r.lifecycle.SweepConfirmationTimeouts(ctx); err != nil {
			log.Printf("[scheduler] confirmation sweep failed: %v", err)
		}
		if _, err := r.lifecycle.SweepCompletionDeadlines(ctx); err != nil {
			log.Printf("[scheduler] completion sweep failed: %v", err)
		}
	})
	log.Printf("[scheduler] Started (detect every %s, sweep every %s)", r.detectEvery, r.sweepEvery)
}

// Stop halts the loops and waits for any in-flight tick to finish.
// Safe to call more than once.
func (r *JobRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()
		log.Println("[scheduler] Stopped")
	})
}

// TriggerDetection runs one detection batch. Safe to call from the admin
// endpoint and the scheduled loop concurrently: whoever arrives second gets
// ErrDetectionRunning instead of a second run.
func (r *JobRunner) TriggerDetection(ctx context.Context) (int, error) {
	if !r.tryBegin() {
		return 0, ErrDetectionRunning
	}
	defer r.end()

	return r.detector.DetectAndSave(ctx, r.maxCycleSize, r.topN)
}

func (r *JobRunner) tryBegin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *JobRunner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *JobRunner) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context)) {
	defer r.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.safeTick(ctx, name, tick)
		}
	}
}

// safeTick runs one tick, recovering panics so a bad batch never kills the
// loop.
func (r *JobRunner) safeTick(ctx context.Context, name string, tick func(context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[scheduler] PANIC in %s tick: %v", name, p)
		}
	}()
	tick(ctx)
}
