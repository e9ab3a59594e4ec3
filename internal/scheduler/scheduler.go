// Package scheduler drives the periodic capture/evaluate loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/storage"
)

// ErrCycleInFlight is returned by RunNow when a cycle is already running.
var ErrCycleInFlight = errors.New("capture cycle already in flight")

// Phases of a running scheduler.
const (
	PhaseIdle       = "idle"
	PhaseCapturing  = "capturing"
	PhaseEvaluating = "evaluating"
)

// TaskLister is the slice of the storage layer the scheduler needs.
type TaskLister interface {
	ActiveTasks() ([]storage.TaskWithSteps, error)
}

// Evaluator judges one capture event against the monitored tasks.
type Evaluator interface {
	Evaluate(ctx context.Context, event capture.Event, tasks []storage.TaskWithSteps) (storage.CommitResult, error)
}

// Stats is a snapshot of the scheduler's counters for the status surface.
type Stats struct {
	Running      bool          `json:"running"`
	Phase        string        `json:"phase"`
	Interval     time.Duration `json:"interval"`
	Ticks        int64         `json:"ticks"`
	Skips        int64         `json:"skips"`
	Failures     int64         `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
	LastStartAt  time.Time     `json:"last_start_at,omitzero"`
	LastEndAt    time.Time     `json:"last_end_at,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
}

// Scheduler runs capture cycles at a configurable interval. A tick that
// arrives while the previous cycle is still running is skipped and counted
// rather than queued.
type Scheduler struct {
	source       capture.Source
	tasks        TaskLister
	eval         Evaluator
	log          *slog.Logger
	cycleTimeout time.Duration

	// OnCycle receives a stats snapshot after every finished cycle. Optional.
	OnCycle func(Stats)

	mu       sync.Mutex
	running  bool
	stopping bool
	inFlight bool
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	stats    Stats

	wg sync.WaitGroup
}

// New creates a scheduler. A zero cycleTimeout defaults to 60 seconds.
func New(source capture.Source, tasks TaskLister, eval Evaluator, log *slog.Logger, cycleTimeout time.Duration) *Scheduler {
	if cycleTimeout <= 0 {
		cycleTimeout = 60 * time.Second
	}
	return &Scheduler{
		source:       source,
		tasks:        tasks,
		eval:         eval,
		log:          log,
		cycleTimeout: cycleTimeout,
	}
}

// Start begins ticking at the given interval. Calling Start while running
// is a no-op.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.interval = interval
	s.stats.Phase = PhaseIdle

	go s.loop(ctx, s.done)
	s.log.Info("capture scheduler started", "interval", interval)
	return nil
}

// Stop requests a cooperative stop and waits for the loop to exit. An
// in-flight cycle finishes first. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.stopping = true
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	s.log.Info("capture scheduler stopped")
}

// SetInterval changes the tick interval. A running scheduler applies it on
// its next wake without restarting.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the scheduler's state and counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running
	st.Interval = s.interval
	if !s.running {
		st.Phase = ""
	}
	return st
}

// RunNow executes one cycle immediately, independent of the tick loop. It
// refuses to overlap a cycle already in flight.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.tryAcquire() {
		return ErrCycleInFlight
	}
	defer s.release()
	return s.cycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	current := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		s.stats.Ticks++
		if s.interval != current {
			current = s.interval
			ticker.Reset(current)
		}
		s.mu.Unlock()

		if !s.tryAcquire() {
			s.mu.Lock()
			s.stats.Skips++
			skips := s.stats.Skips
			s.mu.Unlock()
			s.log.Warn("skipping tick, previous cycle still running", "skips", skips)
			continue
		}

		// The cycle runs detached from the loop context so a stop request
		// does not abort work already underway. The cycle timeout still
		// bounds it, and Stop waits on the group.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			if err := s.cycle(context.Background()); err != nil {
				s.log.Error("capture cycle failed", "error", err)
			}
		}()
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Scheduler) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.inFlight = false
	s.stats.Phase = PhaseIdle
	s.mu.Unlock()
}

// cycle runs one capture/evaluate pass under the configured timeout. A hung
// capture or model call degrades to a failed, logged cycle.
func (s *Scheduler) cycle(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cycleTimeout)
	defer cancel()

	start := time.Now()
	s.setPhase(PhaseCapturing, start)

	err := s.runCycle(ctx)

	end := time.Now()
	s.mu.Lock()
	s.stats.LastEndAt = end
	s.stats.LastDuration = end.Sub(start)
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	snapshot := s.stats
	snapshot.Running = s.running
	snapshot.Interval = s.interval
	onCycle := s.OnCycle
	s.mu.Unlock()

	if onCycle != nil {
		onCycle(snapshot)
	}
	return err
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	event, err := s.source.Capture(ctx)
	if err != nil {
		var capErr *capture.Error
		if errors.As(err, &capErr) && capErr.Kind == capture.PermissionDenied {
			s.log.Warn("capture permission denied, check OS screen access", "error", err)
		}
		return fmt.Errorf("capturing: %w", err)
	}

	// A stop requested during capture ends the cycle before the model call.
	if s.stopRequested() {
		return nil
	}

	s.setPhase(PhaseEvaluating, time.Time{})

	tasks, err := s.tasks.ActiveTasks()
	if err != nil {
		return fmt.Errorf("listing active tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	if _, err := s.eval.Evaluate(ctx, event, tasks); err != nil {
		return fmt.Errorf("evaluating capture: %w", err)
	}
	return nil
}

func (s *Scheduler) setPhase(phase string, start time.Time) {
	s.mu.Lock()
	s.stats.Phase = phase
	if !start.IsZero() {
		s.stats.LastStartAt = start
	}
	s.mu.Unlock()
}
