package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/storage"
)

type fakeSource struct {
	mu        sync.Mutex
	delay     time.Duration
	err       error
	calls     int
	inFlight  int32
	maxFlight int32
}

func (f *fakeSource) Capture(ctx context.Context) (capture.Event, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		old := atomic.LoadInt32(&f.maxFlight)
		if cur <= old || atomic.CompareAndSwapInt32(&f.maxFlight, old, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return capture.Event{}, ctx.Err()
		}
	}
	if err != nil {
		return capture.Event{}, err
	}
	return capture.Event{ID: "ev", Text: "screen text", Application: "App"}, nil
}

func (f *fakeSource) captureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLister struct {
	tasks []storage.TaskWithSteps
	err   error
}

func (f *fakeLister) ActiveTasks() ([]storage.TaskWithSteps, error) {
	return f.tasks, f.err
}

type fakeEvaluator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, ev capture.Event, tasks []storage.TaskWithSteps) (storage.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return storage.CommitResult{}, f.err
}

func (f *fakeEvaluator) evalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func oneTask() []storage.TaskWithSteps {
	return []storage.TaskWithSteps{{
		Task:  storage.Task{ID: 1, Status: storage.TaskActive},
		Steps: []storage.TaskStep{{ID: 1, StepNumber: 1, Status: storage.StepPending}},
	}}
}

func newTestScheduler(src capture.Source, lister TaskLister, eval Evaluator) *Scheduler {
	return New(src, lister, eval, slog.New(slog.DiscardHandler), 5*time.Second)
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{}
	eval := &fakeEvaluator{}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, eval)

	if err := s.Start(10 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(10 * time.Millisecond); err != nil {
		t.Fatalf("second Start not idempotent: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if src.captureCalls() == 0 {
		t.Error("no captures ran")
	}
	if eval.evalCalls() == 0 {
		t.Error("no evaluations ran")
	}

	calls := src.captureCalls()
	time.Sleep(40 * time.Millisecond)
	if src.captureCalls() != calls {
		t.Error("captures continued after Stop")
	}

	st := s.Stats()
	if st.Running {
		t.Error("Stats().Running = true after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeSource{}, &fakeLister{}, &fakeEvaluator{})
	s.Stop() // never started
	if err := s.Start(time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
}

// blockingEvaluator parks in Evaluate until released and records whether its
// context was still live when it finished.
type blockingEvaluator struct {
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	ctxErr   error
	finished bool
}

func (b *blockingEvaluator) Evaluate(ctx context.Context, ev capture.Event, tasks []storage.TaskWithSteps) (storage.CommitResult, error) {
	close(b.started)
	<-b.release
	b.mu.Lock()
	b.ctxErr = ctx.Err()
	b.finished = true
	b.mu.Unlock()
	return storage.CommitResult{}, nil
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	eval := &blockingEvaluator{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestScheduler(&fakeSource{}, &fakeLister{tasks: oneTask()}, eval)

	if err := s.Start(10 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-eval.started:
	case <-time.After(time.Second):
		t.Fatal("evaluation never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(eval.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	eval.mu.Lock()
	defer eval.mu.Unlock()
	if !eval.finished {
		t.Fatal("evaluation did not run to completion")
	}
	if eval.ctxErr != nil {
		t.Errorf("evaluation context err = %v, want nil", eval.ctxErr)
	}
}

func TestStopDuringCaptureSkipsEvaluation(t *testing.T) {
	src := &fakeSource{delay: 100 * time.Millisecond}
	eval := &fakeEvaluator{}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, eval)

	if err := s.Start(10 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if src.captureCalls() == 0 {
		t.Fatal("no capture started before Stop")
	}
	if eval.evalCalls() != 0 {
		t.Errorf("evaluations = %d, want 0 after a stop mid-capture", eval.evalCalls())
	}
	st := s.Stats()
	if st.LastError != "" {
		t.Errorf("last error = %q, want none", st.LastError)
	}
}

func TestSlowCycleSkipsTicks(t *testing.T) {
	src := &fakeSource{delay: 120 * time.Millisecond}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, &fakeEvaluator{})

	if err := s.Start(15 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if max := atomic.LoadInt32(&src.maxFlight); max > 1 {
		t.Errorf("max concurrent captures = %d, want 1", max)
	}
	st := s.Stats()
	if st.Skips == 0 {
		t.Error("no ticks skipped despite slow cycles")
	}
	if st.Ticks <= st.Skips {
		t.Errorf("ticks (%d) should exceed skips (%d)", st.Ticks, st.Skips)
	}
}

func TestSetIntervalValidation(t *testing.T) {
	s := newTestScheduler(&fakeSource{}, &fakeLister{}, &fakeEvaluator{})
	if err := s.SetInterval(0); err == nil {
		t.Error("SetInterval(0) accepted")
	}
	if err := s.SetInterval(time.Second); err != nil {
		t.Errorf("SetInterval(1s): %v", err)
	}
	if got := s.Stats().Interval; got != time.Second {
		t.Errorf("interval = %s, want 1s", got)
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	s := newTestScheduler(&fakeSource{}, &fakeLister{}, &fakeEvaluator{})
	if err := s.Start(0); err == nil {
		t.Error("Start(0) accepted")
	}
}

func TestRunNow(t *testing.T) {
	src := &fakeSource{}
	eval := &fakeEvaluator{}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, eval)

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if eval.evalCalls() != 1 {
		t.Errorf("evaluations = %d, want 1", eval.evalCalls())
	}
}

func TestRunNowRefusesOverlap(t *testing.T) {
	src := &fakeSource{delay: 150 * time.Millisecond}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, &fakeEvaluator{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.RunNow(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Errorf("overlapping RunNow err = %v, want ErrCycleInFlight", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("first RunNow: %v", err)
	}
}

func TestFailedCaptureCounted(t *testing.T) {
	src := &fakeSource{err: &capture.Error{Kind: capture.PermissionDenied}}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, &fakeEvaluator{})

	if err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected capture error")
	}
	st := s.Stats()
	if st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestNoTasksSkipsEvaluation(t *testing.T) {
	src := &fakeSource{}
	eval := &fakeEvaluator{}
	s := newTestScheduler(src, &fakeLister{}, eval)

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if eval.evalCalls() != 0 {
		t.Error("evaluation ran with no active tasks")
	}
}

func TestOnCycleCallback(t *testing.T) {
	src := &fakeSource{}
	s := newTestScheduler(src, &fakeLister{tasks: oneTask()}, &fakeEvaluator{})

	var got []Stats
	var mu sync.Mutex
	s.OnCycle = func(st Stats) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	}

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("cycle callbacks = %d, want 1", len(got))
	}
	if got[0].LastStartAt.IsZero() || got[0].LastEndAt.IsZero() {
		t.Error("cycle snapshot missing timestamps")
	}
}
