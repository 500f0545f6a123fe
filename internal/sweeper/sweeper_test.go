package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calcflow/calcflow/internal/engine"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(ctx context.Context, f engine.SweepFilter) (*engine.SweepReport, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &engine.SweepReport{Outcomes: []*engine.Outcome{{Created: []string{"x"}}}}, nil
}

type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *logBuffer) logf(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *logBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_SweepsOnStartAndTick(t *testing.T) {
	s := &countingSweeper{}
	logs := &logBuffer{}
	r := New(s, 10*time.Millisecond, engine.SweepFilter{}, logs.logf)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.calls.Load() >= 3 })
	r.Stop()

	after := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := s.calls.Load(); got != after {
		t.Errorf("sweeps continued after Stop: %d -> %d", after, got)
	}
	if logs.len() == 0 {
		t.Error("expected progress to be logged")
	}
}

func TestRunner_Wake(t *testing.T) {
	s := &countingSweeper{}
	r := New(s, time.Hour, engine.SweepFilter{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.calls.Load() == 1 })

	r.Wake()
	waitFor(t, func() bool { return s.calls.Load() == 2 })
	r.Stop()
}

func TestRunner_LogsErrors(t *testing.T) {
	s := &countingSweeper{err: errors.New("store unavailable")}
	logs := &logBuffer{}
	r := New(s, time.Hour, engine.SweepFilter{}, logs.logf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	if s.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", s.calls.Load())
	}
	if logs.len() != 1 {
		t.Fatalf("logged %v", logs.lines)
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(&countingSweeper{}, 0, engine.SweepFilter{}, nil)
	if r.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", r.interval, DefaultInterval)
	}
}
