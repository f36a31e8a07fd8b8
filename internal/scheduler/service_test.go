package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/models"
)

type fakePoller struct {
	calls atomic.Int32
	err   error
}

func (f *fakePoller) PollAll(ctx context.Context, trigger engine.Trigger, _ ...string) (*engine.Cycle, error) {
	f.calls.Add(1)
	if trigger != engine.TriggerScheduled {
		return nil, errors.New("unexpected trigger")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Cycle{
		ID:      "cycle",
		Trigger: trigger,
		Results: map[string]engine.CategoryResult{
			"ai":    {Category: "ai"},
			"drone": {Category: "drone", Err: errors.New("timeout")},
		},
	}, nil
}

func (f *fakePoller) Reservation(cycle *engine.Cycle, category string) models.Reservation {
	return models.Reservation{Category: category, CycleID: cycle.ID}
}

func TestNewDefaultsInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"zero defaults", 0, DefaultInterval},
		{"negative defaults", -time.Second, DefaultInterval},
		{"positive kept", 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakePoller{}, tt.interval, zerolog.Nop())
			if s.Interval() != tt.want {
				t.Fatalf("interval = %s, want %s", s.Interval(), tt.want)
			}
		})
	}
}

func TestRunPollsImmediatelyAndOnTick(t *testing.T) {
	poller := &fakePoller{}
	s := New(poller, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if n := poller.calls.Load(); n < 3 {
		t.Fatalf("polls = %d, want at least 3", n)
	}
	if s.LastRun().IsZero() {
		t.Fatal("last run not recorded")
	}
}

func TestTickSurvivesPollError(t *testing.T) {
	poller := &fakePoller{err: errors.New("boom")}
	s := New(poller, time.Hour, zerolog.Nop())
	s.tick(context.Background())
	if !s.LastRun().IsZero() {
		t.Fatal("failed tick recorded as a run")
	}
}

type fakeElector struct {
	mu     sync.Mutex
	leader bool
	ch     chan bool
}

func newFakeElector() *fakeElector {
	return &fakeElector{ch: make(chan bool, 1)}
}

func (f *fakeElector) Start(context.Context) error { return nil }
func (f *fakeElector) Stop() error                 { return nil }
func (f *fakeElector) LeaderCh() <-chan bool       { return f.ch }

func (f *fakeElector) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeElector) set(leader bool) {
	f.mu.Lock()
	f.leader = leader
	f.mu.Unlock()
	f.ch <- leader
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestLeaderAwareFollowsLeadership(t *testing.T) {
	poller := &fakePoller{}
	elector := newFakeElector()
	las := NewLeaderAware(New(poller, time.Hour, zerolog.Nop()), elector, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := las.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if las.Running() {
		t.Fatal("follower must not poll")
	}

	elector.set(true)
	waitFor(t, func() bool { return las.Running() && poller.calls.Load() == 1 })

	elector.set(false)
	waitFor(t, func() bool { return !las.Running() })

	if err := las.Stop(); err != nil {
		t.Fatal(err)
	}
	if poller.calls.Load() != 1 {
		t.Fatalf("polls = %d", poller.calls.Load())
	}
}
