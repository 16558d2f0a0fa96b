package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Timer is a handle to one scheduled job.
type Timer struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the job and waits for its current run to return.
func (t *Timer) Stop() {
	t.cancel()
	<-t.done
}

// Scheduler owns every periodic job of a session so they can be torn down
// together. Jobs are keyed by name; scheduling a name twice replaces the
// earlier job instead of stacking another one.
type Scheduler struct {
	parent context.Context

	mu     sync.Mutex
	timers map[string]*Timer
}

func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		parent: ctx,
		timers: make(map[string]*Timer),
	}
}

// Every runs fn each interval until stopped. The first run happens after one
// interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) *Timer {
	return s.start(name, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	})
}

// Go runs a long-lived fn under the scheduler's control.
func (s *Scheduler) Go(name string, fn func(ctx context.Context)) *Timer {
	return s.start(name, fn)
}

func (s *Scheduler) start(name string, body func(ctx context.Context)) *Timer {
	ctx, cancel := context.WithCancel(s.parent)
	t := &Timer{name: name, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.timers[name]
	s.timers[name] = t
	s.mu.Unlock()

	if prev != nil {
		log.Debugf("scheduler: replacing job %s", name)
		prev.Stop()
	}

	go func() {
		defer close(t.done)
		body(ctx)
	}()
	return t
}

// Cancel stops the named job if it is scheduled.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	t := s.timers[name]
	delete(s.timers, name)
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// StopAll stops every job and waits for them to return.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*Timer)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// Active lists the scheduled job names, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
