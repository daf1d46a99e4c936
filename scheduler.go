package fieldsync

import (
	"sync"
	"time"
)

// Scheduler arms a repeating timer that invokes a sync pass while
// online. At most one timer is active per scheduler; starting while
// armed first disarms the previous timer so restarts are idempotent.
type Scheduler struct {
	tick   func()
	logger *DebugLogger

	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler invoking tick on every period.
// The tick callback itself decides whether a pass may run (online,
// not already syncing).
func NewScheduler(interval time.Duration, tick func(), logger *DebugLogger) *Scheduler {
	return &Scheduler{
		tick:     tick,
		logger:   logger,
		interval: interval,
	}
}

// Start arms the timer. A zero interval reuses the configured period;
// a positive interval replaces it.
func (s *Scheduler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	if interval > 0 {
		s.interval = interval
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Log("scheduler: armed, interval=%s", s.interval)

	go s.run(s.interval, s.stop, s.done)
}

// Stop disarms the timer. Safe to call when not armed. A pass already
// in flight is not aborted, only new ticks cease.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether the timer is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) stopLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	s.logger.Log("scheduler: disarmed")
}

func (s *Scheduler) run(interval time.Duration, stop chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}
