// Package eviction purges the loader's memory tiers on a timer and on demand.
//
// The timer only drops decoded images: they cost the most memory and are
// rebuilt from the compressed tier without touching the network. Compressed
// payloads are dropped only by an explicit Purge, typically bound to a host
// memory-pressure signal.
package eviction

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval between periodic decoded tier purges
const DefaultInterval = 30 * time.Second

// Purger is the part of the loader the scheduler drives
type Purger interface {
	ClearDecoded()
	ClearAllCaches()
}

// Scheduler owns the periodic purge goroutine
type Scheduler struct {
	purger   Purger
	interval time.Duration

	mu       sync.Mutex
	shutdown chan struct{}
	finished chan struct{}
}

// New creates a stopped scheduler. interval <= 0 uses DefaultInterval.
func New(purger Purger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{purger: purger, interval: interval}
}

// Start launches the periodic purge. It runs until Stop or until ctx is done.
// Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown != nil {
		return
	}

	shutdown := make(chan struct{})
	finished := make(chan struct{})
	s.shutdown = shutdown
	s.finished = finished

	go s.run(ctx, shutdown, finished)
	logrus.Debugf("Decoded tier purge every %s", s.interval)
}

func (s *Scheduler) run(ctx context.Context, shutdown <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purger.ClearDecoded()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the periodic purge and waits for the goroutine to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	shutdown, finished := s.shutdown, s.finished
	s.shutdown, s.finished = nil, nil
	s.mu.Unlock()

	if shutdown == nil {
		return
	}
	close(shutdown)
	<-finished
}

// Purge clears both memory tiers now
func (s *Scheduler) Purge() {
	logrus.Infof("Purging memory caches")
	s.purger.ClearAllCaches()
}
