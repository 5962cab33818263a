// Package limiter bounds the number of simultaneous network fetches.
package limiter

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Limiter is a counting gate whose capacity can change at runtime.
// Resizing swaps in a fresh semaphore; permits already handed out are
// returned to the semaphore they came from.
//
// A resize is not seen by callers already blocked in Acquire: they stay
// queued on the old semaphore and only get a permit when one of its holders
// releases, even if the limit grew. After a shrink, permits of the old and
// new semaphores can be in flight together until the old ones drain, so the
// total may briefly exceed the new size.
type Limiter struct {
	mu   sync.RWMutex
	sem  *semaphore.Weighted
	size int
}

// New returns a limiter with n permits. n below 1 is treated as 1.
func New(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire blocks until a permit is available or ctx is done. The returned
// release func is safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	l.mu.RLock()
	sem := l.sem
	l.mu.RUnlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// Resize rebuilds the gate with n permits. Only Acquire calls made after
// it returns use the new capacity.
func (l *Limiter) Resize(n int) {
	if n < 1 {
		n = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if n == l.size {
		return
	}
	logrus.Infof("Max concurrent downloads changed from %d to %d", l.size, n)
	l.sem = semaphore.NewWeighted(int64(n))
	l.size = n
}

// Size returns the current permit count
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}
