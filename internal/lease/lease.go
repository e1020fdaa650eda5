// Package lease provides the exclusive per-activity lock that serializes
// state updates for one activity.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refineflow/orchestrator/internal/metrics"
)

// ErrNotHeld is returned by Extend and Release when the lease was already
// released or has expired and may have been taken by another holder.
var ErrNotHeld = errors.New("lease not held")

// Lease identifies one acquisition of an activity lock.
type Lease struct {
	ActivityID string
	Token      string
	AcquiredAt time.Time
	// TTL is how long the lease lives without renewal; zero never expires.
	TTL time.Duration
}

// Locker grants exclusive leases per activity id. Acquire blocks until the
// lease is granted or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, activityID string) (Lease, error)
	// Extend renews l for another TTL, or fails with ErrNotHeld.
	Extend(ctx context.Context, l Lease) error
	Release(ctx context.Context, l Lease) error
}

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	// capacity 1; a value in the channel means the lease is held
	held  chan struct{}
	token string
	refs  int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, activityID string) (Lease, error) {
	start := time.Now()

	l.mu.Lock()
	s, ok := l.slots[activityID]
	if !ok {
		s = &slot{held: make(chan struct{}, 1)}
		l.slots[activityID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.held <- struct{}{}:
	case <-ctx.Done():
		l.unref(activityID, s)
		return Lease{}, ctx.Err()
	}

	lease := Lease{ActivityID: activityID, Token: uuid.NewString(), AcquiredAt: time.Now()}
	l.mu.Lock()
	s.token = lease.Token
	l.mu.Unlock()

	metrics.LeaseWait.WithLabelValues("local").Observe(time.Since(start).Seconds())
	return lease, nil
}

func (l *LocalLocker) Extend(_ context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[lease.ActivityID]; !ok || s.token == "" || s.token != lease.Token {
		return ErrNotHeld
	}
	return nil
}

func (l *LocalLocker) Release(_ context.Context, lease Lease) error {
	l.mu.Lock()
	s, ok := l.slots[lease.ActivityID]
	if !ok || s.token == "" || s.token != lease.Token {
		l.mu.Unlock()
		return ErrNotHeld
	}
	s.token = ""
	l.mu.Unlock()

	<-s.held
	l.unref(lease.ActivityID, s)
	return nil
}

// unref drops a waiter or holder reference and forgets idle slots.
func (l *LocalLocker) unref(activityID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, activityID)
	}
}

// With runs fn while holding the lease for activityID. A lease with a TTL
// is renewed every third of it; if renewal fails, fn's context is cancelled
// and With returns an error wrapping ErrNotHeld.
func With(ctx context.Context, locker Locker, activityID string, fn func(ctx context.Context, l Lease) error) (err error) {
	l, err := locker.Acquire(ctx, activityID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	if l.TTL > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keepAlive(runCtx, locker, l, stop, cancel)
		}()
	}

	defer func() {
		close(stop)
		wg.Wait()
		if cause := context.Cause(runCtx); err != nil && errors.Is(cause, ErrNotHeld) {
			err = cause
		}
		cancel(nil)
		// release even when ctx is already cancelled
		relErr := locker.Release(context.WithoutCancel(ctx), l)
		if err == nil {
			err = relErr
		}
	}()
	return fn(runCtx, l)
}

func keepAlive(ctx context.Context, locker Locker, l Lease, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(l.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := locker.Extend(ctx, l)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNotHeld) {
				err = fmt.Errorf("%w: renew %s: %v", ErrNotHeld, l.ActivityID, err)
			}
			cancel(err)
			return
		}
	}
}
