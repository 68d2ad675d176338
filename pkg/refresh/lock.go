// Package refresh provides a per-key single-flight lock for refresh work.
//
// Concurrent callers of Do with the same key share one execution of the work
// and receive the same result or error. The key is forgotten once the work
// settles, so a later call starts a fresh execution instead of replaying an
// old result.
//
// The work runs on a context detached from the caller's cancellation. A
// caller that gives up receives its context error immediately while the work
// keeps running for the remaining waiters.
package refresh

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Lock coordinates refresh work per key.
// The zero value is ready to use.
type Lock[T any] struct {
	group singleflight.Group
}

// New returns a ready Lock.
func New[T any]() *Lock[T] {
	return &Lock[T]{}
}

// Do executes fn once per key among concurrent callers.
// shared reports whether the result was delivered to more than one caller.
func (l *Lock[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	workCtx := context.WithoutCancel(ctx)

	ch := l.group.DoChan(key, func() (result any, err error) {
		RefreshExecutions.Inc()
		RefreshInFlight.Inc()
		defer RefreshInFlight.Dec()

		// A panic inside DoChan would crash the process; surface it as an
		// error to every waiter instead.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("refresh %q panicked: %v", key, r)
			}
		}()
		return fn(workCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			RefreshShared.Inc()
		}
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		if res.Val != nil {
			v = res.Val.(T)
		}
		return v, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget drops key so the next Do call starts a new execution even if one is
// still in flight.
func (l *Lock[T]) Forget(key string) {
	l.group.Forget(key)
}
