package feed

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

// Snapshot is the full filtered, ordered result set of one query. When a
// reload keeps failing the last good items are redelivered with Stale set.
type Snapshot[T any] struct {
	Items []T
	Stale bool
	Err   error
}

type Loader[T any] func(ctx context.Context) ([]T, error)

type RetryPolicy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts uint
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:  100 * time.Millisecond,
		Max:      5 * time.Second,
		Attempts: 4,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Reset()
	return b
}

// topic owns one query. A single goroutine reloads it, so loads never race
// and a burst of change signals collapses into one reload.
type topic[T any] struct {
	load   Loader[T]
	policy RetryPolicy
	logger *slog.Logger
	signal chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	last   Snapshot[T]
	loaded bool
}

func newTopic[T any](parent context.Context, load Loader[T], policy RetryPolicy, logger *slog.Logger) *topic[T] {
	ctx, cancel := context.WithCancel(parent)
	t := &topic[T]{
		load:   load,
		policy: policy,
		logger: logger,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		subs:   map[*Subscription[T]]struct{}{},
	}
	go t.run(ctx)
	return t
}

func (t *topic[T]) notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *topic[T]) run(ctx context.Context) {
	defer t.closeAll()

	t.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.signal:
			t.refresh(ctx)
		}
	}
}

func (t *topic[T]) refresh(ctx context.Context) {
	items, err := backoff.Retry(ctx, func() ([]T, error) {
		items, err := t.load(ctx)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return items, err
	},
		backoff.WithBackOff(t.policy.newBackOff()),
		backoff.WithMaxTries(max(t.policy.Attempts, 1)),
	)
	if err == nil {
		t.deliver(Snapshot[T]{Items: items})
		return
	}
	if ctx.Err() != nil {
		return
	}

	t.logger.Warn("feed reload failed, serving stale snapshot", "error", err)
	t.mu.Lock()
	stale := Snapshot[T]{Items: t.last.Items, Stale: true, Err: err}
	t.mu.Unlock()
	t.deliver(stale)

	if retryable(err) {
		t.recover(ctx)
	}
}

// recover keeps reloading with exponential backoff until a load succeeds or
// the topic is closed. A change signal triggers an immediate attempt.
func (t *topic[T]) recover(ctx context.Context) {
	b := t.policy.newBackOff()
	for {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.signal:
			timer.Stop()
		case <-timer.C:
		}

		items, err := t.load(ctx)
		if err == nil {
			t.logger.Info("feed recovered")
			t.deliver(Snapshot[T]{Items: items})
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.logger.Debug("feed still failing", "error", err)
	}
}

func (t *topic[T]) deliver(snapshot Snapshot[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded && !snapshot.Stale && !t.last.Stale && reflect.DeepEqual(t.last.Items, snapshot.Items) {
		return
	}
	t.last = snapshot
	t.loaded = true

	for sub := range t.subs {
		sub.offer(snapshot)
	}
}

func (t *topic[T]) add(sub *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subs[sub] = struct{}{}
	if t.loaded {
		sub.offer(t.last)
	}
}

// remove detaches sub and reports whether the topic has no subscribers left.
func (t *topic[T]) remove(sub *Subscription[T]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub]; !ok {
		return len(t.subs) == 0
	}
	delete(t.subs, sub)
	sub.closeChannel()
	return len(t.subs) == 0
}

func (t *topic[T]) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs {
		delete(t.subs, sub)
		sub.closeChannel()
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch domain.Kind(err) {
	case domain.ErrNotFound, domain.ErrValidation:
		return false
	default:
		return true
	}
}
