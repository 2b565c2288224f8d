package feed

import "sync"

// Subscription delivers snapshots of one query. At most one snapshot is
// pending: a newer one replaces an unread older one, so a slow reader only
// ever sees the latest state. The channel is closed when the subscription ends.
type Subscription[T any] struct {
	ch      chan Snapshot[T]
	release func(*Subscription[T])

	once    sync.Once
	closeMu sync.Mutex
	closed  bool
	stop    func() bool
}

func newSubscription[T any](release func(*Subscription[T])) *Subscription[T] {
	return &Subscription[T]{
		ch:      make(chan Snapshot[T], 1),
		release: release,
	}
}

func (s *Subscription[T]) C() <-chan Snapshot[T] {
	return s.ch
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.closeMu.Lock()
		stop := s.stop
		s.closeMu.Unlock()

		if stop != nil {
			stop()
		}
		s.release(s)
	})
}

func (s *Subscription[T]) setStop(stop func() bool) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	s.stop = stop
}

func (s *Subscription[T]) offer(snapshot Snapshot[T]) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snapshot:
	default:
	}
}

func (s *Subscription[T]) closeChannel() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
