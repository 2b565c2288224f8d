// Package feed turns committed store writes into live snapshots. Each
// subscription receives the full current result set of its query when it
// starts and again after every write that changes it.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports"
)

// Reader is the read side of the store a Notifier reloads from.
type Reader interface {
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	ActiveSession(ctx context.Context) (domain.Session, error)
	ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error)
	ListGroups(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error)
	ListDecisions(ctx context.Context, sessionID domain.SessionID) ([]domain.Decision, error)
}

const activeSessionKey = "active"

type Notifier struct {
	reader Reader
	policy RetryPolicy
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	sessions     *registry[domain.Session]
	participants *registry[domain.Participant]
	groups       *registry[domain.Group]
	decisions    *registry[domain.Decision]
}

var _ ports.ChangePublisher = (*Notifier)(nil)

type Option func(*Notifier)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(n *Notifier) {
		n.policy = policy
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

func NewNotifier(reader Reader, opts ...Option) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		reader:       reader,
		policy:       DefaultRetryPolicy(),
		logger:       slog.New(slog.DiscardHandler),
		ctx:          ctx,
		cancel:       cancel,
		sessions:     newRegistry[domain.Session](),
		participants: newRegistry[domain.Participant](),
		groups:       newRegistry[domain.Group](),
		decisions:    newRegistry[domain.Decision](),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "feed")
	return n
}

// Publish schedules a reload of every query the change can affect. It never blocks.
func (n *Notifier) Publish(change domain.Change) {
	switch change.Collection {
	case domain.CollectionSessions:
		n.sessions.notify(func(key string) bool {
			return key == activeSessionKey || key == sessionKey(change.SessionID)
		})
	case domain.CollectionParticipants:
		n.participants.notify(matchSession(change.SessionID))
	case domain.CollectionGroups:
		n.groups.notify(matchSession(change.SessionID))
	case domain.CollectionDecisions:
		n.decisions.notify(matchSession(change.SessionID))
	case domain.CollectionAll:
		everything := func(string) bool { return true }
		n.sessions.notify(everything)
		n.participants.notify(everything)
		n.groups.notify(everything)
		n.decisions.notify(everything)
	default:
		n.logger.Warn("ignoring change for unknown collection", "collection", change.Collection)
	}
}

// Session follows one session. The snapshot is empty while the session does not exist.
func (n *Notifier) Session(ctx context.Context, id domain.SessionID) *Subscription[domain.Session] {
	return n.sessions.subscribe(ctx, n, sessionKey(id), func(ctx context.Context) ([]domain.Session, error) {
		return optionalSession(n.reader.GetSession(ctx, id))
	})
}

// ActiveSession follows whichever session is currently the most recent active one.
func (n *Notifier) ActiveSession(ctx context.Context) *Subscription[domain.Session] {
	return n.sessions.subscribe(ctx, n, activeSessionKey, func(ctx context.Context) ([]domain.Session, error) {
		return optionalSession(n.reader.ActiveSession(ctx))
	})
}

func (n *Notifier) Participants(ctx context.Context, sessionID domain.SessionID) *Subscription[domain.Participant] {
	return n.participants.subscribe(ctx, n, string(sessionID), func(ctx context.Context) ([]domain.Participant, error) {
		return n.reader.ListParticipants(ctx, sessionID)
	})
}

func (n *Notifier) Groups(ctx context.Context, sessionID domain.SessionID) *Subscription[domain.Group] {
	return n.groups.subscribe(ctx, n, string(sessionID), func(ctx context.Context) ([]domain.Group, error) {
		return n.reader.ListGroups(ctx, sessionID)
	})
}

func (n *Notifier) Decisions(ctx context.Context, sessionID domain.SessionID) *Subscription[domain.Decision] {
	return n.decisions.subscribe(ctx, n, string(sessionID), func(ctx context.Context) ([]domain.Decision, error) {
		return n.reader.ListDecisions(ctx, sessionID)
	})
}

// Close ends every subscription and stops all reloads.
func (n *Notifier) Close() {
	n.cancel()
}

// SessionFeeds bundles the four queries a client needs to follow one session.
type SessionFeeds struct {
	Session      *Subscription[domain.Session]
	Participants *Subscription[domain.Participant]
	Groups       *Subscription[domain.Group]
	Decisions    *Subscription[domain.Decision]
}

func (n *Notifier) SubscribeSession(ctx context.Context, id domain.SessionID) *SessionFeeds {
	return &SessionFeeds{
		Session:      n.Session(ctx, id),
		Participants: n.Participants(ctx, id),
		Groups:       n.Groups(ctx, id),
		Decisions:    n.Decisions(ctx, id),
	}
}

func (f *SessionFeeds) Close() {
	f.Session.Close()
	f.Participants.Close()
	f.Groups.Close()
	f.Decisions.Close()
}

func optionalSession(session domain.Session, err error) ([]domain.Session, error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return []domain.Session{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.Session{session}, nil
}

func sessionKey(id domain.SessionID) string {
	return "id:" + string(id)
}

func matchSession(id domain.SessionID) func(string) bool {
	return func(key string) bool {
		return key == string(id)
	}
}

type registry[T any] struct {
	mu     sync.Mutex
	topics map[string]*topic[T]
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{topics: map[string]*topic[T]{}}
}

func (r *registry[T]) subscribe(ctx context.Context, n *Notifier, key string, load Loader[T]) *Subscription[T] {
	if n.ctx.Err() != nil {
		sub := newSubscription(func(*Subscription[T]) {})
		sub.closeChannel()
		return sub
	}

	r.mu.Lock()
	t, ok := r.topics[key]
	if !ok {
		t = newTopic(n.ctx, load, n.policy, n.logger.With("topic", key))
		r.topics[key] = t
	}

	sub := newSubscription(func(s *Subscription[T]) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if t.remove(s) {
			t.cancel()
			if r.topics[key] == t {
				delete(r.topics, key)
			}
		}
	})
	t.add(sub)
	r.mu.Unlock()

	if ctx != nil {
		sub.setStop(context.AfterFunc(ctx, sub.Close))
	}
	return sub
}

func (r *registry[T]) notify(match func(key string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, t := range r.topics {
		if match(key) {
			t.notify()
		}
	}
}
