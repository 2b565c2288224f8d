package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	boardadapter "github.com/bnema/hiddenprofile/internal/adapters/render/board"
	tomlrepo "github.com/bnema/hiddenprofile/internal/adapters/repo/toml"
	filestore "github.com/bnema/hiddenprofile/internal/adapters/secrets/file"
	"github.com/bnema/hiddenprofile/internal/adapters/store/memory"
	"github.com/bnema/hiddenprofile/internal/adapters/store/sqlite"
	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/config"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/bnema/hiddenprofile/internal/logging"
	"github.com/bnema/hiddenprofile/internal/ports"
)

type coordinationStore interface {
	ports.Store
	SetPublisher(publisher ports.ChangePublisher)
}

type app struct {
	cfg           config.Config
	service       *application.Service
	store         coordinationStore
	notifier      *feed.Notifier
	secretStore   ports.SecretStore
	logger        *slog.Logger
	boardRenderer func(application.Board, boardadapter.RenderOptions) (string, error)
	// tail follows writes made by other processes; nil when the store is
	// private to this process.
	tail func(ctx context.Context, publisher ports.ChangePublisher) error
	// prune trims the shared change log; nil when there is none.
	prune func(ctx context.Context, cutoff time.Time) (int64, error)
	now   func() time.Time
}

func wireApp() (*app, error) {
	cfg, v, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	catalogSource, err := tomlrepo.NewCatalogSource(v)
	if err != nil {
		return nil, fmt.Errorf("wire catalog source: %w", err)
	}
	catalog, err := catalogSource.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	a := &app{
		cfg:           cfg,
		secretStore:   filestore.NewStore(cfg.SecretsDir()),
		logger:        logger,
		boardRenderer: boardadapter.Render,
		now:           time.Now,
	}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		a.store = memory.NewStore(nil)
	default:
		store, err := sqlite.Open(context.Background(), cfg.StorePath, sqlite.WithLogger(logger.With("component", "sqlite")))
		if err != nil {
			return nil, fmt.Errorf("wire sqlite store: %w", err)
		}
		a.store = store
		a.tail = func(ctx context.Context, publisher ports.ChangePublisher) error {
			return store.Tail(ctx, cfg.PollInterval, publisher)
		}
		a.prune = store.PruneChanges
	}

	a.notifier = feed.NewNotifier(a.store,
		feed.WithRetryPolicy(feed.RetryPolicy{
			Initial:  cfg.RetryInitial,
			Max:      cfg.RetryMax,
			Attempts: cfg.RetryAttempts,
		}),
		feed.WithLogger(logger),
	)
	a.store.SetPublisher(a.notifier)

	a.service = application.NewService(a.store, catalog, ports.SystemClock{},
		application.WithLogger(logger),
		application.WithRequireApproval(cfg.RequireApproval),
		application.WithConflictRetries(cfg.ConflictRetries),
	)

	return a, nil
}

// follow forwards writes from other processes to the notifier until ctx ends.
func (a *app) follow(ctx context.Context) {
	if a.tail == nil {
		return
	}

	go func() {
		if err := a.tail(ctx, a.notifier); err != nil {
			a.logger.Warn("follow store changes", "error", err)
		}
	}()
}

// maintain prunes the change log in the background until ctx ends.
func (a *app) maintain(ctx context.Context) {
	if a.prune == nil {
		return
	}

	go pruneChanges(ctx, a.cfg.ChangeRetention, a.prune, a.now, a.logger)
}

// pruneChanges drops change log entries older than retention, once at start
// and then every retention period.
func pruneChanges(ctx context.Context, retention time.Duration, prune func(context.Context, time.Time) (int64, error), now func() time.Time, logger *slog.Logger) {
	ticker := time.NewTicker(retention)
	defer ticker.Stop()

	for {
		removed, err := prune(ctx, now().Add(-retention))
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn("prune change log", "error", err)
		case removed > 0:
			logger.Debug("pruned change log", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) close() error {
	a.notifier.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (a *app) resolveSession(ctx context.Context, sessionID string) (domain.SessionID, error) {
	if sessionID != "" {
		return domain.SessionID(sessionID), nil
	}

	session, err := a.service.ActiveSession(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return "", errNoActiveSession
	}
	if err != nil {
		return "", err
	}

	return session.ID, nil
}

var errNoActiveSession = errors.New("no --session given and no active session; create one with `hp session create`")
