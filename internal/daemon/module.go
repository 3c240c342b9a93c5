package daemon

import (
	"context"

	"github.com/hagglechat/haggle/internal/api"
	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/chat"
	"github.com/hagglechat/haggle/internal/convo"
	"github.com/hagglechat/haggle/internal/feed"
	"github.com/hagglechat/haggle/internal/lock"
	"github.com/hagglechat/haggle/internal/logging"
	"github.com/hagglechat/haggle/internal/negotiate"
	"github.com/hagglechat/haggle/internal/outbox"
	"github.com/hagglechat/haggle/internal/profile"
	"github.com/hagglechat/haggle/internal/status"
	"github.com/hagglechat/haggle/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideFeed,
			provideSynchronizer,
			provideChatSender,
			provideAggregator,
			provideNegotiation,
			provideOutboxSender,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, machine *status.Machine, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	_ = machine.Transition(status.Migrating)
	result, err := db.Migrate()
	if err != nil {
		_ = machine.Transition(status.Error)
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideFeed(db *store.DB, logger *zap.Logger) *feed.SQLiteStore {
	return feed.NewSQLiteStore(db, logger)
}

func provideSynchronizer(f *feed.SQLiteStore, logger *zap.Logger) *chat.Synchronizer {
	return chat.NewSynchronizer(f, logger)
}

func provideChatSender(f *feed.SQLiteStore, b *bus.Bus, logger *zap.Logger) *chat.Sender {
	return chat.NewSender(f, b, logger)
}

func provideAggregator(db *store.DB, f *feed.SQLiteStore, logger *zap.Logger) *convo.Aggregator {
	return convo.NewAggregator(db, f, logger)
}

func provideNegotiation(db *store.DB, sender *chat.Sender, b *bus.Bus, logger *zap.Logger) *negotiate.Service {
	return negotiate.NewService(db, sender, b, logger)
}

func provideOutboxSender(db *store.DB, sender *chat.Sender, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, sender, b, logger)
}

func provideAPIHandler(db *store.DB, sync *chat.Synchronizer, agg *convo.Aggregator,
	offers *negotiate.Service, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, sync, agg, offers, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, f *feed.SQLiteStore,
	sender *outbox.Sender, machine *status.Machine, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			sender.Start(context.Background())

			if err := machine.Transition(status.Ready); err != nil {
				logger.Warn("unexpected state at startup", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping)
			sender.Stop()
			f.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
