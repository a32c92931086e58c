package daemon

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"autochat/internal/archive"
	"autochat/internal/bus"
	"autochat/internal/chat"
	"autochat/internal/config"
	"autochat/internal/lock"
	"autochat/internal/logging"
	"autochat/internal/profile"
	"autochat/internal/rest"
	"autochat/internal/socket"
	"autochat/internal/status"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile      string
	SettingsPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideStatusMachine,
			provideClock,
			provideLock,
			provideArchive,
			provideRecorder,
			provideRestClient,
			provideManager,
			provideStore,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (*config.Settings, error) {
	path := p.SettingsPath
	if path == "" {
		path = profile.SettingsPath(p.Profile)
	}
	cfg, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStatusMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := profile.ArchivePath(p.Profile)
	db, err := archive.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRecorder(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Recorder {
	return archive.NewRecorder(db, b, logger)
}

func provideRestClient(cfg *config.Settings, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, cfg.Token, logger)
}

func provideManager(cfg *config.Settings, machine *status.Machine, clk clock.Clock, logger *zap.Logger) *socket.Manager {
	return socket.NewManager(cfg.ChatURL, cfg.UserID, machine, clk, logger)
}

func provideStore(cfg *config.Settings, mgr *socket.Manager, rc *rest.Client, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *chat.Store {
	return chat.NewStore(cfg.UserID, mgr, rc, b, clk, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Settings, lk *lock.Lock, mgr *socket.Manager, store *chat.Store, rec *archive.Recorder, db *archive.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the transcript recorder (subscribes to chat.* bus events).
			rec.Start(context.Background())

			// Route socket events into the conversation store.
			mgr.SetCallbacks(socket.Callbacks{
				OnStatus:   store.HandleStatus,
				OnMessages: store.HandleInbound,
				OnAck:      store.HandleAck,
				OnError: func(msg string) {
					logger.Warn("chat error", zap.String("detail", msg))
				},
			})

			// Initial hydration, then connect. Both are fire-and-forget; the
			// reconnect policy and the load guards own the retries.
			go func() {
				_ = store.LoadConversations(context.Background())
			}()
			go func() {
				if err := mgr.Connect(cfg.Token); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.Disconnect()
			rec.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
