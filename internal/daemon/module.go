// Package daemon wires the archive components into a running process via
// fx providers and lifecycle hooks.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/archive"
	"github.com/tgvault/tgvault/internal/bus"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/lock"
	"github.com/tgvault/tgvault/internal/logging"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/status"
	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideEngine,
			provideScheduler,
			provideIngester,
			provideService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Telegram.AppID == 0 || cfg.Telegram.AppHash == "" {
		return nil, fmt.Errorf("telegram app_id/app_hash not configured in %s", session.ConfigPath())
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ArchiveDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(p Params, cfg *config.Config, machine *status.Machine, logger *zap.Logger) (*telegram.Client, error) {
	sessionDB := session.TelegramDBPath(p.SessionName)
	ok, err := telegram.HasSession(sessionDB)
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = machine.Transition(status.AuthRequired)
		return nil, fmt.Errorf("no telegram session for %q; run: tgv auth", p.SessionName)
	}

	_ = machine.Transition(status.Connecting)
	client, err := telegram.NewClient(cfg.Telegram.AppID, cfg.Telegram.AppHash, sessionDB, logger)
	if err != nil {
		_ = machine.Transition(status.Error)
		return nil, err
	}
	return client, nil
}

func provideEngine(db *store.DB, client *telegram.Client, cfg *config.Config, logger *zap.Logger) *archive.Engine {
	return archive.NewEngine(db, client, cfg.Sync.BatchSize, logger)
}

func provideScheduler(db *store.DB, engine *archive.Engine, cfg *config.Config, logger *zap.Logger) *archive.Scheduler {
	delay := time.Duration(cfg.Sync.InterJobDelaySec) * time.Second
	return archive.NewScheduler(db, engine, delay, logger)
}

func provideIngester(db *store.DB, engine *archive.Engine, b *bus.Bus, logger *zap.Logger) *archive.Ingester {
	return archive.NewIngester(db, engine, b, logger)
}

func provideService(db *store.DB, client *telegram.Client, scheduler *archive.Scheduler, cfg *config.Config, logger *zap.Logger) *archive.Service {
	ttl := time.Duration(cfg.Sync.MetadataTTLDays) * 24 * time.Hour
	metadata := archive.NewMetadataCache(db, client, ttl, logger)
	svc := archive.NewService(db, client, scheduler, metadata, logger)
	svc.DefaultDepth = int64(cfg.Sync.DefaultDepth)
	return svc
}

func registerLifecycle(lc fx.Lifecycle, p Params, db *store.DB, client *telegram.Client, svc *archive.Service, scheduler *archive.Scheduler, ingester *archive.Ingester, machine *status.Machine, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Live updates flow through the bus into the ingester.
			handler := telegram.NewUpdateHandler(b, logger)
			handler.Register(client)
			ingester.Start()

			if err := svc.SeedPeers(); err != nil {
				logger.Warn("seed peers", zap.Error(err))
			}

			_ = machine.Transition(status.Syncing)
			scheduler.Start()

			// Refresh the dialog list in the background; the archive is
			// fully usable from cached identities meanwhile.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if n, err := svc.SyncDialogs(ctx); err != nil {
					logger.Warn("dialog sync failed", zap.Error(err))
				} else {
					logger.Info("dialogs synced", zap.Int("count", n))
				}
				_ = machine.Transition(status.Ready)
			}()

			logger.Info("daemon started", zap.String("session", p.SessionName))
			return nil
		},
		OnStop: func(_ context.Context) error {
			// Stop order prevents writes after the store closes.
			scheduler.Stop()
			ingester.Stop()
			client.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
