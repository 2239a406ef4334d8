// Package console composes the daemon: it wires the store clients, the
// reconciliation engine, the send pipeline, and the UI server into one
// fx application.
package console

import (
	"context"
	"time"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"github.com/moverse/agentdesk/internal/config"
	"github.com/moverse/agentdesk/internal/feed"
	"github.com/moverse/agentdesk/internal/logging"
	"github.com/moverse/agentdesk/internal/media"
	"github.com/moverse/agentdesk/internal/profile"
	"github.com/moverse/agentdesk/internal/send"
	"github.com/moverse/agentdesk/internal/server"
	"github.com/moverse/agentdesk/internal/store"
	"github.com/moverse/agentdesk/internal/view"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tokenTTL = 12 * time.Hour

// Params holds the resolved profile and configuration passed to the fx
// module.
type Params struct {
	ProfileName string
	Config      *config.Config
}

// Module returns the fx module for the console daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("console",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBackendClient,
			provideRealtimeFeed,
			provideFeedManager,
			provideConversationIndex,
			provideMessageStore,
			provideEngine,
			provideAgency,
			provideUploader,
			provideCoordinator,
			provideTokenManager,
			provideHub,
			provideServer,
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

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := profile.AcquireLock(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("local store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackendClient(p Params) backend.Store {
	return backend.NewClient(p.Config.Store.URL, p.Config.Store.APIKey)
}

func provideRealtimeFeed(p Params) backend.Feed {
	return backend.NewRealtimeFeed(p.Config.Store.URL, p.Config.Store.APIKey)
}

func provideFeedManager(f backend.Feed, b *bus.Bus, logger *zap.Logger) *feed.Manager {
	return feed.NewManager(f, b, logger)
}

func provideConversationIndex(st backend.Store, b *bus.Bus, logger *zap.Logger) *view.ConversationIndex {
	return view.NewConversationIndex(st, b, logger)
}

func provideMessageStore(st backend.Store, b *bus.Bus, logger *zap.Logger) *view.MessageStore {
	return view.NewMessageStore(st, b, logger)
}

func provideEngine(index *view.ConversationIndex, msgs *view.MessageStore, feeds *feed.Manager, b *bus.Bus, logger *zap.Logger) *view.Engine {
	return view.NewEngine(index, msgs, feeds, b, logger)
}

func provideAgency(p Params) *media.Agency {
	return media.NewAgency(p.Config.Agency.BaseURL)
}

func provideUploader(p Params) *media.Uploader {
	return media.NewUploader(p.Config.Store.URL, p.Config.Store.APIKey, p.Config.Media.Bucket)
}

func provideCoordinator(db *store.DB, st backend.Store, agency *media.Agency, index *view.ConversationIndex, msgs *view.MessageStore, b *bus.Bus, logger *zap.Logger) *send.Coordinator {
	return send.NewCoordinator(db, st, agency, index, msgs, b, logger)
}

func provideTokenManager(p Params) *server.TokenManager {
	return server.NewTokenManager(p.Config.Server.JWTSecret, tokenTTL)
}

func provideHub(b *bus.Bus, logger *zap.Logger) *server.Hub {
	return server.NewHub(b, logger)
}

func provideServer(engine *view.Engine, coord *send.Coordinator, uploader *media.Uploader, db *store.DB, hub *server.Hub, tokens *server.TokenManager, logger *zap.Logger, p Params) *server.Server {
	return server.New(engine, coord, uploader, db, hub, tokens, logger, p.Config.Server.ListenAddr)
}

func registerLifecycle(lc fx.Lifecycle, srv *server.Server, lk *profile.Lock, engine *view.Engine, feeds *feed.Manager, coord *send.Coordinator, hub *server.Hub, db *store.DB, p Params, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			hub.Start(context.Background())
			coord.Start(context.Background())
			srv.Start()
			logger.Info("console listening", zap.String("addr", p.Config.Server.ListenAddr))

			// Bootstrap and session restore happen off the start path so a
			// slow or down store cannot block daemon startup.
			go func() {
				ctx := context.Background()
				engine.Bootstrap(ctx)
				if saved, err := db.ActiveConversation(); err == nil && saved != "" {
					if _, err := engine.OpenConversation(ctx, saved); err != nil {
						logger.Warn("could not restore open conversation",
							zap.String("conversation_id", saved), zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			coord.Stop()
			feeds.Stop()
			engine.Stop()
			hub.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("console stopped")
			return nil
		},
	})
}
