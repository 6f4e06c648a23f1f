/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Initialize the profile store (memory, sqlite, or mongo)
  3. Wire the reward catalog (static fallback or mongo + redis cache)
  4. Create the ledger engine
  5. Start the realtime hub + projector when the store has a change feed
  6. Start the tier sweeper
  7. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop sweeper, projector, hub
  4. Close the store

EXAMPLES:
  # Embedded store (default)
  STORE_BACKEND=sqlite SQLITE_PATH=./data/loyalty.db ./server

  # Remote store with realtime push and cached catalog
  STORE_BACKEND=mongo MONGO_URI=mongodb://localhost:27017 REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/ledger"
	memstore "github.com/warp/loyalty-engine/ledger/store"
	"github.com/warp/loyalty-engine/realtime"
	mongostore "github.com/warp/loyalty-engine/store/mongo"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg)

	// Program rules: defaults plus the configured admin allow-list.
	rules := ledger.DefaultRules()
	for _, id := range cfg.Rules.AdminIDs {
		rules.AdminIDs = append(rules.AdminIDs, ledger.MemberID(id))
	}

	// Store selection
	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store initialization failed")
	}
	defer cleanup()

	// Catalog: collection-backed when the profile store is mongo (sharing
	// its connection), static defaults otherwise.
	cat, catWatchable := openCatalog(cfg, store, log)

	engine := ledger.NewEngine(store, cat, rules)

	// Realtime projection, only when the store can feed it.
	var hub *realtime.Hub
	var projector *realtime.Projector
	if ws, ok := store.(ledger.WatchableStore); ok {
		hub = realtime.NewHub(log)
		projector = realtime.NewProjector(ws, hub, rules, log)
		go hub.Run()
		log.Info("realtime projection enabled")
	} else {
		log.Info("store has no change feed, realtime projection disabled")
	}

	// Catalog change feed -> broadcast to observers.
	var stopCatalogWatch func()
	if catWatchable != nil && projector != nil {
		stop, err := catWatchable.Watch(context.Background(), func(items []catalog.RewardItem) {
			projector.PublishCatalog(items)
		})
		if err != nil {
			log.WithError(err).Warn("catalog watch unavailable")
		} else {
			stopCatalogWatch = stop
		}
	}

	// Background tier decay sweep.
	lister, _ := store.(ledger.MemberLister)
	sweeper := api.NewTierSweeper(engine, lister, log)
	sweeper.CheckInterval = cfg.App.SweepEach
	sweeper.Start()

	// HTTP surface
	auth := api.NewAuthenticator(cfg.Security.JWTSecret)
	handler := api.NewHandler(engine, cat, auth, hub, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":  server.Addr,
			"store": cfg.Store.Backend,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}

	sweeper.Stop()
	if stopCatalogWatch != nil {
		stopCatalogWatch()
	}
	if projector != nil {
		projector.Close()
	}
	if hub != nil {
		hub.Stop()
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.App.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// openStore builds the configured RecordStore and a cleanup function.
func openStore(cfg *config.Config, log *logrus.Logger) (ledger.RecordStore, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return memstore.NewMemory(), func() {}, nil

	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "mongo":
		s, err := mongostore.New(mongostore.Config{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openCatalog returns the reward catalog and, when it supports a change
// feed, its Watchable view.
func openCatalog(cfg *config.Config, store ledger.RecordStore, log *logrus.Logger) (catalog.Catalog, catalog.Watchable) {
	ms, ok := store.(*mongostore.Store)
	if !ok {
		log.Info("using built-in reward catalog")
		return catalog.NewStatic(catalog.DefaultItems()...), nil
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.WithField("addr", cfg.Redis.Addr).Info("catalog cache enabled")
	}

	m := catalog.NewMongo(ms.Database(), cache, log)
	return m, m
}
