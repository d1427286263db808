package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/config"
	"github.com/Nixie-Tech-LLC/playout/internal/db"
	"github.com/Nixie-Tech-LLC/playout/internal/notify"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
	"github.com/Nixie-Tech-LLC/playout/internal/processor"
	"github.com/Nixie-Tech-LLC/playout/internal/redis"
	"github.com/Nixie-Tech-LLC/playout/internal/supervisor"
)

func main() {
	cfg := loadEnvironment()

	var store db.Store
	if cfg.InMemory() {
		log.Warn().Msg("[db] DATABASE_URL=memory, schedule is not persisted")
		store = db.NewMemoryStore()
	} else {
		if err := db.Init(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("[db] init failed")
		}
		if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("[db] migrate failed")
		}
		store = db.NewStore(db.DB)
	}

	procFile, err := config.LoadProcessors(cfg.ProcessorsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("[config] processor configuration")
	}

	fills := map[string]db.FillStore{}
	registry, err := processor.Build(procFile, func(instance string, fc config.FillConfig) (processor.ContentSource, error) {
		var fs db.FillStore
		if cfg.InMemory() {
			fs = db.NewMemoryFillStore(instance, processor.Ladder(fc), fc.FileWeight)
		} else {
			fs = db.NewFillStore(db.DB, instance, processor.Ladder(fc), fc.FileWeight)
		}
		fills[instance] = fs
		return fs, nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("[config] processor configuration")
	}

	cache := redis.NewScheduleCache(cfg.RedisAddress, cfg.RedisUsername, cfg.RedisPassword, cfg.ChannelName)
	defer cache.Close()

	publisher, err := notify.Connect(cfg.MQTTBrokerURL, cfg.MQTTTopicPrefix, cfg.ChannelName)
	if err != nil {
		log.Fatal().Err(err).Msg("[mqtt] connect failed")
	}
	defer publisher.Close()

	svc := playout.NewService(store, registry, playout.Options{
		Cache:      cache,
		Notifier:   publisher,
		FillStores: fills,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.RegisterPlugins(ctx); err != nil {
		log.Fatal().Err(err).Msg("[plugins] registration failed")
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, svc)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPService(&http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, 10*time.Second))
	for _, name := range registry.Names() {
		if fs, ok := fills[name]; ok {
			tree.AddBackgroundService(supervisor.NewAgingService(fs, fs.Ladder().TickInterval()))
		}
	}

	log.Info().Str("address", cfg.ServerAddress).Strs("processors", registry.Names()).Msg("[server] listening")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("[server] supervisor exited")
	}
	log.Info().Msg("[server] stopped")
}
