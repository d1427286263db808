package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/config"
)

// loadEnvironment reads .env when present and returns the validated config.
func loadEnvironment() *config.Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[env] no .env file, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("[env] invalid configuration")
	}
	setupLogging(cfg)
	return cfg
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("channel", cfg.ChannelName).Logger()
}
