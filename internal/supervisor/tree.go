// Package supervisor runs the long-lived parts of the service (the HTTP
// server and the rotation-bucket aging ticker) under a suture tree so a
// crashing service is restarted instead of taking the process down.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: api for the HTTP server and background for tickers.
type Tree struct {
	root       *suture.Supervisor
	api        *suture.Supervisor
	background *suture.Supervisor
}

func logEvent(e suture.Event) {
	log.Warn().Fields(e.Map()).Msgf("[supervisor] %s", e.String())
}

func NewTree(cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	root := suture.New("playout", spec)
	api := suture.New("api-layer", spec)
	background := suture.New("background-layer", spec)
	root.Add(api)
	root.Add(background)
	return &Tree{root: root, api: api, background: background}
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddBackgroundService(svc suture.Service) suture.ServiceToken {
	return t.background.Add(svc)
}

// Serve blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
