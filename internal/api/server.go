// Package api implements the HTTP surface of the darkstore plan service.
package api

import (
	"os"
	"strings"

	"geoplan/internal/config"
	"geoplan/internal/geocode"
	"geoplan/internal/store"
	"geoplan/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Cfg    config.Config
	Geo    *geocode.Client
	Pub    *webhooks.Publisher
	Broker EventBroker
}

// NewServer wires the server from the environment. Without DATABASE_URL the
// in-memory store serves seeded synthetic data; without REDIS_URL plan
// events stay in-process.
func NewServer() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	return &Server{
		Store:  s,
		Cfg:    cfg,
		Geo:    geocode.NewClient(),
		Pub:    webhooks.NewPublisher(s),
		Broker: broker,
	}, nil
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}
