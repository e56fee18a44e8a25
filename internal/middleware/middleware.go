package middleware

import (
	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/store"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	st  store.Store
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance
func New(st store.Store, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		st:  st,
		log: log,
		cfg: cfg,
	}
}
