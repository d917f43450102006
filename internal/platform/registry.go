package platform

import (
	"errors"
	"time"

	"github.com/kapu/chess-importer/internal/domain"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

type Config struct {
	LichessBaseURL  string
	ChessComBaseURL string
	RetryAttempts   int
	RetryDelay      time.Duration
}

// Registry holds one client per supported platform. The platform set is
// closed, so this is a plain map rather than open plugin registration.
type Registry struct {
	clients map[domain.Platform]Client
}

func NewRegistry(cfg Config) *Registry {
	opts := []Option{WithRetry(cfg.RetryAttempts, cfg.RetryDelay)}
	return &Registry{
		clients: map[domain.Platform]Client{
			domain.PlatformLichess:  NewLichess(cfg.LichessBaseURL, opts...),
			domain.PlatformChessCom: NewChessCom(cfg.ChessComBaseURL, opts...),
		},
	}
}

// NewRegistryWith builds a registry from pre-built clients, keyed by each
// client's own platform.
func NewRegistryWith(clients ...Client) *Registry {
	r := &Registry{clients: make(map[domain.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

func (r *Registry) For(p domain.Platform) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, ErrUnsupportedPlatform
	}
	return c, nil
}
