package app

import (
	"log/slog"

	"pigeon/internal/client"
	"pigeon/internal/domain"
)

// App bundles the client-side dependency graph for the CLI.
type App struct {
	Facade *client.Facade
	Log    *slog.Logger
}

// New constructs the client app from cfg. onMessage receives decrypted
// inbound chat messages; observer, if non-nil, every roster change.
func New(cfg Config, onMessage func(from, text string), observer func(domain.RemoteUser), log *slog.Logger) *App {
	cfg.Normalize()
	facade := client.New(client.Config{
		ServerURL:    cfg.ServerURL,
		ListenAddr:   cfg.ListenAddr,
		AdvertiseURL: cfg.AdvertiseURL,
	}, onMessage, observer, log)
	return &App{Facade: facade, Log: log}
}
