package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"pairchat/internal/sweeper"
	"pairchat/pkg/chat"
	"pairchat/pkg/config"
	"pairchat/pkg/events"
	"pairchat/pkg/logger"
	"pairchat/pkg/media"
	"pairchat/pkg/state"
	"pairchat/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	svc   *chat.Service
	media *media.Disk
	srv   *http.Server
}

// New initializes resources that do not need a running context: config
// validation, the pebble store, media storage and the chat service. Call
// Run to start the sweeper and the HTTP server.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	paths, err := state.EnsureDirs(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare runtime dirs: %w", err)
	}

	if err := store.Open(paths.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
	}

	mcfg := eff.Config.Media
	mediaDir := mcfg.Dir
	if mediaDir == "" {
		mediaDir = paths.Media
	}
	disk, err := media.NewDisk(mediaDir, baseURLOr(mcfg.BaseURL, "/media"), mcfg.MaxUploadBytes())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := chat.NewService(events.NewHub(), events.NewPresence(), events.NewTypingTracker(), disk)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		svc:       svc,
		media:     disk,
	}, nil
}

func baseURLOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Run starts the typing sweeper and the HTTP server, blocking until ctx is
// canceled or a fatal server error occurs. The store is closed on the way
// out.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}()

	cancelSweep, err := sweeper.Start(ctx, a.svc, a.eff.Config.Typing)
	if err != nil {
		return err
	}
	defer cancelSweep()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.stopHTTP()
		return nil
	case err := <-errCh:
		return err
	}
}
