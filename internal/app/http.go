package app

import (
	"context"
	"net/http"
	"time"

	"pairchat/pkg/api"
	"pairchat/pkg/auth"
	"pairchat/pkg/banner"
	"pairchat/pkg/logger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff.Addr, a.eff.DBPath, a.eff.Source, verStr)
}

func (a *App) secConfig() auth.SecConfig {
	sec := a.eff.Config.Security
	cfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, sec.CORS.AllowedOrigins...),
		RPS:            sec.RateLimit.RPS,
		Burst:          sec.RateLimit.Burst,
		IPWhitelist:    append([]string{}, sec.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
	}
	for _, k := range sec.APIKeys.Backend {
		cfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range sec.APIKeys.Frontend {
		cfg.FrontendKeys[k] = struct{}{}
	}
	return cfg
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel carrying any fatal server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	handler := api.NewRouter(api.RouterOptions{
		Service:  a.svc,
		Media:    a.media,
		Sec:      a.secConfig(),
		DocsDir:  "./docs",
		MediaDir: a.media.Dir,
		Version:  a.version,
	})

	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		tls := a.eff.Config.Server.TLS
		var err error
		if tls.CertFile != "" && tls.KeyFile != "" {
			logger.Info("http_listening", "addr", a.eff.Addr, "tls", true)
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			logger.Info("http_listening", "addr", a.eff.Addr, "tls", false)
			err = a.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// stopHTTP drains in-flight requests before returning.
func (a *App) stopHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}
	logger.Info("http_stopped")
}
