// Command ccbridge runs the local HTTP proxy bridging OpenAI and Anthropic
// client dialects to the Google-shaped upstream Cloud Code service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ccbridge/internal/config"
	"ccbridge/internal/httpapi"
	"ccbridge/internal/observability"
	"ccbridge/internal/router"
	"ccbridge/internal/sigcache"
	"ccbridge/internal/upstream"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "do not auto-launch a browser (parsed, ignored: external collaborator)")
	noNgrok := flag.Bool("no-ngrok", false, "do not spawn the tunnelling helper (parsed, ignored: external collaborator)")
	fallback := flag.Bool("fallback", false, "retry a 1M-context upstream failure once against the non-1M model id")
	envPath := flag.String("env", ".env", "path to a KEY=VALUE environment file")
	flag.Parse()

	cfg, err := config.Load(*envPath, config.Flags{
		Debug:     *debug,
		NoBrowser: *noBrowser,
		NoNgrok:   *noNgrok,
		Fallback:  *fallback,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger("", cfg.LogLevel())

	if cfg.NoBrowser || cfg.NoNgrok {
		log.Debug().Bool("no_browser", cfg.NoBrowser).Bool("no_ngrok", cfg.NoNgrok).
			Msg("browser launch and tunnelling are external collaborators; flags recorded and otherwise ignored")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, observability.Settings{
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ServiceName:    "ccbridge",
		ServiceVersion: "dev",
		Environment:    "local",
	})
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	up, err := upstream.New(ctx, upstream.Config{
		BaseURL: cfg.CloudCodeBaseURL,
		APIKey:  cfg.CloudCodeAPIKey,
		Timeout: 10 * time.Minute,
	}, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init upstream client")
	}

	rt := router.New(cfg.DefaultModel)
	rt.Set1MContext(cfg.Enable1MContext)

	cache := sigcache.New(sigcache.DefaultMaxEntries)

	server := httpapi.NewServer(cfg, rt, cache, up)

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Bool("fallback", cfg.Fallback).Bool("enable_1m_context", cfg.Enable1MContext).Msg("ccbridge listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server error")
	}
}
