package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"maps-and-minis/server/internal/auth"
	"maps-and-minis/server/internal/net/httpapi"
	"maps-and-minis/server/internal/net/ws"
	"maps-and-minis/server/internal/session"
	"maps-and-minis/server/internal/store"
	"maps-and-minis/server/logging"
	loggingsinks "maps-and-minis/server/logging/sinks"
)

// Config holds the process-level knobs. Flags and environment fill it in
// Run; tests construct it directly.
type Config struct {
	Addr        string
	LogJSONPath string
	MaxQueue    int
	Logger      *log.Logger
	Verifier    auth.Verifier
}

// DefaultConfig returns the baseline process configuration.
func DefaultConfig() Config {
	return Config{
		Addr:     ":8080",
		MaxQueue: 0,
	}
}

// ParseFlags fills the config from command-line flags and environment.
func ParseFlags(args []string) (Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogJSONPath, "log-json", "", "append structured events to this file")
	fs.IntVar(&cfg.MaxQueue, "max-queue", cfg.MaxQueue, "per-session update log cap (0 = default)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	return cfg, nil
}

// Run wires the process together and serves until the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	logCfg := logging.DefaultConfig()
	namedSinks := []logging.NamedSink{
		{Name: "console", Sink: loggingsinks.NewConsoleSink(os.Stdout)},
	}
	if cfg.LogJSONPath != "" {
		file, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open json log: %w", err)
		}
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "json",
			Sink: loggingsinks.NewJSON(file, logCfg.JSON.FlushInterval),
		})
	}
	router, err := logging.NewRouter(nil, logCfg, namedSinks)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	records := store.New()
	sessions := session.NewManager(records, router, cfg.MaxQueue)
	registry := ws.NewRegistry()
	wsHandler := ws.NewHandler(sessions, registry, ws.HandlerConfig{
		Logger:    logger,
		Publisher: router,
		Verifier:  cfg.Verifier,
	})

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go sessions.RunTicks(loopCtx)
	go wsHandler.RunDeltaBroadcast(loopCtx)
	go wsHandler.RunPingSweep(loopCtx)

	handler := httpapi.NewHandler(sessions, registry, wsHandler.Handle, httpapi.Config{Logger: logger})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
