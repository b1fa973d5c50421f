// Package devremote runs the in-process remote contact collection as a
// standalone HTTP server for local development against the real CLI.
package devremote

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lendbridge/contactsync/internal/config"
	"github.com/lendbridge/contactsync/internal/devmode"
	"github.com/lendbridge/contactsync/internal/fakeremote"
	"github.com/lendbridge/contactsync/internal/logger"
)

// Run starts the dev remote and blocks until SIGINT/SIGTERM or a server error.
func Run() error {
	log := logger.New("devremote")

	cfg, err := config.New(log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	log = logger.WithLevel(log, cfg.LogLevel)

	token := devmode.Token
	if cfg.APIToken != "" && !cfg.DevMode {
		token = cfg.APIToken
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := newHTTPServer(ctx, cfg.GetDevRemoteAddr(), buildHandler(token, log))
	errCh := serveHTTP(server, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down dev remote")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Dev remote forced to shutdown")
			return err
		}
		log.Info().Msg("Dev remote exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// buildHandler mounts the fake collection next to /metrics.
func buildHandler(token string, log zerolog.Logger) http.Handler {
	remote := fakeremote.New(fakeremote.WithToken(token), fakeremote.WithLogger(log))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", remote)
	return mux
}

func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Dev remote starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
	}()
	return errCh
}
