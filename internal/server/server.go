// Package server exposes the Slack webhook endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// StartOpts holds configuration for the webhook server.
type StartOpts struct {
	Webhook *Webhook
	Addr    string
	Out     io.Writer
	Logger  *slog.Logger
}

// Start launches the webhook HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Webhook == nil {
		return fmt.Errorf("server: webhook is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":3000"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts.Webhook, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "error", err)
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Webhook server listening on %s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
