package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/cosense-bridge/internal/config"
	"github.com/zulandar/cosense-bridge/internal/metrics"
	"github.com/zulandar/cosense-bridge/internal/respond"
	"github.com/zulandar/cosense-bridge/internal/server"
	"github.com/zulandar/cosense-bridge/internal/share"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Slack webhook server",
		Long:  "Listens for Slack events and message actions and answers share actions with Cosense links.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, addr, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to cbridge config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, addr string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log := newLogger(cmd.ErrOrStderr(), verbose)
	metrics.BuildInfo.WithLabelValues(Version, Commit, Date).Set(1)

	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	purge, err := p.cache.SchedulePurge(cfg.Cache.PurgeSchedule)
	if err != nil {
		return err
	}
	defer purge.Stop()

	sharer, err := share.NewSharer(share.SharerOpts{
		Fetcher: p.fetcher,
		Builder: p.builder,
		Responder: respond.NewDispatcher(respond.DispatcherOpts{
			HTTPClient: &http.Client{Timeout: cfg.Server.ResponseTimeout},
			Logger:     log,
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}

	webhook := server.NewWebhook(server.WebhookOpts{
		SigningSecret:   cfg.Slack.SigningSecret,
		BodyReadTimeout: cfg.Server.BodyReadTimeout,
		RequestMaxAge:   cfg.Server.RequestMaxAge,
		Actions:         map[string]server.ActionHandler{cfg.Slack.ShareCallbackID: sharer},
		Logger:          log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("starting webhook server",
		"addr", cfg.Server.Addr,
		"project", cfg.Cosense.Project,
		"callback_id", cfg.Slack.ShareCallbackID,
		"version", Version,
	)
	return server.Start(ctx, server.StartOpts{
		Webhook: webhook,
		Addr:    cfg.Server.Addr,
		Out:     cmd.OutOrStdout(),
		Logger:  log,
	})
}
