package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zulandar/cosense-bridge/internal/config"
	"github.com/zulandar/cosense-bridge/internal/cosense"
	"github.com/zulandar/cosense-bridge/internal/thread"
)

// pipeline holds the stages shared by serve and preview.
type pipeline struct {
	cache   *thread.TTLCache
	fetcher *thread.Fetcher
	builder *cosense.Builder
}

func newPipeline(cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	cache := thread.NewTTLCache(cfg.Cache.TTL, cfg.Cache.Capacity)

	fetcher, err := thread.NewFetcher(thread.FetcherOpts{
		UserToken:  cfg.Slack.UserToken,
		BotToken:   cfg.Slack.BotToken,
		APIURL:     cfg.Slack.APIURL,
		HTTPClient: &http.Client{Timeout: cfg.Server.ResponseTimeout},
		Cache:      cache,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	builder, err := cosense.NewBuilder(cosense.BuilderOpts{
		BaseURL:       cfg.Cosense.BaseURL,
		Project:       cfg.Cosense.Project,
		LinkText:      cfg.Cosense.LinkText,
		MaxBlockChars: cfg.Cosense.MaxBlockChars,
		Location:      cfg.Location(),
	})
	if err != nil {
		return nil, fmt.Errorf("create link builder: %w", err)
	}

	return &pipeline{cache: cache, fetcher: fetcher, builder: builder}, nil
}
