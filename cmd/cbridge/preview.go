package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zulandar/cosense-bridge/internal/config"
	"github.com/zulandar/cosense-bridge/internal/cosense"
)

func newPreviewCmd() *cobra.Command {
	var (
		configPath     string
		teamDomain     string
		showTranscript bool
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "preview <channel-id> <thread-ts>",
		Short: "Print the Cosense links for a thread",
		Long: "Fetches a Slack thread with the configured tokens and prints the links a share\n" +
			"action would post, without contacting any response URL.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, configPath, teamDomain, args[0], args[1], showTranscript, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to cbridge config file")
	cmd.Flags().StringVarP(&teamDomain, "team", "t", "", "Slack workspace domain used in permalinks (required)")
	cmd.Flags().BoolVar(&showTranscript, "transcript", false, "also print the unencoded page body")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func runPreview(cmd *cobra.Command, configPath, teamDomain, channelID, rootTS string, showTranscript, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, err := newPipeline(cfg, newLogger(cmd.ErrOrStderr(), verbose))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ResponseTimeout)
	defer cancel()

	msgs, err := p.fetcher.FetchThread(ctx, channelID, rootTS)
	if err != nil {
		return fmt.Errorf("fetch thread: %w", err)
	}
	links, err := p.builder.BuildLinks(msgs, rootTS, teamDomain, channelID)
	if err != nil {
		return fmt.Errorf("build links: %w", err)
	}

	out := cmd.OutOrStdout()
	if showTranscript {
		fmt.Fprint(out, p.builder.Transcript(msgs, teamDomain, channelID))
	}
	printLinks(out, len(msgs), links)
	return nil
}

func printLinks(w io.Writer, messages int, links []cosense.LinkBlock) {
	fmt.Fprintf(w, "%d message(s), %d link(s)\n", messages, len(links))
	for i, l := range links {
		fmt.Fprintf(w, "[%d] %s\n", i+1, l.TargetURL)
	}
}
