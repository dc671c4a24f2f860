package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/cosense-bridge/internal/signature"
)

func newSignCmd() *cobra.Command {
	var (
		secret    string
		timestamp string
	)

	cmd := &cobra.Command{
		Use:   "sign [body]",
		Short: "Compute Slack signature headers for a request body",
		Long: "Prints the X-Slack-Request-Timestamp and X-Slack-Signature headers Slack would\n" +
			"send for the body, for replaying requests against a local server. The body is\n" +
			"read from stdin when not given as an argument.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, args, secret, timestamp)
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "signing secret (default $SLACK_SIGNING_SECRET)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Unix timestamp to sign (default now)")
	return cmd
}

func runSign(cmd *cobra.Command, args []string, secret, timestamp string) error {
	if secret == "" {
		secret = os.Getenv("SLACK_SIGNING_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("signing secret is required (--secret or SLACK_SIGNING_SECRET)")
	}
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return fmt.Errorf("invalid timestamp %q", timestamp)
	}

	var body []byte
	if len(args) == 1 {
		body = []byte(args[0])
	} else {
		var err error
		if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", signature.TimestampHeader, timestamp)
	fmt.Fprintf(out, "%s: %s\n", signature.SignatureHeader, signature.Compute(secret, body, timestamp))
	return nil
}
