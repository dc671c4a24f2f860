// Package metrics holds the Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cbridge_build_info",
			Help: "Build information of the Cosense bridge",
		},
		[]string{"version", "commit", "date"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_requests_total",
			Help: "Total number of inbound webhook requests by payload kind",
		},
		[]string{"kind"},
	)

	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_requests_rejected_total",
			Help: "Total number of inbound requests rejected before dispatch",
		},
		[]string{"reason"},
	)

	ShareResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_share_results_total",
			Help: "Total number of share actions by outcome",
		},
		[]string{"result"},
	)

	ShareDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cbridge_share_duration_seconds",
			Help:    "Duration of the share pipeline",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	SlackAPIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_slack_api_errors_total",
			Help: "Total number of Slack Web API errors",
		},
		[]string{"method"},
	)

	ResponsesPostedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_responses_posted_total",
			Help: "Total number of messages posted to response URLs",
		},
		[]string{"kind", "status"},
	)

	AuthorCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbridge_author_cache_lookups_total",
			Help: "Author name cache lookups by result",
		},
		[]string{"result"},
	)
)
