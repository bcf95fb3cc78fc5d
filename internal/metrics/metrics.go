// Package metrics exposes Prometheus instrumentation for the Blogmatic server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationRequestsTotal counts generation attempts by outcome
	// (generated, credits_exhausted, upstream_failure, unauthorized, error).
	GenerationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blogmatic",
		Name:      "generation_requests_total",
		Help:      "Total blog generation requests by outcome.",
	}, []string{"outcome"})

	// GenerationDuration tracks end-to-end generation latency.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blogmatic",
		Name:      "generation_duration_seconds",
		Help:      "Blog generation request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// WebhookEventsTotal counts payment webhook deliveries by event type and
	// outcome (applied, ignored, rejected, error).
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blogmatic",
		Name:      "webhook_events_total",
		Help:      "Total payment webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// CheckoutsTotal counts checkout initiations by outcome.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blogmatic",
		Name:      "checkouts_total",
		Help:      "Total checkout initiations by outcome.",
	}, []string{"outcome"})

	// AccountsTotal tracks the number of registered accounts.
	AccountsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blogmatic",
		Name:      "accounts_total",
		Help:      "Number of registered accounts.",
	})

	// SubscribedAccounts tracks the number of subscribed accounts.
	SubscribedAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blogmatic",
		Name:      "subscribed_accounts",
		Help:      "Number of accounts with an active subscription.",
	})
)
