// Package metrics registers the prometheus instruments the pipeline emits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArticlesEnriched counts completed enrichments by commentary source.
	ArticlesEnriched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsflow",
		Name:      "articles_enriched_total",
		Help:      "Articles enriched, labeled by commentary source (ai or fallback).",
	}, []string{"source"})

	// ArticlesFetched counts normalized upstream items by section.
	ArticlesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsflow",
		Name:      "articles_fetched_total",
		Help:      "Upstream items normalized into canonical articles, by section.",
	}, []string{"section"})

	// RotationsCompleted counts full passes over the section list.
	RotationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsflow",
		Name:      "rotations_completed_total",
		Help:      "Completed round-robin passes over all sections.",
	})

	// CredentialExhaustions counts times a whole pool ran out of credentials.
	CredentialExhaustions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsflow",
		Name:      "credential_exhaustions_total",
		Help:      "Dispatches that found every credential exhausted, by pool.",
	}, []string{"pool"})

	// QueueDepth tracks jobs by state.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "newsflow",
		Name:      "queue_jobs",
		Help:      "Enrichment jobs by state.",
	}, []string{"state"})

	// ThresholdMet reports whether every section holds enough enriched
	// articles for cache publication (1) or not (0).
	ThresholdMet = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "newsflow",
		Name:      "threshold_met",
		Help:      "Whether the per-section enriched-article threshold is met everywhere.",
	})
)
