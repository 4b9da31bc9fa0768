package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "multimodal_rag"

var (
	ImagesDescribed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_described_total",
		Help:      "Images sent to the vision model, by outcome.",
	}, []string{"outcome"})

	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_calls_total",
		Help:      "Language model calls, by operation and outcome.",
	}, []string{"op", "outcome"})

	ModelRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_call_retries_total",
		Help:      "Retried language model call attempts, by operation.",
	}, []string{"op"})

	ChunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_indexed_total",
		Help:      "Chunks embedded and added to the vector index.",
	})

	IndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_entries",
		Help:      "Entries in the vector index after the last save.",
	})

	QueriesAnswered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Questions answered, by outcome.",
	}, []string{"outcome"})

	PagesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_extracted_total",
		Help:      "Document pages extracted.",
	})
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)
