package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusbank_queries_total",
		Help: "Retrieval requests served, by collection and kind (search or question).",
	}, []string{"collection", "kind"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corpusbank_query_duration_seconds",
		Help:    "End-to-end latency of retrieval requests.",
		Buckets: prometheus.DefBuckets,
	})

	documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusbank_documents_ingested_total",
		Help: "Documents stored into collections through the upload endpoint.",
	}, []string{"collection"})
)
