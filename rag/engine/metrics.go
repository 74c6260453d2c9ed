package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusbank_retrieval_source_failures_total",
		Help: "Retrieval source failures absorbed by hybrid fusion.",
	}, []string{"source"})

	rerankDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpusbank_rerank_degraded_total",
		Help: "Queries served in fusion order because the reranker was unavailable.",
	})
)
