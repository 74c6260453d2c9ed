// Package eval implements standard retrieval quality metrics for
// benchmarking collections against labeled query sets.
package eval

import (
	"math"
	"sort"
)

// Query is one labeled evaluation query: the chunk IDs a retrieval
// returned, in rank order, and the set of IDs judged relevant.
type Query struct {
	Retrieved []string
	Relevant  map[string]bool
}

// PrecisionAtK is the fraction of the top k results that are relevant.
// The denominator is k even when fewer results were returned.
func PrecisionAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if k <= 0 || len(relevant) == 0 {
		return 0
	}
	return float64(hitsAtK(retrieved, relevant, k)) / float64(k)
}

// RecallAtK is the fraction of relevant chunks found in the top k.
func RecallAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if k <= 0 || len(relevant) == 0 {
		return 0
	}
	return float64(hitsAtK(retrieved, relevant, k)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant result, 0 when no
// result is relevant.
func ReciprocalRank(retrieved []string, relevant map[string]bool) float64 {
	for i, id := range retrieved {
		if relevant[id] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// MeanReciprocalRank averages ReciprocalRank over a query set.
func MeanReciprocalRank(queries []Query) float64 {
	if len(queries) == 0 {
		return 0
	}
	var sum float64
	for _, q := range queries {
		sum += ReciprocalRank(q.Retrieved, q.Relevant)
	}
	return sum / float64(len(queries))
}

// AveragePrecision averages precision over the ranks holding relevant
// results, normalized by the total number of relevant chunks, so
// relevant chunks never retrieved count against the score.
func AveragePrecision(retrieved []string, relevant map[string]bool) float64 {
	if len(relevant) == 0 {
		return 0
	}

	var sum float64
	hits := 0
	for i, id := range retrieved {
		if relevant[id] {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(len(relevant))
}

// NDCGAtK is the normalized discounted cumulative gain over the top k,
// with linear gains and a log2(rank+1) discount. relevance maps chunk
// IDs to graded judgments; missing IDs count as zero.
func NDCGAtK(retrieved []string, relevance map[string]float64, k int) float64 {
	if k <= 0 || len(relevance) == 0 {
		return 0
	}

	var dcg float64
	for i, id := range retrieved {
		if i >= k {
			break
		}
		dcg += relevance[id] / math.Log2(float64(i)+2)
	}

	ideal := make([]float64, 0, len(relevance))
	for _, rel := range relevance {
		ideal = append(ideal, rel)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	var idcg float64
	for i, rel := range ideal {
		if i >= k {
			break
		}
		idcg += rel / math.Log2(float64(i)+2)
	}
	if idcg == 0 {
		return 0
	}

	return dcg / idcg
}

func hitsAtK(retrieved []string, relevant map[string]bool, k int) int {
	if k > len(retrieved) {
		k = len(retrieved)
	}
	hits := 0
	for _, id := range retrieved[:k] {
		if relevant[id] {
			hits++
		}
	}
	return hits
}
