// Package ranking scores and orders entity aggregates for top-N selection.
package ranking

import (
	"math"
	"sort"

	"github.com/adlibio/adprep/models"
)

// Method selects the scoring formula.
type Method string

const (
	// MethodHeuristic combines reach, spend, media counts and page likes
	// with configurable weights.
	MethodHeuristic Method = "heuristic"
	// MethodMediaCount scores by total media count alone.
	MethodMediaCount Method = "media-count"
)

// ParseMethod maps a config string onto a Method, defaulting to heuristic.
func ParseMethod(s string) Method {
	if Method(s) == MethodMediaCount {
		return MethodMediaCount
	}
	return MethodHeuristic
}

// Rank assigns a score to every aggregate and returns them ordered by score
// descending. The sort is stable: equal scores keep the input order, so
// downstream top-N selection is reproducible across runs given the same
// input order. The input slice is not modified.
func Rank(aggregates []*models.EntityAggregate, method Method, w models.RankingWeights) []*models.EntityAggregate {
	ranked := make([]*models.EntityAggregate, len(aggregates))
	copy(ranked, aggregates)

	for _, agg := range ranked {
		agg.Score = score(agg, method, w)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// TopN returns the first n ranked aggregates (all of them when n exceeds the
// input length or is non-positive).
func TopN(ranked []*models.EntityAggregate, n int) []*models.EntityAggregate {
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

// score computes one aggregate's score. Null numeric inputs count as 0
// before the log transform.
func score(agg *models.EntityAggregate, method Method, w models.RankingWeights) float64 {
	mediaCount := float64(agg.ImageCount + agg.VideoCount)
	if method == MethodMediaCount {
		return mediaCount
	}

	s := w.Reach * math.Log1p(deref(agg.MaxReach))
	s += w.Spend * math.Log1p(deref(agg.MaxSpend))
	s += w.Media * mediaCount
	if agg.VideoCount > 0 {
		s += w.Video
	}
	s += w.PageLikes * math.Log1p(deref(agg.MaxPageLikeCount))
	return s
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
