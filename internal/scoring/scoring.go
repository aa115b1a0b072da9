// Package scoring builds the weighted interaction graph between processed
// articles from semantic, entity and temporal signals.
package scoring

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
)

const (
	// temporalDecayDays is the e-folding time of the recency signal.
	temporalDecayDays = 7.0
	// missingTimestampScore is the neutral temporal score when either
	// article lacks a publication time.
	missingTimestampScore = 0.5
)

// Weights holds the contribution of each signal to the total score.
// They should sum to 1.
type Weights struct {
	Semantic float64
	Entity   float64
	Temporal float64
}

// DefaultWeights returns the production weighting: semantic similarity
// dominates, entity overlap and recency refine.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.5, Entity: 0.3, Temporal: 0.2}
}

// Scorer computes thresholded interaction edges over candidate pairs.
type Scorer struct {
	weights    Weights
	threshold  float64
	kNeighbors int
	decayDays  float64
	log        *slog.Logger
}

// NewScorer creates a scorer with production defaults.
func NewScorer() *Scorer {
	return &Scorer{
		weights:    DefaultWeights(),
		threshold:  0.65,
		kNeighbors: 5,
		decayDays:  temporalDecayDays,
		log:        logger.Get(),
	}
}

// WithWeights overrides the signal weights.
func (s *Scorer) WithWeights(w Weights) *Scorer {
	s.weights = w
	return s
}

// WithThreshold overrides the persistence threshold.
func (s *Scorer) WithThreshold(threshold float64) *Scorer {
	s.threshold = threshold
	return s
}

// WithKNeighbors overrides the number of nearest neighbors per article.
func (s *Scorer) WithKNeighbors(k int) *Scorer {
	s.kNeighbors = k
	return s
}

// WithDecayDays overrides the temporal decay constant.
func (s *Scorer) WithDecayDays(days float64) *Scorer {
	if days > 0 {
		s.decayDays = days
	}
	return s
}

// pair is a canonical candidate: Source < Target always.
type pair struct {
	Source int64
	Target int64
}

// ScoreBatch finds each article's k nearest neighbors by embedding,
// deduplicates the candidate pairs, scores them, and returns only edges
// whose total score clears the threshold.
func (s *Scorer) ScoreBatch(articles []core.Article, runDate time.Time) []core.GraphEdge {
	index := make(map[int64]*core.Article, len(articles))
	for i := range articles {
		if len(articles[i].Embedding) > 0 {
			index[articles[i].ID] = &articles[i]
		}
	}
	if len(index) < 2 {
		return nil
	}

	candidates := s.candidatePairs(index)

	var edges []core.GraphEdge
	for _, c := range candidates {
		a, b := index[c.Source], index[c.Target]
		edge := s.scorePair(a, b, runDate)
		if edge.TotalScore >= s.threshold {
			edges = append(edges, edge)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})

	s.log.Info("Scored candidate pairs",
		"articles", len(index), "candidates", len(candidates), "edges", len(edges))
	return edges
}

// candidatePairs runs exact k-NN per article and canonicalizes the
// resulting pairs so each unordered pair is scored once.
func (s *Scorer) candidatePairs(index map[int64]*core.Article) []pair {
	ids := make([]int64, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	type neighbor struct {
		id  int64
		sim float64
	}

	seen := make(map[pair]struct{})
	var pairs []pair
	for _, id := range ids {
		article := index[id]

		// k+1 because the article is its own nearest neighbor
		neighbors := make([]neighbor, 0, len(ids)-1)
		for _, otherID := range ids {
			if otherID == id {
				continue
			}
			sim := llm.CosineSimilarity(article.Embedding, index[otherID].Embedding)
			neighbors = append(neighbors, neighbor{id: otherID, sim: sim})
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].sim != neighbors[j].sim {
				return neighbors[i].sim > neighbors[j].sim
			}
			return neighbors[i].id < neighbors[j].id
		})

		limit := s.kNeighbors
		if limit > len(neighbors) {
			limit = len(neighbors)
		}
		for _, n := range neighbors[:limit] {
			p := canonicalPair(id, n.id)
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func canonicalPair(a, b int64) pair {
	if a < b {
		return pair{Source: a, Target: b}
	}
	return pair{Source: b, Target: a}
}

func (s *Scorer) scorePair(a, b *core.Article, runDate time.Time) core.GraphEdge {
	semantic := clamp01(llm.CosineSimilarity(a.Embedding, b.Embedding))
	entity := jaccard(a.EntityNames(), b.EntityNames())
	temporal := temporalScore(a.PublishedAt, b.PublishedAt, s.decayDays)

	total := s.weights.Semantic*semantic + s.weights.Entity*entity + s.weights.Temporal*temporal

	return core.GraphEdge{
		SourceID:      a.ID,
		TargetID:      b.ID,
		SemanticScore: semantic,
		EntityScore:   entity,
		TemporalScore: temporal,
		TotalScore:    total,
		RunDate:       runDate,
	}
}

// jaccard computes |A∩B| / |A∪B| over lowercased entity names.
// Two empty sets score 0, not 1.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for name := range a {
		if _, ok := b[name]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// temporalScore decays exponentially with the publication gap in days.
func temporalScore(a, b *time.Time, decayDays float64) float64 {
	if a == nil || b == nil {
		return missingTimestampScore
	}
	deltaDays := math.Abs(a.Sub(*b).Hours()) / 24.0
	return math.Exp(-deltaDays / decayDays)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
