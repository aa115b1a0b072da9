// Package clustering groups articles into candidate stories by running
// Louvain community detection over the persisted interaction graph.
package clustering

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"storyline/internal/core"
	"storyline/internal/logger"
)

// EdgeLoader is the persistence surface the clusterer needs.
type EdgeLoader interface {
	GetEdges(ctx context.Context, runDate time.Time, minTotal float64) ([]core.GraphEdge, error)
}

// Cluster is one detected community of article ids.
type Cluster struct {
	ArticleIDs []int64
}

// LouvainClusterer detects communities in the weighted article graph.
// Edge weights are the total interaction scores, so Louvain prefers
// strongly connected article groups when optimizing modularity Q.
type LouvainClusterer struct {
	edges      EdgeLoader
	resolution float64
	minSize    int
	log        *slog.Logger
}

// NewLouvainClusterer creates a clusterer with standard resolution and a
// minimum community size of 2.
func NewLouvainClusterer(edges EdgeLoader) *LouvainClusterer {
	return &LouvainClusterer{
		edges:      edges,
		resolution: 1.0,
		minSize:    2,
		log:        logger.Get(),
	}
}

// WithResolution tunes cluster granularity. Higher than 1.0 produces
// more, smaller communities.
func (l *LouvainClusterer) WithResolution(resolution float64) *LouvainClusterer {
	l.resolution = resolution
	return l
}

// WithMinSize sets the minimum community size; smaller communities are
// discarded as ungrouped.
func (l *LouvainClusterer) WithMinSize(minSize int) *LouvainClusterer {
	l.minSize = minSize
	return l
}

// ClusterRun loads the run's edges and returns communities of at least
// minSize articles, largest first, ties broken by smallest member id.
// Singletons never appear: an article with no surviving edge is simply
// absent from the output.
func (l *LouvainClusterer) ClusterRun(ctx context.Context, runDate time.Time) ([]Cluster, error) {
	edges, err := l.edges.GetEdges(ctx, runDate, 0)
	if err != nil {
		return nil, err
	}
	return l.clusterEdges(edges), nil
}

func (l *LouvainClusterer) clusterEdges(edges []core.GraphEdge) []Cluster {
	if len(edges) == 0 {
		l.log.Info("No edges for run, nothing to cluster")
		return nil
	}

	// gonum wants dense node ids; map article ids both ways
	g := simple.NewWeightedUndirectedGraph(0, 0)
	nodeToArticle := make(map[int64]int64)
	articleToNode := make(map[int64]int64)
	nextNode := int64(0)

	node := func(articleID int64) int64 {
		if id, ok := articleToNode[articleID]; ok {
			return id
		}
		id := nextNode
		nextNode++
		articleToNode[articleID] = id
		nodeToArticle[id] = articleID
		g.AddNode(simple.Node(id))
		return id
	}

	for _, edge := range edges {
		from := node(edge.SourceID)
		to := node(edge.TargetID)
		if from == to {
			continue
		}
		if e := g.WeightedEdge(from, to); e == nil {
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(from),
				T: simple.Node(to),
				W: edge.TotalScore,
			})
		}
	}

	reduced := community.Modularize(g, l.resolution, nil)
	communities := reduced.Communities()
	q := community.Q(g, communities, l.resolution)
	l.log.Info("Louvain community detection complete",
		"nodes", len(articleToNode), "edges", len(edges),
		"communities", len(communities), "modularity_q", q)

	var clusters []Cluster
	for _, comm := range communities {
		if len(comm) < l.minSize {
			continue
		}
		ids := make([]int64, 0, len(comm))
		for _, n := range comm {
			ids = append(ids, nodeToArticle[n.ID()])
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		clusters = append(clusters, Cluster{ArticleIDs: ids})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].ArticleIDs) != len(clusters[j].ArticleIDs) {
			return len(clusters[i].ArticleIDs) > len(clusters[j].ArticleIDs)
		}
		return clusters[i].ArticleIDs[0] < clusters[j].ArticleIDs[0]
	})
	return clusters
}

// Ungrouped returns the article ids from the batch that ended up in no
// emitted cluster.
func Ungrouped(batch []int64, clusters []Cluster) []int64 {
	grouped := make(map[int64]struct{})
	for _, cluster := range clusters {
		for _, id := range cluster.ArticleIDs {
			grouped[id] = struct{}{}
		}
	}

	var ungrouped []int64
	for _, id := range batch {
		if _, ok := grouped[id]; !ok {
			ungrouped = append(ungrouped, id)
		}
	}
	return ungrouped
}
