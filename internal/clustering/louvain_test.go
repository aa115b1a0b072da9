package clustering

import (
	"context"
	"testing"
	"time"

	"storyline/internal/core"
)

type stubEdgeLoader struct {
	edges []core.GraphEdge
}

func (s *stubEdgeLoader) GetEdges(ctx context.Context, runDate time.Time, minTotal float64) ([]core.GraphEdge, error) {
	return s.edges, nil
}

func edge(source, target int64, weight float64) core.GraphEdge {
	return core.GraphEdge{SourceID: source, TargetID: target, TotalScore: weight}
}

func TestClusterRunTwoCommunities(t *testing.T) {
	// Triangle {1,2,3}, pair {4,5}, isolated article 6 has no edges at
	// all so it cannot even enter the graph.
	loader := &stubEdgeLoader{edges: []core.GraphEdge{
		edge(1, 2, 0.9),
		edge(2, 3, 0.85),
		edge(1, 3, 0.8),
		edge(4, 5, 0.75),
	}}

	clusters, err := NewLouvainClusterer(loader).ClusterRun(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClusterRun returned error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %v", len(clusters), clusters)
	}

	// Largest first
	if got := clusters[0].ArticleIDs; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("first cluster: got %v, want [1 2 3]", got)
	}
	if got := clusters[1].ArticleIDs; len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("second cluster: got %v, want [4 5]", got)
	}
}

func TestClusterRunDropsSmallCommunities(t *testing.T) {
	loader := &stubEdgeLoader{edges: []core.GraphEdge{
		edge(1, 2, 0.9),
		edge(2, 3, 0.85),
		edge(4, 5, 0.7),
	}}

	clusters, err := NewLouvainClusterer(loader).WithMinSize(3).ClusterRun(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClusterRun returned error: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected only the size-3 cluster, got %v", clusters)
	}
	if len(clusters[0].ArticleIDs) != 3 {
		t.Errorf("got %v, want three members", clusters[0].ArticleIDs)
	}
}

func TestClusterRunEmpty(t *testing.T) {
	clusters, err := NewLouvainClusterer(&stubEdgeLoader{}).ClusterRun(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClusterRun returned error: %v", err)
	}
	if clusters != nil {
		t.Errorf("expected no clusters, got %v", clusters)
	}
}

func TestUngrouped(t *testing.T) {
	clusters := []Cluster{{ArticleIDs: []int64{1, 2, 3}}, {ArticleIDs: []int64{4, 5}}}
	batch := []int64{1, 2, 3, 4, 5, 6, 7}

	got := Ungrouped(batch, clusters)
	if len(got) != 2 || got[0] != 6 || got[1] != 7 {
		t.Errorf("got %v, want [6 7]", got)
	}

	if got := Ungrouped(nil, clusters); got != nil {
		t.Errorf("empty batch: got %v, want nil", got)
	}
}
