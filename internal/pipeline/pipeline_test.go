package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyline/internal/clustering"
	"storyline/internal/core"
	"storyline/internal/enrich"
	"storyline/internal/features"
	"storyline/internal/persistence"
	"storyline/internal/submit"
	"storyline/internal/synthesize"
)

// In-memory store covering the surface Run touches.

type mockArticleRepo struct {
	unprocessed []core.Article
	processed   []core.Article
}

func (m *mockArticleRepo) GetUnprocessed(ctx context.Context, limit int) ([]core.Article, error) {
	return m.unprocessed, nil
}

func (m *mockArticleRepo) GetProcessed(ctx context.Context, limit int) ([]core.Article, error) {
	return m.processed, nil
}

func (m *mockArticleRepo) GetByIDs(ctx context.Context, ids []int64) ([]core.Article, error) {
	var out []core.Article
	for _, id := range ids {
		for _, a := range m.processed {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *mockArticleRepo) UpdateEmbedding(ctx context.Context, articleID int64, embedding []float64) error {
	return nil
}

type mockEntityRepo struct{}

func (m *mockEntityRepo) Upsert(ctx context.Context, name, entityType string) (int64, error) {
	return 1, nil
}
func (m *mockEntityRepo) Link(ctx context.Context, articleID, entityID int64) error { return nil }

type mockLogRepo struct {
	eventTypes map[int64]string
	assets     []string
}

func (m *mockLogRepo) Upsert(ctx context.Context, entry persistence.LogEntry) error { return nil }
func (m *mockLogRepo) MarkFailed(ctx context.Context, articleID int64, message string) error {
	return nil
}
func (m *mockLogRepo) GetEventTypes(ctx context.Context, articleIDs []int64) (map[int64]string, error) {
	return m.eventTypes, nil
}
func (m *mockLogRepo) GetAffectedAssets(ctx context.Context, articleIDs []int64) ([]string, error) {
	return m.assets, nil
}

type mockEdgeRepo struct {
	saved []core.GraphEdge
}

func (m *mockEdgeRepo) SaveEdges(ctx context.Context, edges []core.GraphEdge) error {
	m.saved = append(m.saved, edges...)
	return nil
}
func (m *mockEdgeRepo) GetEdges(ctx context.Context, runDate time.Time, minTotal float64) ([]core.GraphEdge, error) {
	return nil, nil
}

type mockStoryRepo struct {
	stories       []core.Story
	relationships []core.StoryRelationship
	touched       []int64
}

func (m *mockStoryRepo) SaveStory(ctx context.Context, story *core.Story) (int64, error) {
	story.ID = int64(len(m.stories) + 100)
	m.stories = append(m.stories, *story)
	return story.ID, nil
}
func (m *mockStoryRepo) SaveRelationship(ctx context.Context, rel core.StoryRelationship) error {
	m.relationships = append(m.relationships, rel)
	return nil
}
func (m *mockStoryRepo) TouchLastUpdate(ctx context.Context, storyID int64) error {
	m.touched = append(m.touched, storyID)
	return nil
}

type mockEventRepo struct{}

func (m *mockEventRepo) FindEvents(ctx context.Context, start, end time.Time, keywords []string) ([]core.EconomicEvent, error) {
	return nil, nil
}
func (m *mockEventRepo) SaveEvents(ctx context.Context, events []core.EconomicEvent) error {
	return nil
}

type mockStore struct {
	articles *mockArticleRepo
	entities *mockEntityRepo
	logs     *mockLogRepo
	edges    *mockEdgeRepo
	stories  *mockStoryRepo
	events   *mockEventRepo

	mu            sync.Mutex
	savedFeatures []core.EnrichedArticle
	failFeatures  map[int64]error
}

func newMockStore() *mockStore {
	return &mockStore{
		articles: &mockArticleRepo{},
		entities: &mockEntityRepo{},
		logs:     &mockLogRepo{},
		edges:    &mockEdgeRepo{},
		stories:  &mockStoryRepo{},
		events:   &mockEventRepo{},
	}
}

func (m *mockStore) Articles() persistence.ArticleRepository   { return m.articles }
func (m *mockStore) Entities() persistence.EntityRepository    { return m.entities }
func (m *mockStore) Logs() persistence.ProcessingLogRepository { return m.logs }
func (m *mockStore) Edges() persistence.EdgeRepository         { return m.edges }
func (m *mockStore) Stories() persistence.StoryRepository      { return m.stories }
func (m *mockStore) Events() persistence.EventRepository       { return m.events }
func (m *mockStore) Ping(ctx context.Context) error            { return nil }
func (m *mockStore) Close() error                              { return nil }

func (m *mockStore) SaveFeatures(ctx context.Context, enriched core.EnrichedArticle, modelVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFeatures[enriched.Article.ID]; ok {
		return err
	}
	m.savedFeatures = append(m.savedFeatures, enriched)
	return nil
}

// Stage stubs.

type stubExtractor struct{}

func (s *stubExtractor) Extract(ctx context.Context, article core.Article) features.Result {
	return features.Result{
		FullText:  "Central bank holds rates as inflation cools.",
		Entities:  map[string][]string{"ORGANIZATION": {"Federal Reserve"}},
		Embedding: []float64{0.1, 0.2},
	}
}

type stubClassifier struct{}

func (s *stubClassifier) Classify(text string, entities map[string][]string) *core.EventClassification {
	return &core.EventClassification{EventType: "CENTRAL_BANK_DECISION", Priority: 1}
}

type stubMapper struct{}

func (s *stubMapper) MapAssets(entities map[string][]string) []string { return []string{"US10Y"} }

type stubAssetFilter struct{}

func (s *stubAssetFilter) FilterAssets(ctx context.Context, articleText string, candidates []string) ([]core.AssetImpact, error) {
	return []core.AssetImpact{{Asset: "US10Y", Impact: "negative", Reason: "rate path"}}, nil
}

type stubSurprise struct{}

func (s *stubSurprise) Score(ctx context.Context, eventType string, publishedAt *time.Time) (*float64, error) {
	v := 0.25
	return &v, nil
}

type stubScorer struct {
	edges []core.GraphEdge
}

func (s *stubScorer) ScoreBatch(articles []core.Article, runDate time.Time) []core.GraphEdge {
	return s.edges
}

type stubClusterer struct {
	clusters []clustering.Cluster
}

func (s *stubClusterer) ClusterRun(ctx context.Context, runDate time.Time) ([]clustering.Cluster, error) {
	return s.clusters, nil
}

type stubValidator struct {
	verdicts []core.Validation
	calls    int
}

func (s *stubValidator) Validate(ctx context.Context, articles []core.Article) (*core.Validation, error) {
	v := s.verdicts[s.calls%len(s.verdicts)]
	s.calls++
	return &v, nil
}

type stubEnricher struct {
	err error
}

func (s *stubEnricher) Enrich(ctx context.Context, articles []core.Article) (*enrich.Enrichment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &enrich.Enrichment{Label: "Rates Hold Amid Cooling Prices", Rationale: "same policy arc"}, nil
}

type stubTracker struct {
	parent  *core.SimilarStory
	queried []float64
}

func (s *stubTracker) FindParent(ctx context.Context, label, rationale string, vector []float64) (*core.SimilarStory, error) {
	s.queried = vector
	return s.parent, nil
}

type stubRetriever struct {
	stories []core.SimilarStory
}

func (s *stubRetriever) Retrieve(ctx context.Context, embedding []float64, k int) ([]core.SimilarStory, error) {
	return s.stories, nil
}

type stubSynthesizer struct{}

func (s *stubSynthesizer) Synthesize(ctx context.Context, input synthesize.Input) (string, error) {
	return "## Signal\nRates on hold.\n\n" + synthesize.Disclaimer, nil
}

type stubMemory struct{}

func (s *stubMemory) Generate(ctx context.Context, analysisSummary string) (*core.MemoryComponents, error) {
	return &core.MemoryComponents{
		RollingSummary:   "Rates held.",
		StoryEssence:     "Policy pause amid disinflation.",
		ContextSnippets:  []string{"a", "b", "c"},
		EssenceEmbedding: []float64{0.3, 0.4},
	}, nil
}

type stubSender struct {
	sent *submit.Submission
}

func (s *stubSender) Send(ctx context.Context, submission submit.Submission) error {
	s.sent = &submission
	return nil
}

func testDeps(store *mockStore, sender *stubSender, clusterer *stubClusterer, validator *stubValidator, enricher *stubEnricher, tracker *stubTracker) Deps {
	return Deps{
		Store:       store,
		Extractor:   &stubExtractor{},
		Classifier:  &stubClassifier{},
		Mapper:      &stubMapper{},
		AssetFilter: &stubAssetFilter{},
		Surprise:    &stubSurprise{},
		Scorer:      &stubScorer{edges: []core.GraphEdge{{SourceID: 1, TargetID: 2, TotalScore: 0.8}}},
		Clusterer:   clusterer,
		Validator:   validator,
		Enricher:    enricher,
		Tracker:     tracker,
		Retriever:   &stubRetriever{stories: []core.SimilarStory{{StoryID: 10, Title: "Earlier Rate Story", EssenceText: "prior cycle"}}},
		Synthesizer: &stubSynthesizer{},
		Memory:      &stubMemory{},
		Sender:      sender,
	}
}

func embedded(id int64) core.Article {
	return core.Article{ID: id, Title: "t", Embedding: []float64{0.1, 0.2}}
}

func TestRunHappyPath(t *testing.T) {
	store := newMockStore()
	store.articles.unprocessed = []core.Article{{ID: 1, URL: "http://a"}, {ID: 2, URL: "http://b"}}
	store.articles.processed = []core.Article{embedded(1), embedded(2), embedded(3)}
	store.logs.eventTypes = map[int64]string{1: "CENTRAL_BANK_DECISION"}
	store.logs.assets = []string{"US10Y"}

	parent := core.SimilarStory{StoryID: 10, Title: "Earlier Rate Story", EssenceText: "prior cycle"}
	sender := &stubSender{}
	clusterer := &stubClusterer{clusters: []clustering.Cluster{{ArticleIDs: []int64{1, 2}}}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: true, SignalStrength: "strong", ConfidenceScore: 0.9}}}

	p := New(testDeps(store, sender, clusterer, validator, &stubEnricher{}, &stubTracker{parent: &parent}), DefaultOptions())
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats.ArticlesProcessed != 2 || stats.ArticlesFailed != 0 {
		t.Errorf("article counters: %+v", stats)
	}
	if stats.EdgesPersisted != 1 || len(store.edges.saved) != 1 {
		t.Errorf("edge counters: %+v", stats)
	}
	if stats.StoriesCreated != 1 || stats.Continuations != 1 {
		t.Errorf("story counters: %+v", stats)
	}

	// Enrichment features reached the store
	if len(store.savedFeatures) != 2 {
		t.Fatalf("expected 2 feature saves, got %d", len(store.savedFeatures))
	}
	saved := store.savedFeatures[0]
	if saved.EventType == nil || *saved.EventType != "CENTRAL_BANK_DECISION" {
		t.Errorf("event type missing: %+v", saved)
	}
	if saved.SurpriseScore == nil || len(saved.AffectedAssets) != 1 {
		t.Errorf("surprise or assets missing: %+v", saved)
	}

	// Relationship saved and parent touched
	if len(store.stories.relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(store.stories.relationships))
	}
	rel := store.stories.relationships[0]
	if rel.TargetStoryID != parent.StoryID || rel.RelationshipType != core.RelationshipEvolvedFrom {
		t.Errorf("relationship: %+v", rel)
	}
	if len(store.stories.touched) != 1 || store.stories.touched[0] != parent.StoryID {
		t.Errorf("parent not touched: %v", store.stories.touched)
	}

	// Member assets are aggregated onto the persisted story
	if len(store.stories.stories) != 1 {
		t.Fatalf("expected 1 persisted story, got %d", len(store.stories.stories))
	}
	persisted := store.stories.stories[0]
	if len(persisted.AffectedAssets) != 1 || persisted.AffectedAssets[0] != "US10Y" {
		t.Errorf("affected assets: %v", persisted.AffectedAssets)
	}

	// Downstream payload: one story, article 3 ungrouped
	if sender.sent == nil {
		t.Fatal("no downstream submission")
	}
	if len(sender.sent.AnalyzedStories) != 1 {
		t.Fatalf("stories in payload: %+v", sender.sent)
	}
	story := sender.sent.AnalyzedStories[0]
	if len(story.RelatedNewsIDs) != 2 {
		t.Errorf("related ids: %v", story.RelatedNewsIDs)
	}
	if len(sender.sent.UngroupedNewsIDs) != 1 || sender.sent.UngroupedNewsIDs[0] != "3" {
		t.Errorf("ungrouped: %v", sender.sent.UngroupedNewsIDs)
	}
}

func TestRunArticleFailureIsolation(t *testing.T) {
	store := newMockStore()
	store.articles.unprocessed = []core.Article{{ID: 1}, {ID: 2}}
	store.failFeatures = map[int64]error{2: errors.New("tx rollback")}

	p := New(testDeps(store, &stubSender{}, &stubClusterer{}, &stubValidator{verdicts: []core.Validation{{}}}, &stubEnricher{}, &stubTracker{}), DefaultOptions())
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.ArticlesProcessed != 1 || stats.ArticlesFailed != 1 {
		t.Errorf("counters: %+v", stats)
	}
}

func TestRunClusterRejection(t *testing.T) {
	store := newMockStore()
	store.articles.processed = []core.Article{embedded(1), embedded(2)}

	sender := &stubSender{}
	clusterer := &stubClusterer{clusters: []clustering.Cluster{{ArticleIDs: []int64{1, 2}}}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: false, Reasoning: "coincidence"}}}

	p := New(testDeps(store, sender, clusterer, validator, &stubEnricher{}, &stubTracker{}), DefaultOptions())
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.ClustersRejected != 1 || stats.StoriesCreated != 0 {
		t.Errorf("counters: %+v", stats)
	}
	// Rejected cluster members stay ungrouped
	if len(sender.sent.UngroupedNewsIDs) != 2 {
		t.Errorf("ungrouped: %v", sender.sent.UngroupedNewsIDs)
	}
}

func TestRunClusterFailureIsolation(t *testing.T) {
	store := newMockStore()
	store.articles.processed = []core.Article{embedded(1), embedded(2), embedded(3), embedded(4)}

	clusterer := &stubClusterer{clusters: []clustering.Cluster{
		{ArticleIDs: []int64{1, 2}},
		{ArticleIDs: []int64{3, 4}},
	}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: true, SignalStrength: "medium", ConfidenceScore: 0.7}}}

	// First cluster hits an enrichment failure; swap in a healthy
	// enricher after one error via a counting wrapper.
	enricher := &failOnceEnricher{}

	p := New(testDeps(store, &stubSender{}, clusterer, validator, &stubEnricher{}, &stubTracker{}), DefaultOptions())
	p.deps.Enricher = enricher

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.ClustersFailed != 1 || stats.StoriesCreated != 1 {
		t.Errorf("counters: %+v", stats)
	}
}

type failOnceEnricher struct {
	calls int
}

func (f *failOnceEnricher) Enrich(ctx context.Context, articles []core.Article) (*enrich.Enrichment, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("label call timed out")
	}
	return &enrich.Enrichment{Label: "Second Cluster Story Label", Rationale: "r"}, nil
}

func TestRunMaxClustersTruncation(t *testing.T) {
	store := newMockStore()
	store.articles.processed = []core.Article{embedded(1), embedded(2), embedded(3), embedded(4)}

	clusterer := &stubClusterer{clusters: []clustering.Cluster{
		{ArticleIDs: []int64{1, 2}},
		{ArticleIDs: []int64{3, 4}},
	}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: true, SignalStrength: "weak", ConfidenceScore: 0.5}}}

	opts := DefaultOptions()
	opts.MaxClusters = 1
	p := New(testDeps(store, &stubSender{}, clusterer, validator, &stubEnricher{}, &stubTracker{}), opts)

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.ClustersDetected != 1 || stats.StoriesCreated != 1 {
		t.Errorf("counters: %+v", stats)
	}
}

type recordingSynthesizer struct {
	inputs []synthesize.Input
}

func (r *recordingSynthesizer) Synthesize(ctx context.Context, input synthesize.Input) (string, error) {
	r.inputs = append(r.inputs, input)
	return "## Signal\nReport.\n\n" + synthesize.Disclaimer, nil
}

func TestRunParentSeedsEmptyHistoricalContext(t *testing.T) {
	store := newMockStore()
	store.articles.processed = []core.Article{embedded(1), embedded(2)}

	parent := core.SimilarStory{StoryID: 42, Title: "Prior Energy Squeeze", EssenceText: "supply arc"}
	clusterer := &stubClusterer{clusters: []clustering.Cluster{{ArticleIDs: []int64{1, 2}}}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: true, SignalStrength: "strong", ConfidenceScore: 0.9}}}
	synthesizer := &recordingSynthesizer{}

	p := New(testDeps(store, &stubSender{}, clusterer, validator, &stubEnricher{}, &stubTracker{parent: &parent}), DefaultOptions())
	p.deps.Retriever = &stubRetriever{} // retrieval comes back empty
	p.deps.Synthesizer = synthesizer

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.StoriesCreated != 1 || stats.Continuations != 1 {
		t.Errorf("counters: %+v", stats)
	}

	if len(synthesizer.inputs) != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", len(synthesizer.inputs))
	}
	historical := synthesizer.inputs[0].Historical
	if len(historical) != 1 || historical[0].StoryID != 42 {
		t.Fatalf("parent must seed empty historical context, got %v", historical)
	}
	if historical[0].Title != "Prior Energy Squeeze" {
		t.Errorf("parent context title: got %q", historical[0].Title)
	}
}

func TestRunStoryAssetsDriveCategories(t *testing.T) {
	store := newMockStore()
	store.articles.processed = []core.Article{embedded(1), embedded(2)}
	store.logs.assets = []string{"BRENT", "US10Y"}

	sender := &stubSender{}
	clusterer := &stubClusterer{clusters: []clustering.Cluster{{ArticleIDs: []int64{1, 2}}}}
	validator := &stubValidator{verdicts: []core.Validation{{IsStory: true, SignalStrength: "medium", ConfidenceScore: 0.8}}}

	p := New(testDeps(store, sender, clusterer, validator, &stubEnricher{}, &stubTracker{}), DefaultOptions())
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.StoriesCreated != 1 {
		t.Fatalf("counters: %+v", stats)
	}

	persisted := store.stories.stories[0]
	if len(persisted.AffectedAssets) != 2 {
		t.Fatalf("affected assets: %v", persisted.AffectedAssets)
	}

	if sender.sent == nil || len(sender.sent.AnalyzedStories) != 1 {
		t.Fatalf("payload: %+v", sender.sent)
	}
	categories := sender.sent.AnalyzedStories[0].MainCategories
	found := false
	for _, c := range categories {
		if c == "energy" {
			found = true
		}
	}
	if !found {
		t.Errorf("BRENT exposure must map to the energy category, got %v", categories)
	}
}
