package handlers

import (
	"fmt"
	"time"

	"storyline/internal/assets"
	"storyline/internal/clustering"
	"storyline/internal/config"
	"storyline/internal/enrich"
	"storyline/internal/features"
	"storyline/internal/fetch"
	"storyline/internal/llm"
	"storyline/internal/memory"
	"storyline/internal/persistence"
	"storyline/internal/pipeline"
	"storyline/internal/prompts"
	"storyline/internal/rules"
	"storyline/internal/scoring"
	"storyline/internal/stories"
	"storyline/internal/submit"
	"storyline/internal/surprise"
	"storyline/internal/synthesize"
	"storyline/internal/validate"
	"storyline/internal/vectorstore"
)

// runtime bundles everything a command needs to run the pipeline and
// shut down cleanly.
type runtime struct {
	Store    *persistence.PostgresStore
	Client   *llm.Client
	Pipeline *pipeline.Pipeline
}

func (r *runtime) Close() {
	if r.Client != nil {
		r.Client.Close()
	}
	if r.Store != nil {
		r.Store.Close()
	}
}

func openStore() (*persistence.PostgresStore, error) {
	cfg := config.Get()

	opts := persistence.DefaultPoolOptions()
	if cfg.Database.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		opts.MaxIdleConns = cfg.Database.MaxIdleConns
	}
	if lifetime := parseDuration(cfg.Database.ConnMaxLifetime, 0); lifetime > 0 {
		opts.ConnMaxLifetime = lifetime
	}

	return persistence.NewPostgresStore(cfg.Database.ConnectionString(), opts)
}

// buildRuntime wires the full pipeline from configuration.
func buildRuntime() (*runtime, error) {
	cfg := config.Get()

	store, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	client, err := llm.NewClient(cfg.AI.Gemini.Model)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("LLM client init failed: %w", err)
	}

	promptStore, err := prompts.Load(cfg.Rules.PromptsDir)
	if err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("prompt templates failed to load: %w", err)
	}

	eventRules, err := rules.LoadEventRules(cfg.Rules.EventRulesPath)
	if err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("event rules failed to load: %w", err)
	}
	assetRules, err := rules.LoadAssetRules(cfg.Rules.AssetRulesPath)
	if err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("asset rules failed to load: %w", err)
	}

	fetcher := fetch.NewFetcher(
		parseDuration(cfg.Fetch.Timeout, 10*time.Second),
		cfg.Fetch.UserAgent,
		cfg.Fetch.MinChars,
	)
	recognizer := features.NewGeminiRecognizer(client, promptStore)
	extractor := features.NewExtractor(fetcher, recognizer, client)

	scorer := scoring.NewScorer().
		WithWeights(scoring.Weights{
			Semantic: cfg.Scoring.SemanticWeight,
			Entity:   cfg.Scoring.EntityWeight,
			Temporal: cfg.Scoring.TemporalWeight,
		}).
		WithThreshold(cfg.Scoring.InteractionThreshold).
		WithKNeighbors(cfg.Scoring.KNeighbors).
		WithDecayDays(cfg.Scoring.TemporalDecayDays)

	retriever := vectorstore.NewPgVectorRetriever(store.DB())
	tracker := stories.NewTracker(retriever, client, promptStore).
		WithWindow(cfg.Stories.HistoricalWindowDays, cfg.Stories.HistoricalK)

	deps := pipeline.Deps{
		Store:       store,
		Extractor:   extractor,
		Classifier:  rules.NewClassifier(eventRules),
		Mapper:      rules.NewMapper(assetRules),
		AssetFilter: assets.NewFilter(client, promptStore),
		Surprise:    surprise.NewCalculator(store.Events()),
		Scorer:      scorer,
		Clusterer:   clustering.NewLouvainClusterer(store.Edges()),
		Validator:   validate.NewValidator(client, promptStore),
		Enricher:    enrich.NewEnricher(client, promptStore),
		Tracker:     tracker,
		Retriever:   retriever,
		Synthesizer: synthesize.NewSynthesizer(client, promptStore),
		Memory:      memory.NewProcessor(client, client, promptStore),
		Sender:      submit.NewSender(cfg.Downstream.SubmitURL, parseDuration(cfg.Downstream.Timeout, 30*time.Second)),
	}

	opts := pipeline.DefaultOptions()
	opts.MaxWorkers = cfg.Pipeline.MaxWorkers
	opts.NewsBatchSize = cfg.Pipeline.NewsBatchSize
	opts.MaxClusters = cfg.Pipeline.MaxClusters
	opts.HistoricalK = cfg.Stories.HistoricalK
	opts.ModelVersion = client.GetEmbeddingModel()

	return &runtime{
		Store:    store,
		Client:   client,
		Pipeline: pipeline.New(deps, opts),
	}, nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
