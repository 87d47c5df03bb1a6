package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/config"
	"github.com/Divas-Gupta30/market-agent/internal/graph"
	"github.com/Divas-Gupta30/market-agent/internal/llm"
	"github.com/Divas-Gupta30/market-agent/internal/logger"
	"github.com/Divas-Gupta30/market-agent/internal/metrics"
	"github.com/Divas-Gupta30/market-agent/internal/processing"
	"github.com/Divas-Gupta30/market-agent/internal/storage"
	"github.com/Divas-Gupta30/market-agent/internal/tracer"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	pool  *pgxpool.Pool
	store *storage.VectorStore

	stopTracer func(context.Context) error
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logger.New(logger.Options{
		FilePath: cfg.App.LogFilePath,
		Level:    cfg.App.LogLevel,
		IsProd:   cfg.IsProduction(),
	})

	pool, err := storage.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		log:        log,
		pool:       pool,
		store:      storage.NewVectorStore(pool, cfg.Database.Table),
		stopTracer: tracer.Init(cfg.Telemetry, log),
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.stopTracer(ctx); err != nil {
		a.log.Warn("tracer shutdown failed", zap.Error(err))
	}
	a.pool.Close()
	_ = a.log.Sync()
}

func (a *app) engine(ctx context.Context) (*graph.Engine, error) {
	tiers, err := llm.NewTiers(ctx, a.cfg.AI)
	if err != nil {
		return nil, err
	}
	embedder, err := processing.NewEmbedder(ctx, a.cfg.AI, a.cfg.Database.EmbeddingDim, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}

	wf := a.cfg.Workflow
	retriever := graph.NewRetriever(embedder, storage.DocumentSearcher{Store: a.store},
		graph.SourceFiltersFrom(wf.SourceFilters), a.log)
	if wf.GradeDocuments {
		retriever = retriever.WithDocumentGrader(graph.NewLLMDocumentGrader(tiers.Simple))
	}

	generator, err := graph.NewPersonaDispatcher(tiers.Generative, graph.DefaultPersonas())
	if err != nil {
		return nil, err
	}

	defaultTopic, ok := graph.ParseTopic(wf.DefaultTopic)
	if !ok {
		return nil, fmt.Errorf("unknown default topic %q", wf.DefaultTopic)
	}

	return graph.NewEngine(graph.Components{
		Gate:       graph.NewTopicGate(tiers.Simple),
		Classifier: graph.NewTopicClassifier(tiers.Simple),
		Retriever:  retriever,
		Generator:  generator,
		Grader:     graph.NewAnswerGrader(tiers.Simple),
		Rewriter:   graph.NewQueryRewriter(tiers.Simple),
	}, graph.Options{
		MaxRetries:          wf.MaxRetries,
		TopK:                wf.TopK,
		MinSimilarityScore:  wf.MinSimilarityScore,
		ReclassifyOnRewrite: wf.ReclassifyOnRewrite,
		DefaultTopic:        defaultTopic,
		Timeout:             wf.Timeout,
	}, a.log, metrics.WorkflowObserver{})
}

// fingerprint names the settings that change answers, for cache keys.
func (a *app) fingerprint() string {
	wf := a.cfg.Workflow
	return fmt.Sprintf("%s/%s/%s/%s|k=%d|min=%.3f|retries=%d|grade_docs=%t|reclassify=%t",
		a.cfg.AI.LLMProvider, a.cfg.AI.GenerativeModel, a.cfg.AI.EmbeddingModel, a.cfg.Database.Table,
		wf.TopK, wf.MinSimilarityScore, wf.MaxRetries, wf.GradeDocuments, wf.ReclassifyOnRewrite)
}
