package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/config"
	"github.com/xxxsen/mofadvisor/internal/db"
	"github.com/xxxsen/mofadvisor/internal/embedcache"
	"github.com/xxxsen/mofadvisor/internal/repo"
	"github.com/xxxsen/mofadvisor/internal/service"
	"github.com/xxxsen/mofadvisor/internal/source"
	"github.com/xxxsen/mofadvisor/internal/vectorindex"
)

type app struct {
	cfg       *config.Config
	db        *sql.DB
	cacheRepo *repo.EmbeddingCacheRepo
	index     vectorindex.Index
	source    source.Source
	ai        *ai.Manager
	ingest    *service.IngestService
	suggest   *service.SuggestService
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Cache.DBEmbeddingCache {
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		a.db = conn
		if err := db.ApplyMigrations(conn); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
	}

	manager, err := buildAIManager(cfg, a.cacheRepo)
	if err != nil {
		return nil, err
	}
	a.ai = manager

	index, err := vectorindex.New(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("init vector index: %w", err)
	}
	a.index = index

	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("init document source: %w", err)
	}
	a.source = src

	extractor := service.NewExtractor(manager, cfg.Ingest.MaxInputChars)
	a.ingest = service.NewIngestService(index, extractor, manager, src, service.IngestConfig{Workers: cfg.Ingest.Workers})
	gate := service.NewFeasibilityGate(manager, cfg.Cache.FeasibilityLRUSize, time.Duration(cfg.Cache.FeasibilityTTLMinutes)*time.Minute)
	a.suggest = service.NewSuggestService(gate, manager, index, manager, service.SuggestConfig{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.Threshold,
	})

	logutil.GetLogger(ctx).Info("components ready",
		zap.String("index", cfg.Index.Type),
		zap.String("source", src.Type()),
		zap.String("embedding_model", manager.EmbeddingModelName()),
		zap.Bool("db_embedding_cache", a.cacheRepo != nil),
	)
	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logutil.GetLogger(context.Background()).Warn("close index failed", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func policyConfig(p config.ProviderPolicy) ai.PolicyConfig {
	return ai.PolicyConfig{
		Timeout:           time.Duration(p.TimeoutSeconds) * time.Second,
		MaxRetries:        p.MaxRetries,
		Backoff:           time.Duration(p.RetryBackoffMs) * time.Millisecond,
		RequestsPerSecond: p.RequestsPerSecond,
	}
}

func buildAIManager(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (*ai.Manager, error) {
	policy := policyConfig(cfg.ProviderPolicy)
	generators := make(map[string]ai.IGenerator, len(cfg.AI.Generators))
	for _, entry := range cfg.AI.Generators {
		p, err := ai.NewProvider(entry.Provider, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", entry.Name, err)
		}
		generators[entry.Name] = ai.WrapPolicyGenerator(entry.Name, ai.NewGenerator(p, entry.Model), policy)
	}
	embedders := make(map[string]ai.IEmbedder, len(cfg.AI.Embedders))
	for _, entry := range cfg.AI.Embedders {
		p, err := ai.NewEmbedProvider(entry.Provider, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", entry.Name, err)
		}
		embedders[entry.Name] = ai.WrapPolicyEmbedder(entry.Name, ai.NewEmbedder(p, entry.Model), policy)
	}

	extractor, err := groupGenerators("extractor", cfg.AI.Extractor, generators)
	if err != nil {
		return nil, err
	}
	judge, err := groupGenerators("judge", cfg.AI.Judge, generators)
	if err != nil {
		return nil, err
	}
	advisor, err := groupGenerators("advisor", cfg.AI.Advisor, generators)
	if err != nil {
		return nil, err
	}
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embedder))
	for _, name := range cfg.AI.Embedder {
		e, ok := embedders[name]
		if !ok {
			return nil, fmt.Errorf("embedder role references unknown entry %q", name)
		}
		entries = append(entries, ai.EmbedderEntry{Name: name, Embedder: e})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, errors.New("embedder role is empty")
	}
	if cacheRepo != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Cache.EmbeddingLRUSize, time.Duration(cfg.Cache.EmbeddingLRUTTLMinutes)*time.Minute)
	return ai.NewManager(extractor, judge, advisor, embedder), nil
}

func groupGenerators(role string, names []string, all map[string]ai.IGenerator) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(names))
	for _, name := range names {
		g, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("%s role references unknown entry %q", role, name)
		}
		entries = append(entries, ai.GeneratorEntry{Name: name, Generator: g})
	}
	g := ai.NewGroupGenerator(entries)
	if g == nil {
		return nil, fmt.Errorf("%s role is empty", role)
	}
	return g, nil
}
