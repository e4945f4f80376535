package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/model"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
	"github.com/xxxsen/mofadvisor/internal/source"
	"github.com/xxxsen/mofadvisor/internal/vectorindex"
)

type recordExtractor interface {
	Extract(ctx context.Context, doc *model.Document) ([]model.SynthesisRecord, error)
}

type IngestConfig struct {
	Workers int
}

// forcedRunWeight takes the whole run gate: a forced run waits for in-flight
// runs and holds off new ones until it completes.
const forcedRunWeight = 1 << 30

// IngestService is the only writer of the index. Forced runs exclude all other
// runs; otherwise work on one document id is serialized across concurrent runs.
type IngestService struct {
	index     vectorindex.Index
	extractor recordExtractor
	embedder  vectorEmbedder
	source    source.Source
	locks     *keyLock
	runs      *semaphore.Weighted
	workers   int
	now       func() time.Time
}

type UploadFile struct {
	Name    string
	Content []byte
}

func NewIngestService(index vectorindex.Index, extractor recordExtractor, embedder vectorEmbedder, src source.Source, cfg IngestConfig) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &IngestService{
		index:     index,
		extractor: extractor,
		embedder:  embedder,
		source:    src,
		locks:     newKeyLock(),
		runs:      semaphore.NewWeighted(forcedRunWeight),
		workers:   workers,
		now:       time.Now,
	}
}

type ingestItem struct {
	id   string
	load func(ctx context.Context) (*model.Document, error)
}

// Ingest indexes documents given with their content. When an id appears more
// than once the last occurrence wins and earlier ones count as skipped.
func (s *IngestService) Ingest(ctx context.Context, docs []model.Document, force bool) (*model.IngestReport, error) {
	if len(docs) == 0 {
		return nil, appErr.NewValidationError("documents", "at least one document is required")
	}
	last := make(map[string]int, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, appErr.NewValidationError("documents", fmt.Sprintf("document %d has no id", i))
		}
		last[doc.ID] = i
	}
	items := make([]ingestItem, 0, len(last))
	for i := range docs {
		if last[docs[i].ID] != i {
			continue
		}
		doc := docs[i]
		doc.Fingerprint = source.Fingerprint([]byte(doc.Content))
		doc.Size = int64(len(doc.Content))
		items = append(items, ingestItem{
			id: doc.ID,
			load: func(ctx context.Context) (*model.Document, error) {
				return &doc, nil
			},
		})
	}
	return s.run(ctx, items, len(docs)-len(items), force)
}

// IngestSource indexes every document of the configured source.
func (s *IngestService) IngestSource(ctx context.Context, force bool) (*model.IngestReport, error) {
	refs, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover documents: %w", err)
	}
	items := make([]ingestItem, 0, len(refs))
	for _, ref := range refs {
		id := ref.ID
		items = append(items, ingestItem{
			id: id,
			load: func(ctx context.Context) (*model.Document, error) {
				return s.source.Load(ctx, id)
			},
		})
	}
	return s.run(ctx, items, 0, force)
}

// Upload saves files into the source and ingests them. All files are validated
// before anything is written.
func (s *IngestService) Upload(ctx context.Context, files []UploadFile, force bool) (*model.IngestReport, error) {
	if len(files) == 0 {
		return nil, appErr.NewValidationError("files", "at least one file is required")
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if err := source.ValidateName(f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, appErr.NewValidationError("files", fmt.Sprintf("duplicate file %s", f.Name))
		}
		seen[f.Name] = true
		if len(f.Content) == 0 {
			return nil, appErr.NewValidationError("file", fmt.Sprintf("%s is empty", f.Name))
		}
		if !utf8.Valid(f.Content) {
			return nil, appErr.NewValidationError("file", fmt.Sprintf("%s is not valid UTF-8 text", f.Name))
		}
	}
	docs := make([]model.Document, 0, len(files))
	for _, f := range files {
		doc, err := s.source.Save(ctx, f.Name, f.Content)
		if err != nil {
			return nil, fmt.Errorf("save upload %s: %w", f.Name, err)
		}
		docs = append(docs, *doc)
	}
	return s.Ingest(ctx, docs, force)
}

type runState struct {
	mu     sync.Mutex
	report *model.IngestReport
}

func (st *runState) skip() {
	st.mu.Lock()
	st.report.Skipped++
	st.mu.Unlock()
}

func (st *runState) done(records int) {
	st.mu.Lock()
	st.report.Processed++
	st.report.Records += records
	st.mu.Unlock()
}

func (st *runState) fail(id, stage string, err error) {
	st.mu.Lock()
	st.report.Failed++
	st.report.Failures = append(st.report.Failures, model.IngestFailure{DocumentID: id, Stage: stage, Reason: err.Error()})
	st.mu.Unlock()
}

func (s *IngestService) run(ctx context.Context, items []ingestItem, skipped int, force bool) (*model.IngestReport, error) {
	report := &model.IngestReport{
		RunID:     uuid.NewString(),
		Force:     force,
		Skipped:   skipped,
		Failures:  []model.IngestFailure{},
		StartedAt: s.now().UnixMilli(),
	}
	logger := logutil.GetLogger(ctx).With(zap.String("run_id", report.RunID), zap.Bool("force", force))
	weight := int64(1)
	if force {
		weight = forcedRunWeight
	}
	if err := s.runs.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	defer s.runs.Release(weight)
	logger.Info("ingestion started", zap.Int("documents", len(items)))
	if force {
		if err := s.index.Clear(ctx); err != nil {
			logger.Error("clear index failed", zap.Error(err))
			return nil, indexError(err)
		}
	}

	st := &runState{report: report}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return s.processOne(gctx, item, force, st)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("ingestion aborted", zap.Error(err))
		return nil, err
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].DocumentID < report.Failures[j].DocumentID
	})
	report.FinishedAt = s.now().UnixMilli()
	logger.Info("ingestion finished",
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("records", report.Records),
	)
	return report, nil
}

// processOne returns an error only when the whole run must stop: cancellation
// or an unusable index. Per document failures are recorded in st.
func (s *IngestService) processOne(ctx context.Context, item ingestItem, force bool, st *runState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, item.id)
	if err != nil {
		return err
	}
	defer unlock()
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", item.id))

	doc, err := item.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("load document failed", zap.Error(err))
		st.fail(item.id, model.StageLoad, err)
		return nil
	}
	if !force {
		existing, ok, err := s.index.Get(ctx, doc.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return indexError(err)
		}
		if ok && existing.Fingerprint == doc.Fingerprint {
			logger.Debug("document unchanged, skipped")
			st.skip()
			return nil
		}
	}

	records, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("extract records failed", zap.Error(err))
		st.fail(doc.ID, model.StageExtract, err)
		return nil
	}
	ingestedAt := s.now().UnixMilli()
	entries := make([]model.IndexEntry, 0, len(records))
	for i, rec := range records {
		vec, err := s.embedder.Embed(ctx, RenderRecord(rec.MetalSite, rec.OrganicLinker, rec.Summary), ai.TaskTypeDocument)
		if err == nil && len(vec) == 0 {
			err = ai.ErrEmptyResponse
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("embed record failed", zap.Int("ordinal", i), zap.Error(err))
			st.fail(doc.ID, model.StageEmbed, err)
			return nil
		}
		entries = append(entries, model.IndexEntry{
			DocumentID:  doc.ID,
			Ordinal:     i,
			Fingerprint: doc.Fingerprint,
			Record:      rec,
			Embedding:   vec,
			IngestedAt:  ingestedAt,
		})
	}
	if err := s.index.Upsert(ctx, model.IndexedDocument{
		DocumentID:  doc.ID,
		Fingerprint: doc.Fingerprint,
		Records:     len(entries),
		IngestedAt:  ingestedAt,
	}, entries); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("upsert document failed", zap.Error(err))
		return indexError(err)
	}
	logger.Info("document indexed", zap.Int("records", len(entries)))
	st.done(len(entries))
	return nil
}

// Status compares the source with the index. A document is pending when it is
// missing from the index or its content changed since it was indexed.
func (s *IngestService) Status(ctx context.Context) (*model.IngestStatus, error) {
	refs, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover documents: %w", err)
	}
	indexed, err := s.index.Documents(ctx)
	if err != nil {
		return nil, indexError(err)
	}
	byID := make(map[string]model.IndexedDocument, len(indexed))
	status := &model.IngestStatus{
		DocumentsInSource: len(refs),
		DocumentsIndexed:  len(indexed),
		Pending:           []string{},
		Indexed:           make([]string, 0, len(indexed)),
	}
	for _, d := range indexed {
		byID[d.DocumentID] = d
		status.Indexed = append(status.Indexed, d.DocumentID)
		status.RecordsIndexed += d.Records
	}
	for _, ref := range refs {
		d, ok := byID[ref.ID]
		if !ok {
			status.Pending = append(status.Pending, ref.ID)
			continue
		}
		doc, err := s.source.Load(ctx, ref.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			status.Pending = append(status.Pending, ref.ID)
			continue
		}
		if doc.Fingerprint != d.Fingerprint {
			status.Pending = append(status.Pending, ref.ID)
		}
	}
	return status, nil
}

func (s *IngestService) Documents(ctx context.Context) ([]model.IndexedDocument, error) {
	docs, err := s.index.Documents(ctx)
	if err != nil {
		return nil, indexError(err)
	}
	return docs, nil
}

func (s *IngestService) Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error) {
	entries, err := s.index.Entries(ctx, documentID)
	if err != nil {
		return nil, indexError(err)
	}
	return entries, nil
}

func indexError(err error) error {
	return fmt.Errorf("%w: %w", appErr.ErrIndexUnavailable, err)
}
