package service

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mofadvisor/internal/model"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
	"github.com/xxxsen/mofadvisor/internal/source"
	"github.com/xxxsen/mofadvisor/internal/vectorindex"
)

type countingReader struct {
	vectorindex.Reader
	calls atomic.Int32
}

func (c *countingReader) Query(ctx context.Context, vector []float32, k int) ([]model.ScoredEntry, error) {
	c.calls.Add(1)
	return c.Reader.Query(ctx, vector, k)
}

type staticGenerator struct {
	answer string
}

func (g staticGenerator) ExtractRecords(ctx context.Context, text string) (string, error) {
	return g.answer, nil
}

type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return f.vec, nil
}

func defaultSuggestConfig() SuggestConfig {
	return SuggestConfig{TopK: 5, Threshold: 0.55}
}

func TestSuggestCopperBTCScenario(t *testing.T) {
	ctx := context.Background()
	index := vectorindex.NewMemory()
	embedder := newPairEmbedder()
	extractor := NewExtractor(staticGenerator{answer: "```json\n" + `{"records": [{
		"mof_name": "HKUST-1",
		"metal_site": "Copper",
		"metal_source": "Cu(NO3)2·3H2O",
		"organic_linker": "BTC",
		"synthesis_method": "solvothermal",
		"solvent": ["DMF", "ethanol", "water"],
		"temperature_celsius": 85,
		"time_hours": "24",
		"summary": "Copper nitrate and H3BTC heated in DMF/ethanol/water at 85 °C for 24 h."
	}]}` + "\n```"}, 0)
	ingest := NewIngestService(index, extractor, embedder, source.NewLocal(t.TempDir()), IngestConfig{Workers: 2})
	report, err := ingest.Ingest(ctx, []model.Document{{ID: "hkust1.md", Content: "# HKUST-1\n\nCopper BTC synthesis."}}, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Records)

	advisor := newFakeAdvisor()
	advisor.infeasible["unobtainium"] = true
	advisor.answer = `{"suggested_protocol": {"metal_source_suggestion": "Cu(NO3)2", "procedure_details": "heat in DMF"}, "citations": ["hkust1.md"]}`
	reader := &countingReader{Reader: index}
	svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), embedder, reader, advisor, defaultSuggestConfig())

	res, err := svc.Suggest(ctx, "  Copper ", "BTC")
	require.NoError(t, err)
	require.Equal(t, model.ModeRetrieved, res.Mode)
	require.Equal(t, "copper", res.MetalSite)
	require.Equal(t, "btc", res.OrganicLinker)
	require.Equal(t, []string{"hkust1.md"}, res.Citations)
	require.NotNil(t, res.Protocol)
	require.Equal(t, "Cu(NO3)2", res.Protocol.MetalSource)
	require.Contains(t, res.Text, "Procedure: heat in DMF")
	require.Contains(t, advisor.lastContext, "[source: hkust1.md]")
	require.Contains(t, advisor.lastContext, "MOF: HKUST-1")

	embedsBefore := embedder.calls.Load()
	queriesBefore := reader.calls.Load()
	res, err = svc.Suggest(ctx, "Unobtainium", "BTC")
	require.NoError(t, err)
	require.Equal(t, model.ModeInfeasible, res.Mode)
	require.Empty(t, res.Citations)
	require.Equal(t, "not a known element", res.Reason)
	require.Equal(t, embedsBefore, embedder.calls.Load())
	require.Equal(t, queriesBefore, reader.calls.Load())
	require.EqualValues(t, 1, advisor.groundedCalls.Load())
	require.EqualValues(t, 0, advisor.fallbackCalls.Load())
}

func TestSuggestFallbackOnEmptyIndex(t *testing.T) {
	advisor := newFakeAdvisor()
	svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), newPairEmbedder(), vectorindex.NewMemory(), advisor, defaultSuggestConfig())

	res, err := svc.Suggest(context.Background(), "zinc", "bdc")
	require.NoError(t, err)
	require.Equal(t, model.ModeFallback, res.Mode)
	require.NotNil(t, res.Citations)
	require.Empty(t, res.Citations)
	require.Equal(t, "Procedure: general knowledge", res.Text)
	require.EqualValues(t, 1, advisor.fallbackCalls.Load())
}

func TestSuggestThresholdBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	query := []float32{1, 0.5, 0.25}
	stored := []float32{0.9, 0.7, -0.1}
	score, ok := vectorindex.Cosine(query, stored)
	require.True(t, ok)

	index := vectorindex.NewMemory()
	require.NoError(t, index.Upsert(ctx, model.IndexedDocument{DocumentID: "a.md", Fingerprint: "f"}, []model.IndexEntry{{
		DocumentID: "a.md", Fingerprint: "f", Record: rec("zinc", "bdc", "s"), Embedding: stored,
	}}))

	tests := []struct {
		name      string
		threshold float64
		want      model.SuggestionMode
	}{
		{"equal score survives", score, model.ModeRetrieved},
		{"just above score is discarded", math.Nextafter(score, 2), model.ModeFallback},
		{"below score survives", score - 0.1, model.ModeRetrieved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := newFakeAdvisor()
			svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), fixedEmbedder{vec: query}, index, advisor,
				SuggestConfig{TopK: 5, Threshold: tt.threshold})
			for i := 0; i < 3; i++ {
				res, err := svc.Suggest(ctx, "zinc", "bdc")
				require.NoError(t, err)
				require.Equal(t, tt.want, res.Mode)
			}
		})
	}
}

func TestSuggestCitationsAreSurvivingSources(t *testing.T) {
	ctx := context.Background()
	index := vectorindex.NewMemory()
	vec := []float32{1, 0}
	far := []float32{0, 1}
	for _, d := range []struct {
		id  string
		vec []float32
	}{{"close.md", vec}, {"other.md", vec}, {"far.md", far}} {
		require.NoError(t, index.Upsert(ctx, model.IndexedDocument{DocumentID: d.id, Fingerprint: d.id}, []model.IndexEntry{{
			DocumentID: d.id, Fingerprint: d.id, Record: rec("zinc", "bdc", d.id), Embedding: d.vec,
		}}))
	}

	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{
			name:   "unknown and below threshold citations dropped",
			answer: `{"suggested_protocol": {"procedure_details": "p"}, "citations": ["ghost.md", "far.md", "other.md"]}`,
			want:   []string{"other.md"},
		},
		{
			name:   "no usable citations cites every survivor",
			answer: `plain text answer`,
			want:   []string{"close.md", "other.md"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := newFakeAdvisor()
			advisor.answer = tt.answer
			svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), fixedEmbedder{vec: vec}, index, advisor, defaultSuggestConfig())
			res, err := svc.Suggest(ctx, "zinc", "bdc")
			require.NoError(t, err)
			require.Equal(t, model.ModeRetrieved, res.Mode)
			require.Equal(t, tt.want, res.Citations)
			require.NotContains(t, advisor.lastContext, "far.md")
		})
	}
}

func TestSuggestTiesPreferRecentIngestion(t *testing.T) {
	ctx := context.Background()
	index := vectorindex.NewMemory()
	vec := []float32{1, 1}
	for i, id := range []string{"old.md", "new.md"} {
		require.NoError(t, index.Upsert(ctx, model.IndexedDocument{DocumentID: id, Fingerprint: id}, []model.IndexEntry{{
			DocumentID: id, Fingerprint: id, Record: rec("zinc", "bdc", id), Embedding: vec, IngestedAt: int64(1000 + i),
		}}))
	}
	advisor := newFakeAdvisor()
	advisor.answer = "no json"
	svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), fixedEmbedder{vec: vec}, index, advisor, SuggestConfig{TopK: 1, Threshold: 0.5})
	res, err := svc.Suggest(ctx, "zinc", "bdc")
	require.NoError(t, err)
	require.Equal(t, []string{"new.md"}, res.Citations)
	require.Equal(t, "no json", res.Text)
}

func TestSuggestRejectsBlankFields(t *testing.T) {
	advisor := newFakeAdvisor()
	embedder := newPairEmbedder()
	svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), embedder, vectorindex.NewMemory(), advisor, defaultSuggestConfig())

	for _, tc := range []struct{ metal, linker, field string }{
		{"", "btc", "metal_site"},
		{"copper", "  \t ", "organic_linker"},
	} {
		_, err := svc.Suggest(context.Background(), tc.metal, tc.linker)
		require.ErrorIs(t, err, appErr.ErrInvalid)
		verr, ok := appErr.AsValidation(err)
		require.True(t, ok)
		require.Equal(t, tc.field, verr.Field)
	}
	require.EqualValues(t, 0, advisor.judgeCalls.Load())
	require.EqualValues(t, 0, embedder.calls.Load())
}

func TestSuggestGateFailureCountsAsFeasible(t *testing.T) {
	advisor := newFakeAdvisor()
	advisor.judgeErr = appErr.ErrProviderUnavailable
	svc := NewSuggestService(NewFeasibilityGate(advisor, 10, time.Minute), newPairEmbedder(), vectorindex.NewMemory(), advisor, defaultSuggestConfig())

	res, err := svc.Suggest(context.Background(), "unobtainium", "btc")
	require.NoError(t, err)
	require.Equal(t, model.ModeFallback, res.Mode)
}

func TestSuggestCanceledContext(t *testing.T) {
	advisor := newFakeAdvisor()
	svc := NewSuggestService(NewFeasibilityGate(advisor, 0, 0), newPairEmbedder(), vectorindex.NewMemory(), advisor, defaultSuggestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Suggest(ctx, "copper", "btc")
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, res)
	require.EqualValues(t, 0, advisor.fallbackCalls.Load())
}
