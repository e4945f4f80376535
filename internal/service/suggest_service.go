package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/model"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
	"github.com/xxxsen/mofadvisor/internal/vectorindex"
)

type advisor interface {
	SuggestGrounded(ctx context.Context, metalSite, linker, contextBlock string) (string, error)
	SuggestFallback(ctx context.Context, metalSite, linker string) (string, error)
}

type vectorEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type SuggestConfig struct {
	TopK      int
	Threshold float64
}

// SuggestService answers (metal site, linker) queries. It only reads the index.
type SuggestService struct {
	gate     *FeasibilityGate
	embedder vectorEmbedder
	index    vectorindex.Reader
	advisor  advisor
	cfg      SuggestConfig
}

func NewSuggestService(gate *FeasibilityGate, embedder vectorEmbedder, index vectorindex.Reader, advisor advisor, cfg SuggestConfig) *SuggestService {
	return &SuggestService{
		gate:     gate,
		embedder: embedder,
		index:    index,
		advisor:  advisor,
		cfg:      cfg,
	}
}

func (s *SuggestService) Suggest(ctx context.Context, metalSite, linker string) (*model.SuggestionResult, error) {
	metalSite = NormalizeTerm(metalSite)
	linker = NormalizeTerm(linker)
	if metalSite == "" {
		return nil, appErr.NewValidationError("metal_site", "is required")
	}
	if linker == "" {
		return nil, appErr.NewValidationError("organic_linker", "is required")
	}
	logger := logutil.GetLogger(ctx).With(zap.String("metal_site", metalSite), zap.String("organic_linker", linker))

	verdict := s.gate.Check(ctx, metalSite, linker)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !verdict.Feasible {
		logger.Info("query judged infeasible", zap.String("reason", verdict.Reason))
		return &model.SuggestionResult{
			MetalSite:     metalSite,
			OrganicLinker: linker,
			Mode:          model.ModeInfeasible,
			Text:          infeasibleText(metalSite, linker, verdict.Reason),
			Citations:     []string{},
			Reason:        verdict.Reason,
		}, nil
	}

	vec, err := s.embedder.Embed(ctx, RenderQuery(metalSite, linker), ai.TaskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.index.Query(ctx, vec, s.cfg.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", appErr.ErrIndexUnavailable, err)
	}
	survivors := filterByThreshold(hits, s.cfg.Threshold)
	logger.Debug("retrieval done", zap.Int("candidates", len(hits)), zap.Int("survivors", len(survivors)))

	result := &model.SuggestionResult{
		MetalSite:     metalSite,
		OrganicLinker: linker,
		Citations:     []string{},
	}
	var answer string
	if len(survivors) > 0 {
		result.Mode = model.ModeRetrieved
		answer, err = s.advisor.SuggestGrounded(ctx, metalSite, linker, buildContext(survivors))
	} else {
		result.Mode = model.ModeFallback
		answer, err = s.advisor.SuggestFallback(ctx, metalSite, linker)
	}
	if err != nil {
		return nil, fmt.Errorf("generate suggestion: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	protocol, cited := parseAnswer(answer)
	result.Protocol = protocol
	result.Text = answer
	if protocol != nil {
		if text := renderProtocol(protocol); text != "" {
			result.Text = text
		}
	}
	if result.Mode == model.ModeRetrieved {
		result.Citations = selectCitations(survivors, cited)
	}
	logger.Info("suggestion generated", zap.String("mode", string(result.Mode)), zap.Strings("citations", result.Citations))
	return result, nil
}

// filterByThreshold keeps entries with score >= threshold, preserving rank order.
func filterByThreshold(hits []model.ScoredEntry, threshold float64) []model.ScoredEntry {
	out := make([]model.ScoredEntry, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

func buildContext(survivors []model.ScoredEntry) string {
	parts := make([]string, 0, len(survivors))
	for _, s := range survivors {
		r := s.Entry.Record
		var b strings.Builder
		fmt.Fprintf(&b, "[source: %s] (similarity %.3f)\n", s.Entry.DocumentID, s.Score)
		if r.MOFName != "" {
			fmt.Fprintf(&b, "MOF: %s\n", r.MOFName)
		}
		fmt.Fprintf(&b, "Metal site: %s\nOrganic linker: %s\n", r.MetalSite, r.OrganicLinker)
		if r.MetalSource != "" {
			fmt.Fprintf(&b, "Metal source: %s\n", r.MetalSource)
		}
		if cond := renderConditions(r.Conditions); cond != "" {
			fmt.Fprintf(&b, "Conditions: %s\n", cond)
		}
		fmt.Fprintf(&b, "Summary: %s", r.Summary)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func renderConditions(c model.SynthesisConditions) string {
	var parts []string
	if c.Method != "" {
		parts = append(parts, c.Method)
	}
	if len(c.Solvents) > 0 {
		parts = append(parts, "solvent "+strings.Join(c.Solvents, "/"))
	}
	if c.TemperatureCelsius != nil {
		parts = append(parts, strconv.FormatFloat(*c.TemperatureCelsius, 'f', -1, 64)+" °C")
	}
	if c.DurationHours != nil {
		parts = append(parts, strconv.FormatFloat(*c.DurationHours, 'f', -1, 64)+" h")
	}
	if c.Modulator != "" {
		parts = append(parts, "modulator "+c.Modulator)
	}
	if c.Yield != "" {
		parts = append(parts, "yield "+c.Yield)
	}
	return strings.Join(parts, ", ")
}

// selectCitations keeps the model's citations that name a surviving source. If
// the model cited nothing usable every surviving source is cited.
func selectCitations(survivors []model.ScoredEntry, cited []string) []string {
	var allowed []string
	seen := make(map[string]bool)
	for _, s := range survivors {
		if !seen[s.Entry.DocumentID] {
			seen[s.Entry.DocumentID] = true
			allowed = append(allowed, s.Entry.DocumentID)
		}
	}
	want := make(map[string]bool, len(cited))
	for _, c := range cited {
		want[strings.TrimSpace(c)] = true
	}
	out := make([]string, 0, len(allowed))
	for _, id := range allowed {
		if want[id] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return allowed
	}
	return out
}

func parseAnswer(answer string) (*model.Protocol, []string) {
	var out struct {
		SuggestedProtocol map[string]interface{} `json:"suggested_protocol"`
		Citations         []interface{}          `json:"citations"`
	}
	if err := json.Unmarshal([]byte(ai.CleanJSON(answer)), &out); err != nil {
		return nil, nil
	}
	var cited []string
	for _, c := range out.Citations {
		if s, ok := c.(string); ok {
			cited = append(cited, s)
		}
	}
	if len(out.SuggestedProtocol) == 0 {
		return nil, cited
	}
	field := func(name string) string {
		v, ok := out.SuggestedProtocol[name]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprint(v)
	}
	return &model.Protocol{
		MetalSource: field("metal_source_suggestion"),
		Linker:      field("linker_suggestion"),
		Solvent:     field("solvent_suggestion"),
		Temperature: field("temperature_celsius"),
		Time:        field("time_hours"),
		Procedure:   field("procedure_details"),
		Reasoning:   field("reasoning"),
	}, cited
}

func renderProtocol(p *model.Protocol) string {
	var b strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Metal source", p.MetalSource)
	line("Linker", p.Linker)
	line("Solvent", p.Solvent)
	line("Temperature (°C)", p.Temperature)
	line("Time (h)", p.Time)
	line("Procedure", p.Procedure)
	line("Reasoning", p.Reasoning)
	return strings.TrimSpace(b.String())
}

func infeasibleText(metalSite, linker, reason string) string {
	text := fmt.Sprintf("A MOF from metal site %q and organic linker %q was judged chemically implausible.", metalSite, linker)
	if reason != "" {
		text += " " + reason
	}
	return text
}
