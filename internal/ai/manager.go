package ai

import (
	"context"
	"fmt"
	"strings"
)

// Manager owns the prompts of every generation role and the shared embedder.
type Manager struct {
	extractor IGenerator
	judge     IGenerator
	advisor   IGenerator
	embedder  IEmbedder
}

func NewManager(extractor, judge, advisor IGenerator, embedder IEmbedder) *Manager {
	return &Manager{
		extractor: extractor,
		judge:     judge,
		advisor:   advisor,
		embedder:  embedder,
	}
}

var ExtractionSchema = &Schema{
	Name: "synthesis_records",
	Type: TypeObject,
	Properties: map[string]*Schema{
		"records": {
			Type:        TypeArray,
			Description: "one entry per distinct MOF synthesis procedure described in the paper",
			Items: &Schema{
				Type: TypeObject,
				Properties: map[string]*Schema{
					"mof_name":            {Type: TypeString, Nullable: true},
					"metal_site":          {Type: TypeString, Description: "metal element of the node, e.g. Copper"},
					"metal_source":        {Type: TypeString, Nullable: true, Description: "formula of the metal precursor"},
					"organic_linker":      {Type: TypeString, Description: "linker name or abbreviation, e.g. BTC"},
					"synthesis_method":    {Type: TypeString, Nullable: true, Description: "e.g. Solvothermal, Hydrothermal"},
					"solvent":             {Type: TypeArray, Nullable: true, Items: &Schema{Type: TypeString}},
					"temperature_celsius": {Type: TypeNumber, Nullable: true},
					"time_hours":          {Type: TypeNumber, Nullable: true},
					"modulator":           {Type: TypeString, Nullable: true},
					"yield":               {Type: TypeString, Nullable: true},
					"summary":             {Type: TypeString, Description: "two or three sentences describing the procedure"},
					"notes":               {Type: TypeString, Nullable: true},
				},
				Required: []string{"metal_site", "organic_linker", "summary"},
			},
		},
	},
	Required: []string{"records"},
}

// ExtractRecords asks the extractor for the synthesis records of one paper and
// returns the raw JSON answer.
func (m *Manager) ExtractRecords(ctx context.Context, text string) (string, error) {
	if m.extractor == nil {
		return "", fmt.Errorf("extractor not configured")
	}
	prompt := fmt.Sprintf(`You are an expert chemist specializing in Metal-Organic Frameworks (MOFs).
Read the scientific paper below and extract the synthesis parameters of every MOF synthesized in this work.
- Return a single JSON object with a "records" array. Do not add any text before or after the JSON.
- Each distinct synthesis procedure is one record.
- Use null for anything the paper does not state. Never guess values.
- If the paper describes no MOF synthesis, return {"records": []}.

PAPER:
%s`, text)
	return m.generateText(ctx, m.extractor, prompt, ExtractionSchema)
}

// JudgeFeasibility asks whether a metal site and linker can plausibly form a MOF.
func (m *Manager) JudgeFeasibility(ctx context.Context, metalSite, linker string) (string, error) {
	if m.judge == nil {
		return "", fmt.Errorf("judge not configured")
	}
	prompt := fmt.Sprintf(`You are a world-class chemist specializing in MOF synthesis.
Judge whether a metal-organic framework built from the metal site and organic linker below is chemically plausible.
- Unknown or fictional elements and compounds are not feasible.
- Return a single JSON object: {"feasible": true|false, "reason": "one sentence"}. No extra text.

METAL SITE: %s
ORGANIC LINKER: %s`, metalSite, linker)
	return m.generateText(ctx, m.judge, prompt, nil)
}

const protocolFormat = `Return a single JSON object with this structure and no text before or after it:
{
  "suggested_protocol": {
    "metal_source_suggestion": "e.g. Copper(II) nitrate trihydrate, Cu(NO3)2·3H2O",
    "linker_suggestion": "e.g. 1,3,5-Benzenetricarboxylic acid (H3BTC)",
    "solvent_suggestion": "e.g. DMF/Ethanol/Water 1:1:1",
    "temperature_celsius": "e.g. 110",
    "time_hours": "e.g. 24",
    "procedure_details": "step by step procedure",
    "reasoning": "why this protocol fits"
  },
  "citations": ["source ids used"]
}`

// SuggestGrounded asks the advisor for a protocol grounded only in contextBlock.
func (m *Manager) SuggestGrounded(ctx context.Context, metalSite, linker, contextBlock string) (string, error) {
	if m.advisor == nil {
		return "", fmt.Errorf("advisor not configured")
	}
	prompt := fmt.Sprintf(`You are a world-class chemist specializing in MOF synthesis.
Devise a synthesis protocol for a MOF with metal site %s and organic linker %s.
- Answer strictly from the literature excerpts below. Do not use outside knowledge.
- Cite the [source] ids of the excerpts you relied on in "citations".
%s

LITERATURE:
---
%s
---`, metalSite, linker, protocolFormat, contextBlock)
	return m.generateText(ctx, m.advisor, prompt, nil)
}

// SuggestFallback asks the advisor for a protocol from general chemical knowledge.
func (m *Manager) SuggestFallback(ctx context.Context, metalSite, linker string) (string, error) {
	if m.advisor == nil {
		return "", fmt.Errorf("advisor not configured")
	}
	prompt := fmt.Sprintf(`You are a world-class chemist specializing in MOF synthesis.
No literature in the knowledge base matches this request.
Devise a plausible synthesis protocol for a MOF with metal site %s and organic linker %s from general chemical knowledge.
- State in "reasoning" that the protocol is not grounded in indexed literature.
- Leave "citations" empty.
%s`, metalSite, linker, protocolFormat)
	return m.generateText(ctx, m.advisor, prompt, nil)
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return m.embedder.Embed(ctx, text, taskType)
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

func (m *Manager) generateText(ctx context.Context, gen IGenerator, prompt string, schema *Schema) (string, error) {
	resp, err := gen.Generate(ctx, prompt, schema)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// CleanJSON strips markdown fences and surrounding prose from a model answer,
// keeping the outermost {...} block.
func CleanJSON(output string) string {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	return clean
}
