package model

type SynthesisConditions struct {
	Method             string   `json:"method,omitempty"`
	Solvents           []string `json:"solvents,omitempty"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	DurationHours      *float64 `json:"duration_hours,omitempty"`
	Yield              string   `json:"yield,omitempty"`
	Modulator          string   `json:"modulator,omitempty"`
}

// SynthesisRecord is one validated extraction result; it always traces to SourceDocumentID.
type SynthesisRecord struct {
	MOFName          string              `json:"mof_name,omitempty"`
	MetalSite        string              `json:"metal_site"`
	MetalSource      string              `json:"metal_source,omitempty"`
	OrganicLinker    string              `json:"organic_linker"`
	Conditions       SynthesisConditions `json:"conditions"`
	Summary          string              `json:"summary"`
	Notes            string              `json:"notes,omitempty"`
	SourceDocumentID string              `json:"source_document_id"`
	Confidence       float64             `json:"confidence"`
}
