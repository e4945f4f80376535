package model

type SuggestionMode string

const (
	ModeRetrieved  SuggestionMode = "retrieved"
	ModeFallback   SuggestionMode = "fallback"
	ModeInfeasible SuggestionMode = "infeasible"
)

type Protocol struct {
	MetalSource string `json:"metal_source_suggestion,omitempty"`
	Linker      string `json:"linker_suggestion,omitempty"`
	Solvent     string `json:"solvent_suggestion,omitempty"`
	Temperature string `json:"temperature_celsius,omitempty"`
	Time        string `json:"time_hours,omitempty"`
	Procedure   string `json:"procedure_details,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
}

type SuggestionResult struct {
	MetalSite     string         `json:"metal_site"`
	OrganicLinker string         `json:"organic_linker"`
	Mode          SuggestionMode `json:"mode"`
	Text          string         `json:"text"`
	Protocol      *Protocol      `json:"protocol,omitempty"`
	Citations     []string       `json:"citations"`
	Reason        string         `json:"reason,omitempty"`
}
