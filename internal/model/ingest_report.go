package model

const (
	StageLoad    = "load"
	StageExtract = "extract"
	StageEmbed   = "embed"
)

type IngestFailure struct {
	DocumentID string `json:"document_id"`
	Stage      string `json:"stage"`
	Reason     string `json:"reason"`
}

type IngestReport struct {
	RunID      string          `json:"run_id"`
	Force      bool            `json:"force"`
	Processed  int             `json:"processed"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Records    int             `json:"records"`
	Failures   []IngestFailure `json:"failures"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at"`
}

type IngestStatus struct {
	DocumentsInSource int      `json:"documents_in_source"`
	DocumentsIndexed  int      `json:"documents_indexed"`
	RecordsIndexed    int      `json:"records_indexed"`
	Pending           []string `json:"pending"`
	Indexed           []string `json:"indexed"`
}
