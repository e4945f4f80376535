package model

// Document is one source file. A changed file is a new version with a new fingerprint.
type Document struct {
	ID          string `json:"id"`
	Content     string `json:"-"`
	Fingerprint string `json:"fingerprint"`
	Mtime       int64  `json:"mtime"`
	Size        int64  `json:"size"`
}
