package service

import (
	"strings"
)

// NormalizeTerm lower-cases s and collapses runs of whitespace, so "Copper " and
// "copper" index and query identically.
func NormalizeTerm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// RenderQuery is the canonical text embedded for a query.
func RenderQuery(metalSite, linker string) string {
	return "metal_site: " + metalSite + "\norganic_linker: " + linker
}

// RenderRecord is the canonical text embedded for a record. It extends the
// query rendering so both land in the same region of the embedding space.
func RenderRecord(metalSite, linker, summary string) string {
	return RenderQuery(metalSite, linker) + "\nsummary: " + strings.Join(strings.Fields(summary), " ")
}
