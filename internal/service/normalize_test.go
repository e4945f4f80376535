package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTerm(t *testing.T) {
	require.Equal(t, "copper", NormalizeTerm("  Copper "))
	require.Equal(t, "terephthalic acid", NormalizeTerm("Terephthalic\t\n  ACID"))
	require.Equal(t, "", NormalizeTerm(" \t "))
}

func TestRenderRecordExtendsQuery(t *testing.T) {
	q := RenderQuery("copper", "btc")
	require.Equal(t, "metal_site: copper\norganic_linker: btc", q)
	require.Equal(t, q+"\nsummary: heated in dmf", RenderRecord("copper", "btc", " heated \n in dmf"))
}

func TestPlainTextMarkdown(t *testing.T) {
	src := "# HKUST-1\n\nCopper **nitrate** and [H3BTC](http://x.example) in DMF.\n\n<div>hidden</div>\n\n```\n85 C, 24 h\n```\n"
	out := PlainText("paper.md", src, 0)
	require.Contains(t, out, "HKUST-1")
	require.Contains(t, out, "Copper nitrate and H3BTC in DMF.")
	require.Contains(t, out, "85 C, 24 h")
	require.NotContains(t, out, "**")
	require.NotContains(t, out, "hidden")
	require.NotContains(t, out, "http://x.example")
	require.NotContains(t, out, "\n\n\n")
}

func TestPlainTextLeavesTextFiles(t *testing.T) {
	require.Equal(t, "# not a heading", PlainText("notes.txt", "# not a heading\n", 0))
}
