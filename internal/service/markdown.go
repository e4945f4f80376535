package service

import (
	"bytes"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdownParser = goldmark.New().Parser()
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

// PlainText flattens a markdown document to text for the extractor and cuts it
// at maxChars runes. Non markdown ids are passed through untouched.
func PlainText(id, content string, maxChars int) string {
	out := content
	switch strings.ToLower(path.Ext(id)) {
	case ".md", ".markdown":
		out = markdownToText([]byte(content))
	}
	out = strings.TrimSpace(blankLines.ReplaceAllString(out, "\n\n"))
	return truncateRunes(out, maxChars)
}

func markdownToText(src []byte) string {
	doc := markdownParser.Parse(text.NewReader(src))
	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			buf.WriteString("\n\n")
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
