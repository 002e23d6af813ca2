package decode

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// StripFence returns the body of the first fenced code block when s starts with a
// markdown fence. Models often wrap JSON in ```json ... ``` even when told not to.
func StripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") && !strings.HasPrefix(s, "~~~") {
		return "", false
	}

	source := []byte(s)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var body strings.Builder
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			body.Write(seg.Value(source))
		}
		found = true
		return ast.WalkStop, nil
	})
	return body.String(), found
}
