package generator

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// TemplateGenerator renders a fixed page around the instruction. It needs no network access and
// is meant for local development and demos.
type TemplateGenerator struct{}

var _ Generator = TemplateGenerator{}

func (TemplateGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return "", ErrEmptyOutput
	}

	notes := ""
	if req.Mode == ModeRevision {
		notes = fmt.Sprintf("\n    <p class=\"revision\">Revised: %s</p>", html.EscapeString(req.Instruction))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
</head>
<body>
  <main>
    <h1>%s</h1>%s
  </main>
</body>
</html>`, html.EscapeString(firstLine(req.Instruction)), html.EscapeString(req.Instruction), notes), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
