// Package generator defines the AI backend that turns instructions into HTML documents.
package generator

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyOutput is returned when the backend answers without a usable document.
var ErrEmptyOutput = errors.New("backend returned no html")

// Mode selects between producing a new document and patching an existing one.
type Mode string

const (
	ModeInitial  Mode = "initial"
	ModeRevision Mode = "revision"
)

// Request is everything a backend needs to produce a complete document.
type Request struct {
	Mode        Mode
	Instruction string
	CurrentCode string // only set for ModeRevision
}

// Generator produces a full HTML document for a request. The answer may still be wrapped in
// markdown fences or chatter; ExtractHTML removes them.
// Implementations must honour ctx cancellation and must not retry on their own.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// fencePattern captures the body of a markdown code fence, up to the last closing fence so
// fences inside the document (a <pre> sample, say) stay part of it.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\r?\\n(.*)```")

var doctypePattern = regexp.MustCompile("(?i)<!doctype")

// ExtractHTML strips markdown code fences and surrounding chatter from a model answer.
// An answer that already starts with markup is returned as is. It returns ErrEmptyOutput
// when nothing is left.
func ExtractHTML(raw string) (string, error) {
	out := strings.TrimSpace(raw)
	if !strings.HasPrefix(out, "<") {
		if m := fencePattern.FindStringSubmatch(out); m != nil {
			out = strings.TrimSpace(m[1])
		}
	}
	if !strings.HasPrefix(out, "<") {
		if loc := doctypePattern.FindStringIndex(out); loc != nil {
			out = out[loc[0]:]
		}
	}
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}
