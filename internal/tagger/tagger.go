// Package tagger is the LLM adapter that classifies document fragments as
// constants or variables. It sends an ordered array of texts (with optional
// label and formatting context) and expects a parallel array back where
// variables are replaced with {{camelCaseTag}} placeholders. Model output is
// never trusted: malformed JSON is repaired, length mismatches are padded
// against the input, and anything that is neither the original text nor a
// well-formed tag is reverted.
package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldmark/fieldmark/internal/docx"
	"go.uber.org/zap"
)

// ChatClient is the one-shot chat completion the tagger depends on.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Input is one fragment to classify, with optional context.
type Input struct {
	Text       string
	Label      string
	Formatting docx.Formatting
}

// Variable is a detected variable: the tagger returned a placeholder that
// differs from the original text.
type Variable struct {
	OriginalText string
	Tag          string
	VariableName string
	SourceIndex  int
}

var (
	tagNamePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
	wholeTag       = regexp.MustCompile(`^\{\{[a-zA-Z0-9]+\}\}$`)
)

// Tagger drives the classification round trip.
type Tagger struct {
	client   ChatClient
	taxonomy Taxonomy
	logger   *zap.Logger
}

// New creates a Tagger with the given taxonomy.
func New(client ChatClient, taxonomy Taxonomy, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{client: client, taxonomy: taxonomy, logger: logger}
}

// TagTexts classifies the inputs and returns a same-length array where each
// element is either the original text or a {{tag}} placeholder. The error is
// informational: on any failure the originals are returned so a batch can
// degrade to "no variables found" instead of aborting the document.
func (t *Tagger) TagTexts(ctx context.Context, inputs []Input) ([]string, error) {
	originals := make([]string, len(inputs))
	for i, in := range inputs {
		originals[i] = in.Text
	}
	if len(inputs) == 0 {
		return originals, nil
	}

	payload, err := json.Marshal(annotate(inputs))
	if err != nil {
		return originals, fmt.Errorf("failed to encode tagger payload: %w", err)
	}

	raw, err := t.client.Chat(ctx, t.taxonomy.SystemPrompt(), string(payload))
	if err != nil {
		return originals, fmt.Errorf("tagger chat call failed: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return originals, fmt.Errorf("tagger received empty model response")
	}

	parsed := ParseStringArray(raw)
	if parsed.Status == ParseInvalid {
		t.logger.Warn("tagger response unrecoverable, degrading to constants",
			zap.Int("inputs", len(inputs)))
		return originals, nil
	}
	if parsed.Status != ParseOK {
		t.logger.Warn("tagger response needed repair",
			zap.Int("status", int(parsed.Status)))
	}

	return t.normalize(originals, parsed.Items), nil
}

// normalize enforces the length and well-formedness invariants against the
// original inputs.
func (t *Tagger) normalize(originals, results []string) []string {
	if len(results) != len(originals) {
		t.logger.Warn("tagger length mismatch",
			zap.Int("want", len(originals)),
			zap.Int("got", len(results)))
		if len(results) > len(originals) {
			results = results[:len(originals)]
		} else {
			for i := len(results); i < len(originals); i++ {
				results = append(results, originals[i])
			}
		}
	}

	out := make([]string, len(originals))
	for i := range originals {
		res := strings.TrimSpace(results[i])
		if res == originals[i] || res == "" {
			out[i] = originals[i]
			continue
		}
		if wholeTag.MatchString(res) {
			out[i] = res
			continue
		}
		// Changed but not a clean tag: the model rewrote a constant or
		// emitted a partial placeholder. Keep the original.
		out[i] = originals[i]
	}
	return out
}

// DetectVariables pairs inputs with outputs and extracts the well-formed
// variables.
func DetectVariables(originals, results []string) []Variable {
	var vars []Variable
	for i := range originals {
		if i >= len(results) || results[i] == originals[i] {
			continue
		}
		res := results[i]
		if !strings.Contains(res, "{{") || !strings.Contains(res, "}}") {
			continue
		}
		m := tagNamePattern.FindStringSubmatch(res)
		if m == nil {
			continue
		}
		vars = append(vars, Variable{
			OriginalText: originals[i],
			Tag:          res,
			VariableName: m[1],
			SourceIndex:  i,
		})
	}
	return vars
}

// annotate renders inputs with their inline context suffix: a preceding
// label wins over formatting, formatting is emitted as [bold,size:12pt].
func annotate(inputs []Input) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = in.Text
		if in.Label != "" {
			out[i] = fmt.Sprintf("%s [po: %q]", in.Text, in.Label)
			continue
		}
		if suffix := formatSuffix(in.Formatting); suffix != "" {
			out[i] = fmt.Sprintf("%s [%s]", in.Text, suffix)
		}
	}
	return out
}

func formatSuffix(f docx.Formatting) string {
	if f.IsZero() {
		return ""
	}
	var parts []string
	if f.Bold {
		parts = append(parts, "bold")
	}
	if f.Italic {
		parts = append(parts, "italic")
	}
	if f.Underline {
		parts = append(parts, "underline")
	}
	if f.FontSize > 0 {
		parts = append(parts, fmt.Sprintf("size:%gpt", f.FontSize))
	}
	return strings.Join(parts, ",")
}
