package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/fieldmark/fieldmark/internal/docx"
	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/tagger"
	"github.com/fieldmark/fieldmark/internal/test"
	"github.com/fieldmark/fieldmark/pkg/providers/openrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFunc func(ctx context.Context, system, user string) (string, error)

func (f chatFunc) Chat(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// customsBody is a minimal customs-style document: a label and a VIN split
// across two runs, a labeled date, and boilerplate that must stay untouched.
const customsBody = `<w:p><w:r><w:t>VIN:</w:t></w:r><w:r><w:t>WMZ83BR0</w:t></w:r><w:r><w:t>6P3R14626</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>Data:</w:t></w:r><w:r><w:t>09-07-2025</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>MARLOG CAR HANDLING BV</w:t></w:r></w:p>`

var annotationSuffix = regexp.MustCompile(` \[[^\[\]]*\]$`)

// classifyResponder mimics the model: VINs and dates become tags, everything
// else echoes back unchanged.
func classifyResponder(_, user string) string {
	var annotated []string
	if err := json.Unmarshal([]byte(user), &annotated); err != nil {
		return "[]"
	}
	out := make([]string, len(annotated))
	for i, a := range annotated {
		text := annotationSuffix.ReplaceAllString(a, "")
		switch text {
		case "WMZ83BR06P3R14626":
			out[i] = "{{vinNumber}}"
		case "09-07-2025":
			out[i] = "{{issueDate}}"
		default:
			out[i] = text
		}
	}
	resp, _ := json.Marshal(out)
	return string(resp)
}

func classifyTagger() *tagger.Tagger {
	client := chatFunc(func(_ context.Context, system, user string) (string, error) {
		return classifyResponder(system, user), nil
	})
	return tagger.New(client, tagger.DefaultTaxonomy(), nil)
}

func TestCreateTemplateEndToEnd(t *testing.T) {
	p := New(classifyTagger(), nil, Options{}, nil)
	source := test.BuildDocx(customsBody)

	res, err := p.CreateTemplate(context.Background(), source)
	require.NoError(t, err)
	assert.Zero(t, res.FailedTasks)
	assert.Equal(t, 5, res.Groups)

	xml, err := docx.ReadDocumentXML(res.Docx)
	require.NoError(t, err)
	assert.Contains(t, xml, "<w:t>{{vinNumber}}</w:t>")
	assert.Contains(t, xml, "<w:t></w:t>", "the second half of the split VIN is emptied")
	assert.Contains(t, xml, "<w:t>{{issueDate}}</w:t>")
	assert.Contains(t, xml, "MARLOG CAR HANDLING BV", "constants survive verbatim")
	assert.Contains(t, xml, "<w:t>VIN:</w:t>", "labels survive verbatim")
	assert.NotContains(t, xml, "WMZ83BR0")

	require.Len(t, res.Variables, 2)
	byName := map[string]DetectedVariable{}
	for _, v := range res.Variables {
		byName[v.FieldName] = v
	}
	assert.Equal(t, "WMZ83BR06P3R14626", byName["vinNumber"].FieldValue)
	assert.Equal(t, "{{vinNumber}}", byName["vinNumber"].FieldTag)
	assert.Equal(t, "09-07-2025", byName["issueDate"].FieldValue)

	assert.Equal(t, map[string]string{
		"vinNumber": "WMZ83BR06P3R14626",
		"issueDate": "09-07-2025",
	}, res.TagMetadata)
}

func TestCreateTemplateViaOpenRouterClient(t *testing.T) {
	srv := test.NewMockChatServer()
	defer srv.Close()
	srv.Responder = classifyResponder

	client := openrouter.New(openrouter.Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	tg := tagger.New(client, tagger.DefaultTaxonomy(), nil)
	p := New(tg, nil, Options{}, nil)

	res, err := p.CreateTemplate(context.Background(), test.BuildDocx(customsBody))
	require.NoError(t, err)
	assert.Len(t, res.Variables, 2)
	assert.Equal(t, 1, srv.Requests(), "five groups fit one batch")
}

func TestCreateTemplateThenFill(t *testing.T) {
	p := New(classifyTagger(), nil, Options{}, nil)
	source := test.BuildDocx(customsBody)

	created, err := p.CreateTemplate(context.Background(), source)
	require.NoError(t, err)

	fields := []fill.OCRField{
		{Tag: "vinNumber", Label: "VIN", Value: "JTDKB20U887654321", Confidence: 0.98},
		{Tag: "issue_date", Label: "Data", Value: "01-01-2026", Confidence: 0.91},
	}
	filled, err := p.FillTemplate(context.Background(), created.Docx, created.TagMetadata, fields)
	require.NoError(t, err)

	xml, err := docx.ReadDocumentXML(filled.Docx)
	require.NoError(t, err)
	assert.Contains(t, xml, "JTDKB20U887654321")
	assert.Contains(t, xml, "01-01-2026")
	assert.NotContains(t, xml, "{{vinNumber}}")
	assert.Contains(t, xml, `<w:highlight w:val="yellow"/>`)
	assert.Contains(t, xml, "MARLOG CAR HANDLING BV")

	assert.Equal(t, 2, filled.Stats.TotalTemplateTags)
	assert.Equal(t, 2, filled.Stats.ReplacementsMade)
	assert.Empty(t, filled.Stats.UnmatchedTags)
}

func TestFillTemplateUnmatchedTagSurvives(t *testing.T) {
	p := New(classifyTagger(), nil, Options{}, nil)

	created, err := p.CreateTemplate(context.Background(), test.BuildDocx(customsBody))
	require.NoError(t, err)

	filled, err := p.FillTemplate(context.Background(), created.Docx, created.TagMetadata, []fill.OCRField{
		{Tag: "vinNumber", Value: "JTDKB20U887654321"},
	})
	require.NoError(t, err)

	xml, err := docx.ReadDocumentXML(filled.Docx)
	require.NoError(t, err)
	assert.Contains(t, xml, "{{issueDate}}", "unmatched tags stay literal")
	assert.Equal(t, []string{"issueDate"}, filled.Stats.UnmatchedTags)
}

func TestTagGroupsBatchFailureIsolation(t *testing.T) {
	client := chatFunc(func(_ context.Context, _, user string) (string, error) {
		if strings.Contains(user, "09-07-2025") {
			return "", errors.New("rate limited")
		}
		return classifyResponder("", user), nil
	})
	tg := tagger.New(client, tagger.DefaultTaxonomy(), nil)
	p := New(tg, nil, Options{BatchSize: 1, Concurrency: 2}, nil)

	res, err := p.CreateTemplate(context.Background(), test.BuildDocx(customsBody))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedTasks)
	assert.Equal(t, 5, res.Batches)

	xml, err := docx.ReadDocumentXML(res.Docx)
	require.NoError(t, err)
	assert.Contains(t, xml, "{{vinNumber}}", "healthy batches still produce tags")
	assert.Contains(t, xml, "09-07-2025", "the failed batch degrades to original text")
	assert.NotContains(t, xml, "{{issueDate}}")
}

func TestCreateTemplateRejectsNonDocx(t *testing.T) {
	p := New(classifyTagger(), nil, Options{}, nil)
	_, err := p.CreateTemplate(context.Background(), []byte("not a zip archive"))
	assert.Error(t, err)
}

func TestResultJSONOmitsPayload(t *testing.T) {
	res := &TemplateResult{Docx: []byte("binary"), Groups: 3, TagMetadata: map[string]string{}}
	raw, err := ResultJSON(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "binary")
	assert.Contains(t, string(raw), `"groups":3`)
}
