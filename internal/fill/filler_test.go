package fill

import (
	"strings"
	"testing"

	"github.com/fieldmark/fieldmark/internal/docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templateXML = `<w:document><w:body>` +
	`<w:p><w:r><w:t>MRN: {{mrn</w:t></w:r><w:r><w:t>Number}}</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>{{vinNumber}}</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>Data: {{issueDate}}</w:t></w:r></w:p>` +
	`</w:body></w:document>`

func templateExtraction(t *testing.T) *docx.Extraction {
	t.Helper()
	ext, err := docx.NewExtractor(nil).Extract(templateXML)
	require.NoError(t, err)
	return ext
}

func TestFillReplacesMatchedTags(t *testing.T) {
	ext := templateExtraction(t)
	mappings := BuildTagMap(ext)

	match := MatchResult{Values: map[string]string{
		"mrnNumber": "25PL445010E0628700",
		"issueDate": "09-07-2025",
	}}

	out, stats, err := NewFiller(nil).Fill(templateXML, ext, mappings, match)
	require.NoError(t, err)

	reext, err := docx.NewExtractor(nil).Extract(out)
	require.NoError(t, err)

	assert.Equal(t, "MRN: 25PL445010E0628700", reext.Runs[0].Text, "owning run gets the full replacement with its prefix")
	assert.Equal(t, "Data: 09-07-2025", reext.RunByID("p2-r0").Text)
	assert.NotContains(t, out, "<w:t>Number}}</w:t>", "the continuation run of the split tag is cleared")
	assert.Contains(t, out, "<w:t></w:t>")
	assert.Contains(t, out, "{{vinNumber}}", "unmatched tags stay as literal placeholders")

	assert.Equal(t, 3, stats.TotalTemplateTags)
	assert.Equal(t, 2, stats.MatchedFields)
	assert.Equal(t, 2, stats.ReplacementsMade)
}

func TestFillHighlightsReplacedRuns(t *testing.T) {
	ext := templateExtraction(t)
	mappings := BuildTagMap(ext)

	match := MatchResult{Values: map[string]string{"issueDate": "09-07-2025"}}
	out, _, err := NewFiller(nil).Fill(templateXML, ext, mappings, match)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, `<w:highlight w:val="yellow"/>`), "only the replaced run is highlighted")
}

func TestFillClearsOnlyWhenOwnerMatched(t *testing.T) {
	ext := templateExtraction(t)
	mappings := BuildTagMap(ext)

	// Nothing matched: split-tag continuation runs must keep their text so
	// the template survives intact.
	out, stats, err := NewFiller(nil).Fill(templateXML, ext, mappings, MatchResult{Values: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, templateXML, out)
	assert.Equal(t, 0, stats.ReplacementsMade)
}

func TestFillEmptyValueNotHighlighted(t *testing.T) {
	ext := templateExtraction(t)
	mappings := BuildTagMap(ext)

	match := MatchResult{Values: map[string]string{"issueDate": ""}}
	out, stats, err := NewFiller(nil).Fill(templateXML, ext, mappings, match)
	require.NoError(t, err)
	assert.NotContains(t, out, "w:highlight")
	assert.Contains(t, out, ">Data: <")
	assert.Equal(t, 1, stats.ReplacementsMade)
}

func TestFillMultipleTagsInOneRun(t *testing.T) {
	xml := `<w:document><w:body><w:p><w:r><w:t>{{grossWeight}} / {{netWeight}} kg</w:t></w:r></w:p></w:body></w:document>`
	ext, err := docx.NewExtractor(nil).Extract(xml)
	require.NoError(t, err)
	mappings := BuildTagMap(ext)

	match := MatchResult{Values: map[string]string{
		"grossWeight": "1500",
		"netWeight":   "1410",
	}}
	out, stats, err := NewFiller(nil).Fill(xml, ext, mappings, match)
	require.NoError(t, err)

	assert.Contains(t, out, "<w:t>1500 / 1410 kg</w:t>")
	assert.NotContains(t, out, "{{")
	assert.Equal(t, 2, stats.ReplacementsMade)
	assert.Equal(t, 1, strings.Count(out, `<w:highlight w:val="yellow"/>`), "one shared run, one highlight")
}

func TestFillMultipleTagsInOneRunPartialMatch(t *testing.T) {
	xml := `<w:document><w:body><w:p><w:r><w:t>{{grossWeight}} / {{netWeight}} kg</w:t></w:r></w:p></w:body></w:document>`
	ext, err := docx.NewExtractor(nil).Extract(xml)
	require.NoError(t, err)
	mappings := BuildTagMap(ext)

	match := MatchResult{
		Values:    map[string]string{"grossWeight": "1500"},
		Unmatched: []string{"netWeight"},
	}
	out, stats, err := NewFiller(nil).Fill(xml, ext, mappings, match)
	require.NoError(t, err)

	assert.Contains(t, out, "<w:t>1500 / {{netWeight}} kg</w:t>", "the unmatched tag in the shared run stays literal")
	assert.Equal(t, 1, stats.ReplacementsMade)
}

func TestFillReportsUnmatched(t *testing.T) {
	ext := templateExtraction(t)
	mappings := BuildTagMap(ext)

	match := MatchResult{
		Values:    map[string]string{},
		Unmatched: []string{"mrnNumber", "vinNumber", "issueDate"},
	}
	_, stats, err := NewFiller(nil).Fill(templateXML, ext, mappings, match)
	require.NoError(t, err)
	assert.Equal(t, []string{"mrnNumber", "vinNumber", "issueDate"}, stats.UnmatchedTags)
}
