// Package fill resolves {{tag}} placeholders in an already-tagged template to
// the runs that hold them, matches OCR-extracted fields to those tags, and
// produces the run changes for the final document. Blind string replace over
// the XML is unsafe: a tag may sit inside formatting runs whose structure
// must survive, or be split across runs by the originating editor.
package fill

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldmark/fieldmark/internal/docx"
)

// clearPrefix marks synthetic mappings for runs that belong to a split tag
// but are not the first run of the span. On fill they are emptied; their
// content is already consumed by the first run's replacement.
const clearPrefix = "__CLEAR_"

var completeTagPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// TagMapping ties one template tag to the run that must be rewritten.
type TagMapping struct {
	Tag          string
	RunID        string
	OriginalText string // the literal "{{tag}}" placeholder
	FullRunText  string // full text of the owning run (or span concatenation)
}

// IsClear reports whether this is a synthetic clear entry.
func (m TagMapping) IsClear() bool {
	return strings.HasPrefix(m.Tag, clearPrefix)
}

// ClearOwner returns the tag a clear entry belongs to.
func (m TagMapping) ClearOwner() string {
	rest := strings.TrimPrefix(m.Tag, clearPrefix)
	if i := strings.LastIndex(rest, "_"); i > 0 {
		return rest[:i]
	}
	return rest
}

// BuildTagMap re-derives tag locations from a tagged template's runs. Runs
// holding a complete {{tag}} map directly. A run containing "{{" without
// "}}" opens a span: following runs are accumulated until the concatenation
// completes the tag; the first run owns the mapping and every later run in
// the span gets a clear entry.
func BuildTagMap(ext *docx.Extraction) []TagMapping {
	var mappings []TagMapping
	consumed := map[int]bool{}

	for i := 0; i < len(ext.Runs); i++ {
		if consumed[i] {
			continue
		}
		run := ext.Runs[i]

		if matches := completeTagPattern.FindAllStringSubmatch(run.Text, -1); len(matches) > 0 {
			for _, m := range matches {
				mappings = append(mappings, TagMapping{
					Tag:          m[1],
					RunID:        run.ID,
					OriginalText: m[0],
					FullRunText:  run.Text,
				})
			}
			continue
		}

		if strings.Contains(run.Text, "{{") && !strings.Contains(run.Text, "}}") {
			span := []int{i}
			concat := run.Text
			for j := i + 1; j < len(ext.Runs); j++ {
				span = append(span, j)
				concat += ext.Runs[j].Text
				if strings.Contains(ext.Runs[j].Text, "}}") {
					break
				}
			}
			m := completeTagPattern.FindStringSubmatch(concat)
			if m == nil {
				continue // opening fragment never completed; leave runs alone
			}
			tag := m[1]
			mappings = append(mappings, TagMapping{
				Tag:          tag,
				RunID:        run.ID,
				OriginalText: m[0],
				FullRunText:  concat,
			})
			for _, j := range span[1:] {
				consumed[j] = true
				mappings = append(mappings, TagMapping{
					Tag:         fmt.Sprintf("%s%s_%d", clearPrefix, tag, j),
					RunID:       ext.Runs[j].ID,
					FullRunText: ext.Runs[j].Text,
				})
			}
		}
	}
	return mappings
}

// TemplateTags lists the distinct real (non-clear) tags of a mapping set in
// first-seen order.
func TemplateTags(mappings []TagMapping) []string {
	seen := map[string]bool{}
	var tags []string
	for _, m := range mappings {
		if m.IsClear() || seen[m.Tag] {
			continue
		}
		seen[m.Tag] = true
		tags = append(tags, m.Tag)
	}
	return tags
}
