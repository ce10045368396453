package docx

import (
	"fmt"
	"sort"
	"strings"
)

// highlightMarkup is injected into run properties when a filled value should
// be visually marked in the output document.
const highlightMarkup = `<w:highlight w:val="yellow"/>`

var (
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
)

// EscapeText escapes the five XML entities for insertion into element content.
func EscapeText(s string) string {
	return escaper.Replace(s)
}

// UnescapeText reverses EscapeText.
func UnescapeText(s string) string {
	return unescaper.Replace(s)
}

// edit is a single splice into the source XML. Inserts have start == end.
type edit struct {
	start, end int
	text       string
}

// applyEdits splices the edits into xml in descending offset order so earlier
// edits never invalidate the offsets of edits still to be applied.
func applyEdits(xml string, edits []edit) string {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := xml
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out
}

// ApplyNodeReplacements rewrites the content of the targeted text nodes and
// nothing else. Every byte outside the targeted content spans is preserved,
// including the enclosing tags and their attributes.
func ApplyNodeReplacements(xml string, nodes []TextNode, replacements map[int]string) (string, error) {
	if len(replacements) == 0 {
		return xml, nil
	}
	edits := make([]edit, 0, len(replacements))
	for idx, text := range replacements {
		if idx < 0 || idx >= len(nodes) {
			return "", fmt.Errorf("replacement targets unknown text node %d (have %d)", idx, len(nodes))
		}
		n := nodes[idx]
		edits = append(edits, edit{start: n.Start, end: n.End, text: EscapeText(text)})
	}
	return applyEdits(xml, edits), nil
}

// ApplyRunChanges rewrites whole runs. The run's new text lands in the node
// whose decoded content matches the run's recorded text; when the run spans
// several nodes the first node receives the full text and the rest are
// emptied, so no stale fragment survives. Duplicate changes for the same run
// id are ignored after the first. Highlighted runs get highlight markup
// injected into their properties (an empty <w:rPr> is created when the run
// had none).
func ApplyRunChanges(xml string, ext *Extraction, changes []RunChange) (string, error) {
	var edits []edit
	seen := map[string]bool{}

	for _, ch := range changes {
		if seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true

		run := ext.RunByID(ch.ID)
		if run == nil {
			return "", fmt.Errorf("run change targets unknown run %q", ch.ID)
		}
		if len(run.TextNodeIndices) == 0 {
			continue
		}

		for i, nodeIdx := range run.TextNodeIndices {
			n := ext.Nodes[nodeIdx]
			if i == 0 {
				edits = append(edits, edit{start: n.Start, end: n.End, text: EscapeText(ch.NewText)})
			} else {
				edits = append(edits, edit{start: n.Start, end: n.End})
			}
		}

		if ch.Highlight && ch.NewText != "" && !run.hasHighlight {
			if run.propsEndAt >= 0 {
				edits = append(edits, edit{start: run.propsEndAt, end: run.propsEndAt, text: highlightMarkup})
			} else {
				edits = append(edits, edit{
					start: run.propsInsertAt,
					end:   run.propsInsertAt,
					text:  "<w:rPr>" + highlightMarkup + "</w:rPr>",
				})
			}
		}
	}

	return applyEdits(xml, edits), nil
}
