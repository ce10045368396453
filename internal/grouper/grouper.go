// Package grouper merges adjacent runs within a paragraph into label-aware
// groups. Editors split logical values (a VIN, a date, an MRN) across runs at
// arbitrary points; detecting variables on raw runs therefore sees meaningless
// fragments. Grouping reassembles likely values and attaches the nearest
// preceding label as context for the tagger.
package grouper

import (
	"strings"
	"unicode"

	"github.com/fieldmark/fieldmark/internal/docx"
	"go.uber.org/zap"
)

// Group is a merged sequence of adjacent runs plus the label context that
// precedes it. Concatenating the member run texts in order reproduces
// MergedText exactly, and OriginalIndices maps members back onto the source
// TextNodes for lossless reconstruction.
type Group struct {
	Index           int
	MergedText      string
	PrecedingLabel  string
	RunIDs          []string
	OriginalIndices []int
	Formatting      docx.Formatting
	IsLabel         bool
}

// Grouper builds groups per paragraph.
type Grouper struct {
	logger *zap.Logger
}

// New creates a Grouper.
func New(logger *zap.Logger) *Grouper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grouper{logger: logger}
}

// GroupDocument groups every paragraph of an extraction. Group indices are
// global across the document.
func (g *Grouper) GroupDocument(ext *docx.Extraction) []Group {
	byParagraph := map[int][]docx.Run{}
	order := []int{}
	for _, r := range ext.Runs {
		if _, ok := byParagraph[r.ParagraphIndex]; !ok {
			order = append(order, r.ParagraphIndex)
		}
		byParagraph[r.ParagraphIndex] = append(byParagraph[r.ParagraphIndex], r)
	}

	var out []Group
	for _, p := range order {
		for _, grp := range g.GroupParagraph(byParagraph[p]) {
			grp.Index = len(out)
			out = append(out, grp)
		}
	}
	g.logger.Debug("grouped document runs",
		zap.Int("runs", len(ext.Runs)),
		zap.Int("groups", len(out)))
	return out
}

// GroupParagraph merges the runs of one paragraph. The returned group
// indices are paragraph-local; GroupDocument renumbers them.
func (g *Grouper) GroupParagraph(runs []docx.Run) []Group {
	// Multimap of text value -> pending node-index slices, consumed in
	// first-seen order so repeated identical strings in one paragraph do not
	// collide. FIFO order is all this guarantees; two byte-identical runs
	// with different formatting are not disambiguated further.
	pending := map[string][][]int{}
	for _, r := range runs {
		pending[r.Text] = append(pending[r.Text], r.TextNodeIndices)
	}
	takeIndices := func(text string) []int {
		q := pending[text]
		if len(q) == 0 {
			return nil
		}
		head := q[0]
		pending[text] = q[1:]
		return head
	}

	var groups []Group
	var cur *Group

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.MergedText) != "" {
			cur.IsLabel = isLabel(cur.MergedText)
			groups = append(groups, *cur)
		}
		cur = nil
	}

	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		if cur != nil && !shouldMerge(cur.MergedText, r.Text) {
			flush()
		}
		if cur == nil {
			cur = &Group{Formatting: r.Formatting}
		}
		cur.MergedText += r.Text
		cur.RunIDs = append(cur.RunIDs, r.ID)
		cur.OriginalIndices = append(cur.OriginalIndices, takeIndices(r.Text)...)
	}
	flush()

	// Attach the nearest earlier label group as context.
	lastLabel := ""
	for i := range groups {
		if groups[i].IsLabel {
			lastLabel = strings.TrimSpace(groups[i].MergedText)
			continue
		}
		groups[i].PrecedingLabel = lastLabel
	}
	return groups
}

// shouldMerge decides whether the next fragment continues the accumulated
// group. Rules, in order: a label ends its group unconditionally; fragments
// completing a known value shape merge; short fragments are treated as split
// artifacts; dash and slash joiners merge; homogeneous digit or uppercase
// sequences merge; a capitalized fragment after an already long, shapeless
// accumulation starts a new group.
func shouldMerge(acc, next string) bool {
	accTrim := strings.TrimSpace(acc)
	nextTrim := strings.TrimSpace(next)

	if strings.HasSuffix(accTrim, ":") {
		return false
	}
	if matchesKnownPattern(acc + next) {
		return true
	}
	if len([]rune(nextTrim)) <= 4 || len([]rune(accTrim)) <= 4 {
		return true
	}
	if startsWithJoiner(nextTrim) || endsWithJoiner(accTrim) {
		return true
	}
	if (pureDigitsPattern.MatchString(accTrim) && pureDigitsPattern.MatchString(nextTrim)) ||
		(pureUpperAlnum.MatchString(accTrim) && pureUpperAlnum.MatchString(nextTrim)) {
		return true
	}
	if startsUpper(nextTrim) && len([]rune(accTrim)) > 5 && !matchesKnownPattern(accTrim) {
		return false
	}
	return true
}

func startsWithJoiner(s string) bool {
	return strings.HasPrefix(s, "-") || strings.HasPrefix(s, "/")
}

func endsWithJoiner(s string) bool {
	return strings.HasSuffix(s, "-") || strings.HasSuffix(s, "/")
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
