package fill

import (
	"strings"

	"github.com/fieldmark/fieldmark/internal/docx"
	"go.uber.org/zap"
)

// Stats summarizes one fill operation for the caller's audit trail.
type Stats struct {
	TotalTemplateTags int      `json:"totalTemplateTags"`
	MatchedFields     int      `json:"matchedFields"`
	UnmatchedTags     []string `json:"unmatchedTags"`
	ReplacementsMade  int      `json:"replacementsMade"`
	AIMatchingUsed    bool     `json:"aiMatchingUsed"`
}

// Filler turns matched values into run changes and applies them.
type Filler struct {
	logger *zap.Logger
}

// NewFiller creates a Filler.
func NewFiller(logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{logger: logger}
}

// Fill rewrites the template XML with the matched values. Matched tags are
// replaced inside the owning run's full text (surrounding literal text is
// preserved) and highlighted; several matched tags in one run accumulate into
// a single replacement text. Clear entries belonging to matched tags are
// emptied without highlight. Unmatched tags stay as literal {{tag}} text and
// are reported, never silently dropped.
func (f *Filler) Fill(xml string, ext *docx.Extraction, mappings []TagMapping, match MatchResult) (string, Stats, error) {
	stats := Stats{
		TotalTemplateTags: len(TemplateTags(mappings)),
		MatchedFields:     len(match.Values),
		UnmatchedTags:     match.Unmatched,
		AIMatchingUsed:    match.AIUsed,
	}
	if stats.UnmatchedTags == nil {
		stats.UnmatchedTags = []string{}
	}

	type runEdit struct {
		text      string
		highlight bool
	}
	edits := map[string]*runEdit{}
	var order []string

	var changes []docx.RunChange
	for _, m := range mappings {
		if m.IsClear() {
			if _, ok := match.Values[m.ClearOwner()]; ok {
				changes = append(changes, docx.RunChange{ID: m.RunID, NewText: "", Highlight: false})
			}
			continue
		}
		value, ok := match.Values[m.Tag]
		if !ok {
			continue
		}
		e := edits[m.RunID]
		if e == nil {
			e = &runEdit{text: m.FullRunText}
			edits[m.RunID] = e
			order = append(order, m.RunID)
		}
		e.text = strings.ReplaceAll(e.text, m.OriginalText, value)
		if value != "" {
			e.highlight = true
		}
		stats.ReplacementsMade++
	}
	for _, id := range order {
		e := edits[id]
		changes = append(changes, docx.RunChange{ID: id, NewText: e.text, Highlight: e.highlight})
	}

	out, err := docx.ApplyRunChanges(xml, ext, changes)
	if err != nil {
		return "", stats, err
	}

	f.logger.Info("template filled",
		zap.Int("templateTags", stats.TotalTemplateTags),
		zap.Int("replacements", stats.ReplacementsMade),
		zap.Int("unmatched", len(stats.UnmatchedTags)),
		zap.Bool("aiMatching", stats.AIMatchingUsed))
	return out, stats, nil
}
