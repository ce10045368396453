package fill

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// OCRField is one field extracted from a source document by the vision OCR
// pass.
type OCRField struct {
	Tag        string  `json:"tag"`
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// FieldMatch records how one template tag was resolved.
type FieldMatch struct {
	Tag    string   `json:"tag"`
	Field  OCRField `json:"field"`
	Method string   `json:"method"` // "exact", "fuzzy" or "ai"
}

// ChatClient is the LLM round trip used for semantic matching.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Matcher assigns OCR fields to template tags in priority order:
// case-insensitive exact, normalized fuzzy, then LLM-assisted semantic
// matching. When the LLM pass is available and returns assignments, those
// fully replace the fuzzy results.
type Matcher struct {
	ai     ChatClient
	logger *zap.Logger
}

// NewMatcher creates a Matcher. ai may be nil to disable the semantic pass.
func NewMatcher(ai ChatClient, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{ai: ai, logger: logger}
}

// MatchResult is the outcome of one matching pass.
type MatchResult struct {
	Values    map[string]string // tag -> fill value
	Matches   []FieldMatch
	Unmatched []string // template tags with no assignment
	AIUsed    bool
}

// Match resolves the template tags against the OCR field list. tagMetadata
// (tag -> example original value) is passed to the semantic pass as a
// glossary and may be nil.
func (m *Matcher) Match(ctx context.Context, tags []string, tagMetadata map[string]string, fields []OCRField) MatchResult {
	res := MatchResult{Values: map[string]string{}}
	used := map[int]bool{}

	// Pass 1: case-insensitive exact tag match.
	for _, tag := range tags {
		for i, f := range fields {
			if used[i] {
				continue
			}
			if strings.EqualFold(tag, f.Tag) {
				res.Values[tag] = f.Value
				res.Matches = append(res.Matches, FieldMatch{Tag: tag, Field: f, Method: "exact"})
				used[i] = true
				break
			}
		}
	}

	// Pass 2: normalized fuzzy match for the remainder.
	fuzzyMatches := map[string]FieldMatch{}
	for _, tag := range tags {
		if _, ok := res.Values[tag]; ok {
			continue
		}
		if idx := m.fuzzyCandidate(tag, fields, used); idx >= 0 {
			fuzzyMatches[tag] = FieldMatch{Tag: tag, Field: fields[idx], Method: "fuzzy"}
			used[idx] = true
		}
	}

	// Pass 3: LLM-assisted 1:1 assignment. Non-empty results replace the
	// fuzzy pass entirely.
	if m.ai != nil {
		if aiAssign := m.semanticMatch(ctx, tags, tagMetadata, fields, res.Values); len(aiAssign) > 0 {
			res.AIUsed = true
			fuzzyMatches = map[string]FieldMatch{}
			for tag, fieldTag := range aiAssign {
				if _, ok := res.Values[tag]; ok {
					continue
				}
				for _, f := range fields {
					if strings.EqualFold(f.Tag, fieldTag) {
						fuzzyMatches[tag] = FieldMatch{Tag: tag, Field: f, Method: "ai"}
						break
					}
				}
			}
		}
	}

	for tag, fm := range fuzzyMatches {
		res.Values[tag] = fm.Field.Value
		res.Matches = append(res.Matches, fm)
	}
	for _, tag := range tags {
		if _, ok := res.Values[tag]; !ok {
			res.Unmatched = append(res.Unmatched, tag)
		}
	}
	return res
}

// fuzzyCandidate finds the best unused field for a tag by normalized
// comparison: equality, substring containment either direction, then a
// fuzzysearch fold match as the loosest tier.
func (m *Matcher) fuzzyCandidate(tag string, fields []OCRField, used map[int]bool) int {
	nTag := normalizeKey(tag)
	best := -1
	bestTier := 99
	for i, f := range fields {
		if used[i] {
			continue
		}
		for _, key := range []string{f.Tag, f.Label} {
			nKey := normalizeKey(key)
			if nKey == "" {
				continue
			}
			tier := 99
			switch {
			case nKey == nTag:
				tier = 0
			case strings.Contains(nTag, nKey) || strings.Contains(nKey, nTag):
				tier = 1
			case fuzzy.MatchNormalizedFold(nKey, nTag) || fuzzy.MatchNormalizedFold(nTag, nKey):
				tier = 2
			}
			if tier < bestTier {
				bestTier = tier
				best = i
			}
		}
	}
	if bestTier > 2 {
		return -1
	}
	return best
}

var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9]+`)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeKey lowercases, strips diacritics and removes every separator so
// "VIN", "vin_number" and "Numer VIN" compare against "vinNumber" cleanly.
func normalizeKey(s string) string {
	stripped, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		stripped = s
	}
	return nonAlnumPattern.ReplaceAllString(strings.ToLower(stripped), "")
}

const semanticMatchPrompt = `You match OCR-extracted fields to document template tags.
Input: a JSON object with "tags" (template tag names with an example of the
original value each replaced) and "fields" (OCR fields with tag, label and value).
Output: a JSON object mapping every template tag to the best matching OCR field
tag, or null when no field is a reasonable candidate. Each OCR field may be
assigned to at most one template tag. Return only the JSON object.`

// semanticMatch asks the model for a 1:1 assignment. Failures degrade to an
// empty result; the fuzzy pass then stands.
func (m *Matcher) semanticMatch(ctx context.Context, tags []string, tagMetadata map[string]string, fields []OCRField, already map[string]string) map[string]string {
	open := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := already[t]; !ok {
			open = append(open, t)
		}
	}
	if len(open) == 0 || len(fields) == 0 {
		return nil
	}

	glossary := map[string]string{}
	for _, t := range open {
		glossary[t] = tagMetadata[t]
	}
	payload, err := json.Marshal(map[string]any{"tags": glossary, "fields": fields})
	if err != nil {
		return nil
	}

	raw, err := m.ai.Chat(ctx, semanticMatchPrompt, string(payload))
	if err != nil {
		m.logger.Warn("semantic match call failed, keeping fuzzy results", zap.Error(err))
		return nil
	}

	assign := map[string]*string{}
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &assign); err != nil {
		m.logger.Warn("semantic match response unparseable", zap.Error(err))
		return nil
	}

	out := map[string]string{}
	for tag, fieldTag := range assign {
		if fieldTag != nil && *fieldTag != "" {
			out[tag] = *fieldTag
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
