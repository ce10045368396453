package tagger

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseStatus classifies how a model response was recovered into a string
// array.
type ParseStatus int

const (
	// ParseOK: the response was a well-formed JSON array.
	ParseOK ParseStatus = iota
	// ParseRepaired: the array was recovered after stripping fences or
	// trimming a truncated tail.
	ParseRepaired
	// ParseScavenged: only individual quoted strings could be extracted.
	ParseScavenged
	// ParseInvalid: nothing recoverable; caller must degrade.
	ParseInvalid
)

// ParseResult is the outcome of the repair state machine.
type ParseResult struct {
	Status ParseStatus
	Items  []string
}

var (
	fencePattern        = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	quotedStringPattern = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// ParseStringArray runs the repair state machine over a raw model response:
// parse as-is, strip markdown fences, cut the outermost [...], trim a
// truncated tail back to the last complete element and re-close, and finally
// scavenge individual quoted strings. It never fails loudly; ParseInvalid is
// the terminal degradation.
func ParseStringArray(raw string) ParseResult {
	candidate := strings.TrimSpace(raw)

	if items, ok := tryUnmarshal(candidate); ok {
		return ParseResult{Status: ParseOK, Items: items}
	}

	// Strip markdown code fences.
	if m := fencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
		if items, ok := tryUnmarshal(candidate); ok {
			return ParseResult{Status: ParseRepaired, Items: items}
		}
	}

	// Locate the outermost [...] span.
	if start := strings.Index(candidate, "["); start >= 0 {
		end := strings.LastIndex(candidate, "]")
		if end > start {
			inner := candidate[start : end+1]
			if items, ok := tryUnmarshal(inner); ok {
				return ParseResult{Status: ParseRepaired, Items: items}
			}
			candidate = inner
		} else {
			candidate = candidate[start:]
		}
	}

	// The array appears truncated mid-element: walk back to the last
	// complete comma-separated element and close the bracket.
	if repaired, ok := trimTruncatedArray(candidate); ok {
		if items, ok := tryUnmarshal(repaired); ok {
			return ParseResult{Status: ParseRepaired, Items: items}
		}
	}

	// Last resort: collect every well-formed quoted string.
	var scavenged []string
	for _, m := range quotedStringPattern.FindAllStringSubmatch(candidate, -1) {
		var s string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err == nil {
			scavenged = append(scavenged, s)
		}
	}
	if len(scavenged) > 0 {
		return ParseResult{Status: ParseScavenged, Items: scavenged}
	}

	return ParseResult{Status: ParseInvalid}
}

// trimTruncatedArray cuts a "[...," or `[..., "par` tail back to the last
// complete element boundary and closes the array.
func trimTruncatedArray(s string) (string, bool) {
	if !strings.HasPrefix(s, "[") {
		return "", false
	}
	// Find the end of the last complete string element by scanning quote
	// pairs with escape awareness.
	lastComplete := -1
	inString := false
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				lastComplete = i
			}
			continue
		}
		if c == '"' {
			inString = true
		}
	}
	if lastComplete < 0 {
		return "", false
	}
	return s[:lastComplete+1] + "]", true
}

func tryUnmarshal(s string) ([]string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return nil, false
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	return items, true
}
