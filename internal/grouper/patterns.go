package grouper

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// Known value shapes that indicate two adjacent fragments belong to one
// logical field even when the editor split them across runs. Customs
// documents are full of these: MRN numbers, VINs, container numbers and
// reference codes routinely arrive chopped into two or three runs.
var (
	// MRN: two digits, two letters, then alphanumerics (18MI1234567890AB5).
	mrnPattern = regexp.MustCompile(`^\d{2}[A-Z]{2}[A-Z0-9]*$`)

	// Container number: up to four letters followed by digits (MSKU1234567,
	// also matches a bare prefix while the tail is still accumulating).
	containerPattern = regexp.MustCompile(`^[A-Z]{1,4}\d{0,7}$`)

	// Date or date fragment: 09, 09-07, 09-07-2025, 2025/07/09, 09.07.
	dateFragmentPattern = regexp.MustCompile(`^\d{1,4}([-./]\d{1,2}){0,2}[-./]?\d{0,4}$`)

	// VIN-like: 6-17 uppercase alphanumerics (no I/O/Q) mixing letters and
	// digits. Needs lookaheads, hence regexp2.
	vinPattern = regexp2.MustCompile(`^(?=[A-HJ-NPR-Z0-9]{6,17}$)(?=.*\d)(?=.*[A-HJ-NPR-Z]).*$`, 0)

	// Reference code: at least one digit among uppercase alphanumerics with
	// optional / or - separators (PL445000/23/0012).
	referencePattern = regexp2.MustCompile(`^(?=.*\d)[A-Z0-9/-]{4,}$`, 0)

	numberedLabelPattern = regexp.MustCompile(`^\d+\s+\p{Lu}`)
	pureDigitsPattern    = regexp.MustCompile(`^[0-9]+$`)
	pureUpperAlnum       = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// labelVocabulary is the fixed set of field names that count as labels even
// without a trailing colon. Compared case-insensitively.
var labelVocabulary = []string{
	"mrn", "vin", "data", "numer", "nazwa", "adres", "odbiorca", "nadawca",
	"kontener", "statek", "waga", "ilosc", "ilość", "kraj", "urzad", "urząd",
	"zglaszajacy", "zgłaszający", "faktura", "kwota", "data wystawienia",
	"numer rejestracyjny", "marka", "model", "rok produkcji",
}

// matchesKnownPattern reports whether text looks like one complete value of a
// known shape.
func matchesKnownPattern(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if mrnPattern.MatchString(t) || containerPattern.MatchString(t) || dateFragmentPattern.MatchString(t) {
		return true
	}
	if ok, _ := vinPattern.MatchString(t); ok {
		return true
	}
	if ok, _ := referencePattern.MatchString(t); ok {
		return true
	}
	return false
}

// isLabel classifies text as a field label: trailing colon, known vocabulary
// (with or without colon), or a numbered box heading like "8 Odbiorca".
func isLabel(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, ":") {
		return true
	}
	bare := strings.ToLower(strings.TrimSuffix(t, ":"))
	for _, v := range labelVocabulary {
		if bare == v {
			return true
		}
	}
	if len(t) < 30 && numberedLabelPattern.MatchString(t) {
		return true
	}
	return false
}
