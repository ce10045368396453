package tagger

import (
	"fmt"
	"strings"
)

// VariableCategory describes one class of values the model should turn into
// a placeholder, together with the tag name convention for it.
type VariableCategory struct {
	Name        string `mapstructure:"name" json:"name"`
	Tag         string `mapstructure:"tag" json:"tag"`
	Description string `mapstructure:"description" json:"description"`
	Hint        string `mapstructure:"hint" json:"hint,omitempty"`
}

// Taxonomy is the externally supplied rule set for the tagger: literals that
// must never be tagged and the variable categories with their target tag
// names. It is versioned so prompt changes can be tracked independently of
// code.
type Taxonomy struct {
	Version    string             `mapstructure:"version" json:"version"`
	Constants  []string           `mapstructure:"constants" json:"constants"`
	Categories []VariableCategory `mapstructure:"categories" json:"categories"`
}

// DefaultTaxonomy returns the built-in rule set for customs and vehicle
// shipping paperwork.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Version: "2026-08-01",
		Constants: []string{
			"MARLOG CAR HANDLING BV",
			"Dokument wystawiony elektronicznie",
			"Potwierdzenie wywozu",
			"Zgłoszenie celne",
			"URZĄD CELNO-SKARBOWY",
			"EXPORT ACCOMPANYING DOCUMENT",
			"VAT: 0%",
			"Procedura 4000",
			"Kod towaru",
			"Strona",
		},
		Categories: []VariableCategory{
			{Name: "VIN", Tag: "vinNumber", Description: "17-character vehicle identification number", Hint: `[A-HJ-NPR-Z0-9]{17}`},
			{Name: "MRN", Tag: "mrnNumber", Description: "movement reference number, 18 chars starting with two digits and a country code", Hint: `\d{2}[A-Z]{2}[A-Z0-9]{14}`},
			{Name: "issue date", Tag: "issueDate", Description: "document issue or declaration date in any format"},
			{Name: "declarant name", Tag: "declarantName", Description: "personal name of a declarant or signatory"},
			{Name: "consignee name", Tag: "consigneeName", Description: "receiving company or person"},
			{Name: "consignee address", Tag: "consigneeAddress", Description: "street, postal code and city of the consignee"},
			{Name: "currency amount", Tag: "invoiceAmount", Description: "monetary amount, with or without currency code"},
			{Name: "gross weight", Tag: "grossWeight", Description: "gross mass in kilograms"},
			{Name: "net weight", Tag: "netWeight", Description: "net mass in kilograms"},
			{Name: "container number", Tag: "containerNumber", Description: "ISO 6346 container id", Hint: `[A-Z]{4}\d{7}`},
			{Name: "vessel", Tag: "vesselName", Description: "vessel or voyage identifier"},
			{Name: "reference number", Tag: "referenceNumber", Description: "office or file reference code"},
			{Name: "registration plate", Tag: "plateNumber", Description: "vehicle registration plate"},
		},
	}
}

// SystemPrompt renders the taxonomy into the fixed instruction block sent as
// the system message.
func (t Taxonomy) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You identify variable fragments in document text.\n")
	b.WriteString("Input: a JSON array of strings, each optionally annotated with a bracketed context suffix ")
	b.WriteString("such as [po: \"label\"] or [bold,size:12pt]. The suffix is context only and is never part of the text.\n")
	b.WriteString("Output: a JSON array of the SAME length and order. For each element return either the original ")
	b.WriteString("text unchanged (a constant) or a {{camelCaseTag}} placeholder (a variable). Never return anything else: ")
	b.WriteString("no explanations, no markdown, no objects.\n\n")

	b.WriteString("These literals are fixed boilerplate and must NEVER be tagged:\n")
	for _, c := range t.Constants {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	b.WriteString("\nVariable categories and their tag names:\n")
	for _, cat := range t.Categories {
		fmt.Fprintf(&b, "- {{%s}}: %s", cat.Tag, cat.Description)
		if cat.Hint != "" {
			fmt.Fprintf(&b, " (shape: %s)", cat.Hint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nLabels ending with ':' are constants. When unsure, keep the original text.\n")
	return b.String()
}
