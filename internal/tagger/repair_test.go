package tagger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStringArrayWellFormed(t *testing.T) {
	res := ParseStringArray(`["a", "{{issueDate}}", "c"]`)
	assert.Equal(t, ParseOK, res.Status)
	assert.Equal(t, []string{"a", "{{issueDate}}", "c"}, res.Items)
}

func TestParseStringArrayMarkdownFence(t *testing.T) {
	res := ParseStringArray("```json\n[\"a\", \"b\"]\n```")
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.Items)
}

func TestParseStringArrayFenceWithoutLanguage(t *testing.T) {
	res := ParseStringArray("```\n[\"x\"]\n```")
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"x"}, res.Items)
}

func TestParseStringArraySurroundingProse(t *testing.T) {
	res := ParseStringArray(`Here is the classification: ["a", "b"] Hope this helps!`)
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.Items)
}

func TestParseStringArrayWrappedInObject(t *testing.T) {
	res := ParseStringArray(`{"result": ["a", "b"]}`)
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.Items)
}

func TestParseStringArrayTruncatedTail(t *testing.T) {
	res := ParseStringArray(`["first", "second", "thi`)
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"first", "second"}, res.Items)
}

func TestParseStringArrayTruncatedAfterComma(t *testing.T) {
	res := ParseStringArray(`["first", "second",`)
	assert.Equal(t, ParseRepaired, res.Status)
	assert.Equal(t, []string{"first", "second"}, res.Items)
}

func TestParseStringArrayEscapedQuotes(t *testing.T) {
	res := ParseStringArray(`["say \"hi\"", "b"]`)
	assert.Equal(t, ParseOK, res.Status)
	assert.Equal(t, []string{`say "hi"`, "b"}, res.Items)
}

func TestParseStringArrayScavenge(t *testing.T) {
	res := ParseStringArray(`The values are "alpha" and also "beta", no array here.`)
	assert.Equal(t, ParseScavenged, res.Status)
	assert.Equal(t, []string{"alpha", "beta"}, res.Items)
}

func TestParseStringArrayInvalid(t *testing.T) {
	res := ParseStringArray(`I cannot classify these fragments.`)
	assert.Equal(t, ParseInvalid, res.Status)
	assert.Empty(t, res.Items)
}

func TestParseStringArrayEmpty(t *testing.T) {
	res := ParseStringArray("")
	assert.Equal(t, ParseInvalid, res.Status)
}

func TestTrimTruncatedArray(t *testing.T) {
	repaired, ok := trimTruncatedArray(`["a", "b", "c`)
	assert.True(t, ok)
	assert.Equal(t, `["a", "b"]`, repaired)

	_, ok = trimTruncatedArray(`not an array`)
	assert.False(t, ok)

	_, ok = trimTruncatedArray(`["`)
	assert.False(t, ok)
}
