package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already canonical", "3/5-abc", "3/5-abc"},
		{"lowercases", "3/5-ABC", "3/5-abc"},
		{"trims whitespace", "  3/5-abc  ", "3/5-abc"},
		{"strips internal whitespace", "3 / 5 - abc", "3/5-abc"},
		{"semicolon separator", "3;5-ABC", "3/5-abc"},
		{"full-width semicolon", "3；5-ABC", "3/5-abc"},
		{"code with digits and hyphen kept whole", "1/2-SOFA-01", "1/2-sofa-01"},
		{"empty input", "", ""},
		{"whitespace only", "   ", ""},
		{"plain text passes through", "Not A Label", "notalabel"},
		{"missing dash passes through", "3/5abc", "3/5abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	// Canonical keys must come back unchanged, including codes that end
	// in a numeric segment.
	for _, s := range []string{"1/1-x", "3/5-abc123", "3/5-abc123-7", "1/2-sofa-01", "10/10-a-b-c"} {
		assert.Equal(t, s, Normalize(s))
		assert.Equal(t, s, Normalize(Normalize(s)))
	}
}

func TestNormalizeSeparatorEquivalence(t *testing.T) {
	assert.Equal(t, Normalize("3/5-ABC"), Normalize("3;5-ABC"))
	assert.Equal(t, Normalize("3/5-ABC"), Normalize("3；5-ABC"))
}

func TestExtractProductCode(t *testing.T) {
	tests := []struct {
		normalized string
		want       string
	}{
		{"3/5-abc", "abc"},
		{"1/2-sofa-01", "sofa-01"},
		{"3/5", ""},
		{"no-slash-here", "slash-here"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractProductCode(tt.normalized), tt.normalized)
	}
}

func TestParseLabel(t *testing.T) {
	index, total, product, ok := parseLabel("2/5-sofa-01")
	assert.True(t, ok)
	assert.Equal(t, 2, index)
	assert.Equal(t, 5, total)
	assert.Equal(t, "sofa-01", product)

	_, _, _, ok = parseLabel("garbage")
	assert.False(t, ok)
}
