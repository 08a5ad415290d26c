package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"user@example.com":    true,
		"user.name+tag@ex.co": true,
		"not-an-email":        false,
		"@example.com":        false,
		"user@":               false,
		"user@example":        false,
		"user@example.c":      false,
	}
	for in, want := range cases {
		assert.Equal(t, want, Valid(in), "Valid(%q)", in)
	}
}

func TestExtractDomainFoldsIDN(t *testing.T) {
	domain, ok := ExtractDomain("user@München.example")
	require.True(t, ok)
	assert.NotEqual(t, "münchen.example", domain, "expected ASCII punycode folding, got raw unicode")
}

func TestExtractDomainRejectsMissingAt(t *testing.T) {
	_, ok := ExtractDomain("no-at-sign")
	assert.False(t, ok)
}
