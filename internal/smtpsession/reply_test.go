package smtpsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReplyLinesSingleLine(t *testing.T) {
	r := parseReplyLines([]string{"250 2.1.5 OK"})
	assert.Equal(t, 250, r.Code)
	assert.Equal(t, "2.1.5", r.EnhancedCode)
}

func TestParseReplyLinesMultiLine(t *testing.T) {
	r := parseReplyLines([]string{
		"250-mx.example.com at your service",
		"250-SIZE 35882577",
		"250 STARTTLS",
	})
	assert.Equal(t, 250, r.Code)
	assert.Empty(t, r.EnhancedCode)
}

func TestParseReplyLinesShortLine(t *testing.T) {
	r := parseReplyLines([]string{"55"})
	assert.Equal(t, -1, r.Code, "unparseable short line should yield -1")
}

func TestParseReplyLinesNoEnhancedWhenMalformed(t *testing.T) {
	r := parseReplyLines([]string{"550 User unknown"})
	assert.Empty(t, r.EnhancedCode)
}

func TestParseReplyLinesEmpty(t *testing.T) {
	r := parseReplyLines(nil)
	assert.Equal(t, -1, r.Code)
}
