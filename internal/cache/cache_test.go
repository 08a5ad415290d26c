package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailprobe/internal/verdict"
)

func TestCacheKeyLowercasesAddress(t *testing.T) {
	assert.Equal(t, "verification_results:user@example.com", cacheKey("User@Example.COM"))
}

func TestCategoryKeyLowercasesCategory(t *testing.T) {
	assert.Equal(t, "verification_category:catch-all", categoryKey("Catch-All"))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Now()
	env := envelope{
		Verdict:  verdict.Verdict{Address: "user@example.com", Category: verdict.CategoryValid, SmtpCode: 250},
		CachedAt: now,
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, env.Verdict.Address, decoded.Verdict.Address)
	assert.Equal(t, env.Verdict.Category, decoded.Verdict.Category)
}

func TestLockForReusesMutexPerAddress(t *testing.T) {
	c := New(nil, nil, time.Hour, nil)
	a := c.lockFor("user@example.com")
	b := c.lockFor("USER@EXAMPLE.COM")
	assert.Same(t, a, b, "expected case-insensitive lock reuse for the same address")

	c2 := c.lockFor("other@example.com")
	assert.NotSame(t, a, c2, "expected distinct mutexes for distinct addresses")
}
