package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
)

func TestRuleValidate(t *testing.T) {
	base := func() Rule {
		return Rule{AllowedRequests: 10, WindowSeconds: 60}
	}

	t.Run("valid minimal rule", func(t *testing.T) {
		r := base()
		assert.NoError(t, r.Validate())
	})

	t.Run("rejects zero allowed requests", func(t *testing.T) {
		r := base()
		r.AllowedRequests = 0
		assert.ErrorIs(t, r.Validate(), rlerrors.ErrInvalidRule)
	})

	t.Run("queueing requires maxQueueSize and delay", func(t *testing.T) {
		r := base()
		r.QueueEnabled = true
		require.ErrorIs(t, r.Validate(), rlerrors.ErrInvalidRule)

		r.MaxQueueSize = 5
		r.DelayPerRequestMs = 100
		assert.NoError(t, r.Validate(), "expected valid rule once queue fields are set")
	})

	t.Run("jwt enabled requires claims", func(t *testing.T) {
		r := base()
		r.JWTEnabled = true
		assert.ErrorIs(t, r.Validate(), rlerrors.ErrInvalidRule)
	})
}

func TestRuleApplyDefaults(t *testing.T) {
	var r Rule
	r.ApplyDefaults()
	assert.Equal(t, ":", r.JWTClaimSeparator)
	assert.Equal(t, ModeReplaceIP, r.BodyLimitType)
	assert.Equal(t, ModeReplaceIP, r.HeaderLimitType)
	assert.Equal(t, ModeReplaceIP, r.CookieLimitType)
}
