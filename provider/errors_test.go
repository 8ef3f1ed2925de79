package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		body   string
		check  func(err error) bool
		expect string
	}{
		{"unauthorized", 401, "invalid key", Fatal, "auth"},
		{"forbidden", 403, "forbidden", Fatal, "auth"},
		{"rate limited", 429, "too many requests", Retryable, "rate limit"},
		{"server error", 500, "internal error", FallbackEligible, "unavailable"},
		{"bad gateway", 502, "bad gateway", FallbackEligible, "unavailable"},
		{"policy reject", 400, "prompt flagged by moderation", FallbackEligible, "content policy"},
		{"plain bad request", 400, "missing field", Retryable, "transient"},
		{"conflict", 409, "conflict", Retryable, "transient"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := classifyHTTP("piapi", c.code, c.body)
			assert.True(t, c.check(err), "expected %s classification, got %T: %v", c.expect, err, err)
		})
	}
}

func TestClassifyHTTPKeepsProviderName(t *testing.T) {
	err := classifyHTTP("gemini", 503, "overloaded")
	var ue *UnavailableError
	assert.True(t, errors.As(err, &ue))
	assert.Equal(t, "gemini", ue.Provider)
}

func TestClassificationHelpersAreDisjoint(t *testing.T) {
	errs := []error{
		&AuthError{Provider: "p", Err: errors.New("401")},
		&RateLimitError{Provider: "p", Err: errors.New("429")},
		&TransientError{Provider: "p", Err: errors.New("reset")},
		&ContentPolicyError{Provider: "p", Reason: "nsfw"},
		&UnavailableError{Provider: "p", Err: errors.New("503")},
	}
	for _, err := range errs {
		n := 0
		if Fatal(err) {
			n++
		}
		if Retryable(err) {
			n++
		}
		if FallbackEligible(err) {
			n++
		}
		assert.Equal(t, 1, n, "%T 必须恰好落入一个分类", err)
	}
}

func TestClassificationSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", &RateLimitError{Provider: "p", Err: errors.New("429")})
	assert.True(t, Retryable(err))
	assert.False(t, Fatal(err))
	assert.False(t, FallbackEligible(err))
}

func TestLooksLikePolicyReject(t *testing.T) {
	assert.True(t, looksLikePolicyReject("request blocked: Content Policy violation"))
	assert.True(t, looksLikePolicyReject("image flagged as NSFW"))
	assert.False(t, looksLikePolicyReject("invalid duration parameter"))
}
