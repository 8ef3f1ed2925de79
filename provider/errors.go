package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// 错误分类：
//   - AuthError: 凭证问题，不重试也不回退
//   - RateLimitError / TransientError: 可在同一提供商内退避重试
//   - ContentPolicyError / UnavailableError: 对当前提供商致命，切换回退链
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

type ContentPolicyError struct {
	Provider string
	Reason   string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s: content policy rejection: %s", e.Provider, e.Reason)
}

type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: provider unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable 同一提供商内可退避重试的错误
func Retryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// Fatal 凭证类错误，整条任务直接失败
func Fatal(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// FallbackEligible 对当前提供商致命、应切换下一个候选的错误
func FallbackEligible(err error) bool {
	var cp *ContentPolicyError
	var ua *UnavailableError
	return errors.As(err, &cp) || errors.As(err, &ua)
}

// classifyHTTP 把 HTTP 状态码映射到错误分类。body 用于识别内容审核拒绝。
func classifyHTTP(providerName string, statusCode int, body string) error {
	base := fmt.Errorf("status %d: %s", statusCode, truncate(body, 200))
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthError{Provider: providerName, Err: base}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: providerName, Err: base}
	case statusCode >= 500:
		return &UnavailableError{Provider: providerName, Err: base}
	case statusCode == http.StatusBadRequest && looksLikePolicyReject(body):
		return &ContentPolicyError{Provider: providerName, Reason: truncate(body, 200)}
	default:
		return &TransientError{Provider: providerName, Err: base}
	}
}

func looksLikePolicyReject(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range []string{"content policy", "policy violation", "moderation", "nsfw", "safety", "flagged"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
