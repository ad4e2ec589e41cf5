package execution

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// FailureKind tags why a submission or fetch failed.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureInsufficientFunds
	FailureRateLimited
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailureInsufficientFunds:
		return "insufficient_funds"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	fundsPhrases = []string{
		"not enough balance",
		"insufficient balance",
		"allowance",
	}
	rateLimitPhrases = []string{
		"cloudflare",
		"been blocked",
		"rate limit",
		"too many requests",
	}
	transientPhrases = []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"temporarily",
		"eof",
	}
)

// Classify inspects a failed exchange call. err may be nil when the
// exchange answered with success=false; resp may be zero when the call never
// got a response. The exchange reports most failures as free text, so the
// payload is matched against known phrases.
func Classify(err error, resp domain.OrderResponse) FailureKind {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return FailureInsufficientFunds
	case errors.Is(err, domain.ErrRateLimited):
		return FailureRateLimited
	}

	text := failureText(err, resp)
	if containsAny(text, fundsPhrases) {
		return FailureInsufficientFunds
	}
	if resp.HTTPStatus == http.StatusTooManyRequests || resp.HTTPStatus == http.StatusForbidden {
		return FailureRateLimited
	}
	if containsAny(text, rateLimitPhrases) {
		return FailureRateLimited
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTransient
	case resp.HTTPStatus >= http.StatusInternalServerError:
		return FailureTransient
	case containsAny(text, transientPhrases):
		return FailureTransient
	}
	return FailureUnknown
}

func failureText(err error, resp domain.OrderResponse) string {
	parts := make([]string, 0, 3)
	if err != nil {
		parts = append(parts, err.Error())
	}
	if resp.ErrorMsg != "" {
		parts = append(parts, resp.ErrorMsg)
	}
	if len(resp.Raw) > 0 {
		parts = append(parts, string(resp.Raw))
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
