package domain

import (
	"net/http"
	"strings"
)

// ClassifyError inspects an upstream HTTP status and error message for quota
// and auth signals. The two are checked independently so a response carrying
// both gets both flags.
func ClassifyError(statusCode int, message string) ErrorSignals {
	lower := strings.ToLower(message)

	var sig ErrorSignals
	sig.Quota = statusCode == http.StatusTooManyRequests ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource_exhausted")
	sig.Auth = statusCode == http.StatusUnauthorized ||
		statusCode == http.StatusForbidden ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "api key not valid")
	return sig
}
