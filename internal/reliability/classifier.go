package reliability

import "net/http"

// IsRetryableHTTPStatus classifies upstream statuses that signal overload or
// a temporary outage rather than a rejected request.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusClass buckets an upstream status for metric labels.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "none"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
