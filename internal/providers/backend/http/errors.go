package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/convergekit/converge/faults"
)

// timeoutMarkers are the message substrings the backend uses for
// requests that ran out of time; those responses are retryable no
// matter which status code carried them.
var timeoutMarkers = []string{"timed out", "timeout", "deadline exceeded"}

func classifyStatusError(status int, body []byte) error {
	message := fmt.Sprintf("backend returned status %d: %s", status, summarizeBody(body))

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return faults.NewTypedError(faults.AuthorizationGap, message, nil)
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return faults.NewTypedError(faults.BackendUnavailable, message, nil)
	}

	lower := strings.ToLower(string(body))
	for _, marker := range timeoutMarkers {
		if strings.Contains(lower, marker) {
			return faults.NewTypedError(faults.BackendUnavailable, message, nil)
		}
	}

	return faults.NewTypedError(faults.BackendRejected, message, nil)
}

func transportError(message string, cause error) error {
	return faults.NewTypedError(faults.BackendUnavailable, message, cause)
}

func internalError(message string, cause error) error {
	return faults.NewTypedError(faults.InternalError, message, cause)
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "(empty body)"
	}
	return text
}
