package embedding

import (
	"errors"

	"github.com/docserver-mcp/docserver/internal/retry"
)

// ClassifyHTTPError maps embedding-provider errors to retry classes per
// §4.5: 429/500/502/503/504 and network errors are transient; 4xx
// authentication/invalid-argument errors fail fast.
func ClassifyHTTPError(err error) retry.Class {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 429, 500, 502, 503, 504:
			return retry.ClassTemporarilyUnavailable
		case 401, 403:
			return retry.ClassAuthenticationFailed
		default:
			return retry.ClassOther
		}
	}

	return retry.ClassifyNetworkError(err)
}
