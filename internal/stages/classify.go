package stages

import (
	"context"
	"errors"
	"net"

	"mattercertis/internal/httpfetch"
	"mattercertis/internal/retrypolicy"
)

// classifyFetchErr maps a fetch failure to its retrypolicy.ErrorClass. A nil
// err has no meaningful class and callers must not invoke this.
func classifyFetchErr(err error) retrypolicy.ErrorClass {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return retrypolicy.ClassTimeout
	case errors.Is(err, httpfetch.ErrCircuitOpen):
		return retrypolicy.ClassRateLimit
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return retrypolicy.ClassTimeout
		}
		return retrypolicy.ClassNetwork
	}
	return retrypolicy.ClassNetwork
}

// classifyStatus refines a fetch error's class using the HTTP status code
// observed, when one is available (status is 0 when the request never
// reached the server).
func classifyStatus(status int) retrypolicy.ErrorClass {
	switch {
	case status == 401 || status == 403:
		return retrypolicy.ClassAuthentication
	case status == 429:
		return retrypolicy.ClassRateLimit
	case status >= 500:
		return retrypolicy.ClassNetwork
	default:
		return retrypolicy.ClassUnknown
	}
}
