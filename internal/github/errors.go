package github

import (
	"context"
	"net"
	"net/http"

	"github.com/glup3/ghstats/internal/stats"
	gh "github.com/google/go-github/v67/github"
	"github.com/jmgilman/go/errors"
)

// WrapHTTPError wraps an error based on the HTTP status code returned by GitHub.
// 404 is the only not-found signal; 5xx and 429 are retryable.
func WrapHTTPError(err error, statusCode int, message string) error {
	if err == nil {
		return nil
	}

	var code errors.ErrorCode
	switch statusCode {
	case http.StatusNotFound:
		code = errors.CodeNotFound
	case http.StatusUnauthorized:
		code = errors.CodeUnauthorized
	case http.StatusForbidden:
		code = errors.CodeForbidden
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		code = errors.CodeInvalidInput
	case http.StatusTooManyRequests:
		code = errors.CodeRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = errors.CodeUnavailable
	default:
		if statusCode >= 500 {
			code = errors.CodeNetwork
		} else {
			code = errors.CodeInternal
		}
	}

	return errors.Wrap(err, code, message)
}

// classifyError turns a go-github failure into a coded error. Anything that did not
// produce an HTTP status is treated as a network failure.
func classifyError(err error, resp *gh.Response, message string) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	var netErr net.Error

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return errors.Wrap(err, errors.CodeRateLimit, message)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return stats.WrapContextError(err, message)
	case errors.As(err, &netErr) && netErr.Timeout():
		return errors.Wrap(err, errors.CodeTimeout, message)
	}

	if resp == nil || resp.Response == nil {
		return errors.Wrap(err, errors.CodeNetwork, message)
	}

	return WrapHTTPError(err, resp.StatusCode, message)
}
