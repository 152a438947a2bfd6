package server

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/glup3/ghstats/internal/github"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/jmgilman/go/errors"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	cacheStateHeader = "X-Cache-State"

	// statusClientClosedRequest is the nginx convention for a caller that hung up.
	statusClientClosedRequest = 499
)

var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,37}[a-zA-Z0-9])?$`)

type StatsService interface {
	Stats(ctx context.Context, key stats.Key) (*stats.Outcome, error)
}

type RateLimiter interface {
	GetRateLimit(ctx context.Context) (github.RateLimit, error)
}

type Handler struct {
	service StatsService
	limits  RateLimiter
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(service StatsService, limits RateLimiter) *Handler {
	return &Handler{service: service, limits: limits}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// AggregatedStats handles GET /aggregated-stats?username=<login>&fork=<bool>.
func (h *Handler) AggregatedStats(c echo.Context) error {
	username := strings.TrimSpace(c.QueryParam("username"))
	if !validLogin(username) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "username must be a valid GitHub login"})
	}

	filter, err := stats.ParseForkFlag(c.QueryParam("fork"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "fork must be true or false"})
	}

	outcome, err := h.service.Stats(c.Request().Context(), stats.NewKey(username, filter))
	if err != nil {
		return h.writeError(c, err)
	}

	c.Response().Header().Set(cacheStateHeader, string(outcome.State))
	return c.JSON(http.StatusOK, outcome.Result)
}

func (h *Handler) RateLimit(c echo.Context) error {
	if h.limits == nil {
		return c.JSON(http.StatusNotImplemented, errorResponse{Error: "rate limit lookup is not configured"})
	}

	rl, err := h.limits.GetRateLimit(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rl)
}

func (h *Handler) writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(errors.GetCode(err))).Msg("request failed")
	}

	message := http.StatusText(status)
	switch status {
	case http.StatusNotFound:
		message = "user not found"
	case statusClientClosedRequest:
		message = "client closed request"
	}
	return c.JSON(status, errorResponse{Error: message})
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeDatabase:
		return http.StatusInternalServerError
	case stats.CodeCanceled:
		return statusClientClosedRequest
	}

	if errors.IsRetryable(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func validLogin(username string) bool {
	return loginPattern.MatchString(username) && !strings.Contains(username, "--")
}
