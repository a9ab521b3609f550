package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/ai-check-api/internal/observability"
)

// ObservedPrefixes are the path prefixes Observability records by default.
var ObservedPrefixes = []string{"/api/v1/ai-check"}

const unmatchedRoute = "unmatched"

// Observability records request metrics and one access log line for requests under the
// given prefixes, or ObservedPrefixes when none are given.
func Observability(logger zerolog.Logger, prefixes ...string) fiber.Handler {
	observability.RegisterMetrics()
	if len(prefixes) == 0 {
		prefixes = ObservedPrefixes
	}

	return func(c *fiber.Ctx) error {
		if !hasAnyPrefix(c.Path(), prefixes) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := responseStatus(c, err)
		route := routeLabel(c, status)
		method := c.Method()
		statusLabel := strconv.Itoa(status)

		observability.APIRequests().WithLabelValues(method, route, statusLabel).Inc()
		observability.APILatency().WithLabelValues(method, route).Observe(duration.Seconds())
		if status >= fiber.StatusBadRequest {
			observability.APIErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		event := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error().Err(err)
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		}
		event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", method).
			Str("route", route).
			Int("status", status).
			Dur("latency", duration).
			Msg("ai check request")

		return err
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// responseStatus reports the status the error handler will send when a handler
// returned an error instead of writing a response.
func responseStatus(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	if err != nil {
		return fiber.StatusInternalServerError
	}
	return c.Response().StatusCode()
}

// routeLabel keeps metric cardinality bounded: unknown paths share one label.
func routeLabel(c *fiber.Ctx, status int) string {
	route := c.Route()
	if route == nil || route.Path == "" || (status == fiber.StatusNotFound && route.Path == "/") {
		return unmatchedRoute
	}
	return route.Path
}
