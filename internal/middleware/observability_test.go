package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ai-check-api/internal/observability"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestObservabilityCountsReturnedErrors(t *testing.T) {
	var logs bytes.Buffer
	app := fiber.New()
	app.Use(Observability(zerolog.New(&logs)))
	app.Get("/api/v1/ai-check/observed/:id", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "busy")
	})

	errorCounter := observability.APIErrors().WithLabelValues(http.MethodGet, "/api/v1/ai-check/observed/:id", "409")
	before := counterValue(t, errorCounter)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/ai-check/observed/7", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	require.Equal(t, before+1, counterValue(t, errorCounter))
	require.Contains(t, logs.String(), `"route":"/api/v1/ai-check/observed/:id"`)
	require.Contains(t, logs.String(), `"status":409`)
}

func TestObservabilitySkipsOtherPrefixes(t *testing.T) {
	var logs bytes.Buffer
	app := fiber.New()
	app.Use(Observability(zerolog.New(&logs), "/api/v1/ai-check/only"))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	requests := observability.APIRequests().WithLabelValues(http.MethodGet, "/healthz", "200")
	before := counterValue(t, requests)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Equal(t, before, counterValue(t, requests))
	require.Empty(t, logs.String())
}

func TestResponseStatusPrefersReturnedError(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, fiber.StatusTeapot, responseStatus(c, fiber.ErrTeapot))
		require.Equal(t, fiber.StatusInternalServerError, responseStatus(c, bytes.ErrTooLarge))
		c.Status(fiber.StatusAccepted)
		require.Equal(t, fiber.StatusAccepted, responseStatus(c, nil))
		return nil
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
}
