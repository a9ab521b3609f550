package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func correlationApp() *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})
	return app
}

func TestCorrelationIDReusesHostToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "moodle-req-42")

	resp, err := correlationApp().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "moodle-req-42", resp.Header.Get(CorrelationHeader))
}

func TestCorrelationIDReplacesUnsafeValues(t *testing.T) {
	for _, incoming := range []string{"line\nbreak", strings.Repeat("a", 65), "quote\"d"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationHeader, incoming)

		resp, err := correlationApp().Test(req, -1)
		require.NoError(t, err)
		got := resp.Header.Get(CorrelationHeader)
		require.NotEqual(t, incoming, got)
		require.Len(t, got, 36)
	}
}
