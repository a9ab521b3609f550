package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ai-check-api/internal/utils"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Details map[string]string      `json:"details"`
}

func TestResponseEnvelopes(t *testing.T) {
	cases := []struct {
		name    string
		handler fiber.Handler
		status  int
		check   func(t *testing.T, body envelope)
	}{
		{
			name: "degraded health keeps success envelope",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, fiber.StatusServiceUnavailable, "service degraded", map[string]string{"status": "degraded"})
			},
			status: fiber.StatusServiceUnavailable,
			check: func(t *testing.T, body envelope) {
				require.True(t, body.Success)
				require.Equal(t, "degraded", body.Data["status"])
			},
		},
		{
			name: "empty message defaults",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccess(c, "", nil)
			},
			status: fiber.StatusOK,
			check: func(t *testing.T, body envelope) {
				require.Equal(t, "success", body.Message)
				require.Nil(t, body.Data)
			},
		},
		{
			name: "activity page carries pagination meta",
			handler: func(c *fiber.Ctx) error {
				return utils.OK(c, map[string]string{"action": "ai_check.triggered"}, "activity logs", map[string]int{"page": 2, "total_items": 30})
			},
			status: fiber.StatusOK,
			check: func(t *testing.T, body envelope) {
				require.Equal(t, "activity logs", body.Message)
				require.Equal(t, float64(2), body.Meta["page"])
				require.Equal(t, float64(30), body.Meta["total_items"])
			},
		},
		{
			name: "settings validation lists failing fields",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusUnprocessableEntity, "invalid settings", map[string]string{"gradingmode": "oneof"})
			},
			status: fiber.StatusUnprocessableEntity,
			check: func(t *testing.T, body envelope) {
				require.False(t, body.Success)
				require.Equal(t, "oneof", body.Details["gradingmode"])
				require.Nil(t, body.Data)
			},
		},
		{
			name: "zero status falls back to 500",
			handler: func(c *fiber.Ctx) error {
				return utils.SendError(c, 0, "")
			},
			status: fiber.StatusInternalServerError,
			check: func(t *testing.T, body envelope) {
				require.False(t, body.Success)
				require.Equal(t, "error", body.Message)
				require.Nil(t, body.Details)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tc.handler)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			var body envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			tc.check(t, body)
		})
	}
}
