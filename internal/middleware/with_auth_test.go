package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ai-check-api/internal/middleware"
)

// settingsApp mounts a guarded settings endpoint behind a fake identity binder.
func settingsApp(userID interface{}, role string, opts middleware.AuthOptions) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != nil {
			c.Locals("user_id", userID)
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Put("/assignments/7/settings", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, opts))
	return app
}

func TestWithAuthGuardsSettings(t *testing.T) {
	teacherOnly := middleware.AuthOptions{Role: middleware.AuthRoleTeacher}
	adminOnly := middleware.AuthOptions{Role: middleware.AuthRoleAdmin}

	cases := []struct {
		name    string
		userID  interface{}
		role    string
		opts    middleware.AuthOptions
		status  int
		message string
	}{
		{"teacher edits settings", uint(3), "teacher", teacherOnly, fiber.StatusNoContent, ""},
		{"admin counts as teacher", uint(1), " Admin ", teacherOnly, fiber.StatusNoContent, ""},
		{"student is forbidden", uint(9), "student", teacherOnly, fiber.StatusForbidden, "insufficient permissions"},
		{"teacher is not admin", uint(3), "teacher", adminOnly, fiber.StatusForbidden, "insufficient permissions"},
		{"anonymous needs login", nil, "", teacherOnly, fiber.StatusUnauthorized, "authentication required"},
		{"empty role means any user", uint(4), "student", middleware.AuthOptions{}, fiber.StatusNoContent, ""},
		{"any role still needs login", nil, "", middleware.AuthOptions{Role: middleware.AuthRoleAny}, fiber.StatusUnauthorized, "authentication required"},
		{"anonymous opt-in", nil, "", middleware.AuthOptions{Role: middleware.AuthRoleAny, AllowAnonymous: true}, fiber.StatusNoContent, ""},
		{"anonymous opt-in ignored for roles", nil, "", middleware.AuthOptions{Role: middleware.AuthRoleTeacher, AllowAnonymous: true}, fiber.StatusUnauthorized, "authentication required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/assignments/7/settings", nil)
			resp, err := settingsApp(tc.userID, tc.role, tc.opts).Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			if tc.message == "" {
				return
			}
			var body struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.False(t, body.Success)
			require.Equal(t, tc.message, body.Message)
		})
	}
}
