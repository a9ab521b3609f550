package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ai-check-api/internal/config"
	"github.com/noah-isme/ai-check-api/internal/dto"
	"github.com/noah-isme/ai-check-api/internal/handler"
	"github.com/noah-isme/ai-check-api/internal/middleware"
	"github.com/noah-isme/ai-check-api/internal/router"
	"github.com/noah-isme/ai-check-api/internal/service"
)

const testSecret = "router-secret"

type stubDebugService struct{}

func (stubDebugService) Info(context.Context) (dto.DebugInfoResponse, error) {
	return dto.DebugInfoResponse{TableExists: true, RecordCount: 2, RecentRecords: []dto.GradingRecordResponse{}}, nil
}

type stubStatusService struct{}

func (stubStatusService) SubmissionStatus(_ context.Context, actor service.ActivityActor, submissionID uint) (dto.SubmissionStatusResponse, error) {
	if submissionID == 404 {
		return dto.SubmissionStatusResponse{}, service.ErrSubmissionNotFound
	}
	return dto.SubmissionStatusResponse{
		SubmissionID:         submissionID,
		State:                dto.SubmissionStateNotStarted,
		ManualTriggerAllowed: actor.Role == "admin",
	}, nil
}

type stubSessKeyService struct{}

func (stubSessKeyService) Issue(_ context.Context, userID uint) (string, time.Duration, error) {
	return "key-for-user", 2 * time.Hour, nil
}

func (stubSessKeyService) Validate(context.Context, uint, string) error {
	return nil
}

type stubTriggerService struct{}

func (stubTriggerService) Trigger(_ context.Context, actor service.ActivityActor, _ dto.ManualTriggerRequest) (dto.ManualTriggerResponse, error) {
	if actor.ID == 0 {
		return dto.ManualTriggerResponse{}, service.ErrNotLoggedIn
	}
	return dto.ManualTriggerResponse{Success: true, Message: service.TriggerSuccessMessage, SubmissionID: 42, AIRecordID: 1}, nil
}

func setupApp() *fiber.App {
	logger := zerolog.Nop()
	app := fiber.New()
	router.Register(app, config.Config{AppName: "AI Check Test"}, router.Dependencies{
		ManualTriggerHandler:  handler.NewManualTriggerHandler(stubTriggerService{}, logger),
		SessKeyHandler:        handler.NewSessKeyHandler(stubSessKeyService{}, logger),
		StatusHandler:         handler.NewStatusHandler(stubStatusService{}, logger),
		DebugHandler:          handler.NewDebugHandler(stubDebugService{}, logger),
		JWTMiddleware:         middleware.JWTProtected(testSecret),
		OptionalJWTMiddleware: middleware.JWTOptional(testSecret),
		TriggerRateLimit:      2,
		TriggerRateWindow:     time.Minute,
	})
	return app
}

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, app *fiber.App, method, path, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	resp := do(t, setupApp(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "AI Check Test", resp.Header.Get("X-Application"))
}

func TestDebugRequiresAdmin(t *testing.T) {
	app := setupApp()

	require.Equal(t, http.StatusUnauthorized, do(t, app, http.MethodGet, "/api/v1/ai-check/debug", "").StatusCode)
	require.Equal(t, http.StatusForbidden, do(t, app, http.MethodGet, "/api/v1/ai-check/debug", bearer(t, "3", "teacher")).StatusCode)
	require.Equal(t, http.StatusOK, do(t, app, http.MethodGet, "/api/v1/ai-check/debug", bearer(t, "1", "admin")).StatusCode)
}

func TestStatusRoute(t *testing.T) {
	app := setupApp()

	resp := do(t, app, http.MethodGet, "/api/v1/ai-check/submissions/42/status", bearer(t, "1", "admin"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Data dto.SubmissionStatusResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, uint(42), payload.Data.SubmissionID)
	require.True(t, payload.Data.ManualTriggerAllowed)

	missing := do(t, app, http.MethodGet, "/api/v1/ai-check/submissions/404/status", bearer(t, "1", "admin"))
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSessKeyRoute(t *testing.T) {
	app := setupApp()

	require.Equal(t, http.StatusUnauthorized, do(t, app, http.MethodGet, "/api/v1/ai-check/sesskey", "").StatusCode)

	resp := do(t, app, http.MethodGet, "/api/v1/ai-check/sesskey", bearer(t, "1", "admin"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Data dto.SessKeyResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "key-for-user", payload.Data.SessKey)
	require.Equal(t, int64(7200), payload.Data.ExpiresIn)
}

func TestTriggerAnswersAnonymousCallerInItsOwnFormat(t *testing.T) {
	resp := do(t, setupApp(), http.MethodPost, "/api/v1/ai-check/trigger", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload dto.ManualTriggerError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "User not logged in.", payload.Error)
}

func TestTriggerIsRateLimited(t *testing.T) {
	app := setupApp()
	token := bearer(t, "1", "admin")

	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/v1/ai-check/trigger", token).StatusCode)
	require.Equal(t, http.StatusOK, do(t, app, http.MethodPost, "/api/v1/ai-check/trigger", token).StatusCode)
	require.Equal(t, http.StatusTooManyRequests, do(t, app, http.MethodPost, "/api/v1/ai-check/trigger", token).StatusCode)
}
