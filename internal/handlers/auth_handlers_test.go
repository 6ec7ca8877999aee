package handlers

import (
	"testing"

	"github.com/deathlist/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

func TestRegister(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("creates an account and returns a token", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", map[string]any{
			"email":       "New@Example.com",
			"password":    "correct-horse",
			"displayName": "Newbie",
		}, nil)
		assertStatus(t, resp, fiber.StatusCreated)

		body := decodeJSONMap(t, resp)
		data, _ := body["data"].(map[string]any)
		if token, _ := data["token"].(string); token == "" {
			t.Fatal("expected a token in the response")
		}
		user, _ := data["user"].(map[string]any)
		if got, _ := user["email"].(string); got != "new@example.com" {
			t.Fatalf("expected lowercased email, got %q", got)
		}
		if _, leaked := user["passwordHash"]; leaked {
			t.Fatal("password hash must never appear in responses")
		}
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		createTestUser(t, env.db, "taken@example.com", "password123", models.UserRoleUser)

		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", map[string]any{
			"email":       "taken@example.com",
			"password":    "password123",
			"displayName": "Copycat",
		}, nil)
		assertStatus(t, resp, fiber.StatusConflict)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "email already registered")
	})

	t.Run("rejects short passwords", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/register", map[string]any{
			"email":       "short@example.com",
			"password":    "short",
			"displayName": "Short",
		}, nil)
		assertStatus(t, resp, fiber.StatusBadRequest)
	})
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t)
	user, _ := createTestUser(t, env.db, "login@example.com", "password123", models.UserRoleUser)

	t.Run("valid credentials", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
			"email":    "login@example.com",
			"password": "password123",
		}, nil)
		assertStatus(t, resp, fiber.StatusOK)

		body := decodeJSONMap(t, resp)
		data, _ := body["data"].(map[string]any)
		if token, _ := data["token"].(string); token == "" {
			t.Fatal("expected a token")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
			"email":    "login@example.com",
			"password": "wrong",
		}, nil)
		assertStatus(t, resp, fiber.StatusUnauthorized)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid credentials")
	})

	t.Run("disabled account", func(t *testing.T) {
		if err := env.db.Model(&models.User{}).Where("id = ?", user.ID).
			Update("status", models.UserStatusDisabled).Error; err != nil {
			t.Fatalf("failed disabling user: %v", err)
		}
		t.Cleanup(func() {
			env.db.Model(&models.User{}).Where("id = ?", user.ID).
				Update("status", models.UserStatusActive)
		})

		resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
			"email":    "login@example.com",
			"password": "password123",
		}, nil)
		assertStatus(t, resp, fiber.StatusForbidden)
	})
}

func TestMeAndProfile(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "me@example.com", "password123", models.UserRoleUser)

	t.Run("requires auth", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodGet, "/api/auth/me", nil, nil)
		assertStatus(t, resp, fiber.StatusUnauthorized)
	})

	t.Run("returns the current account", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodGet, "/api/auth/me", nil, authHeaders(token))
		assertStatus(t, resp, fiber.StatusOK)

		body := decodeJSONMap(t, resp)
		data, _ := body["data"].(map[string]any)
		if got, _ := data["id"].(string); got != user.ID.String() {
			t.Fatalf("expected own id, got %q", got)
		}
	})

	t.Run("updates display name", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPut, "/api/auth/me", map[string]any{
			"displayName": "Renamed",
		}, authHeaders(token))
		assertStatus(t, resp, fiber.StatusOK)

		var stored models.User
		if err := env.db.First(&stored, "id = ?", user.ID).Error; err != nil {
			t.Fatalf("failed loading user: %v", err)
		}
		if stored.DisplayName != "Renamed" {
			t.Fatalf("expected display name updated, got %q", stored.DisplayName)
		}
	})

	t.Run("changes password with the current one", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPut, "/api/auth/password", map[string]any{
			"currentPassword": "password123",
			"newPassword":     "brand-new-secret",
		}, authHeaders(token))
		assertStatus(t, resp, fiber.StatusOK)

		resp = performJSONRequest(t, env.app, fiber.MethodPost, "/api/auth/login", map[string]any{
			"email":    "me@example.com",
			"password": "brand-new-secret",
		}, nil)
		assertStatus(t, resp, fiber.StatusOK)
	})

	t.Run("rejects a wrong current password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, fiber.MethodPut, "/api/auth/password", map[string]any{
			"currentPassword": "nope",
			"newPassword":     "whatever-else",
		}, authHeaders(token))
		assertStatus(t, resp, fiber.StatusUnauthorized)
	})
}
