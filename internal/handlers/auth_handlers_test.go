package handlers

import (
	"net/http"
	"testing"

	"github.com/nasvault/backend/internal/models"
)

func TestRegisterCreatesPendingAccount(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "newuser",
		"password": "secret123",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	data := dataMap(t, resp)
	if data["status"] != string(models.UserStatusPending) {
		t.Fatalf("status = %v, want pending", data["status"])
	}

	// a pending account cannot log in
	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "newuser",
		"password": "secret123",
	}, nil)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "secret123"},
		{"path characters", "../../etc", "secret123"},
		{"spaces", "a user", "secret123"},
		{"short password", "validname", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]string{
				"username": tc.username,
				"password": tc.password,
			}, nil)
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "taken", "secret123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "taken",
		"password": "secret123",
	}, nil)
	assertStatus(t, resp, http.StatusConflict)
}

func TestLoginAndMe(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "alice", "secret123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "secret123",
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	data := dataMap(t, resp)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("missing token in login response")
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	me := dataMap(t, resp)
	if me["username"] != "alice" {
		t.Fatalf("me = %+v", me)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "alice", "secret123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "ghost",
		"password": "secret123",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/files/", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/", nil, authHeaders("garbage"))
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestChangePassword(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env, "alice", "secret123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "newsecret",
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]string{
		"currentPassword": "secret123",
		"newPassword":     "newsecret",
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "newsecret",
	}, nil)
	assertStatus(t, resp, http.StatusOK)
}
