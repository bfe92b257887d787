package handlers

import (
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/nasvault/backend/internal/models"
)

func TestNetworkDownloadByID(t *testing.T) {
	env := setupTestEnv(t)
	alice, aliceToken := createTestUser(t, env, "alice", "secret123", models.UserRoleUser)
	_, bobToken := createTestUser(t, env, "bob", "secret123", models.UserRoleUser)

	resp := uploadFiles(t, env, aliceToken, "", []uploadSpec{{"report.pdf", "shared-bytes"}})
	assertStatus(t, resp, http.StatusCreated)
	entry, _ := env.registry.RequestFileShare(alice.Username, "report.pdf", "report.pdf", 12, "pdf")
	env.registry.Approve(entry.ID)

	// another authenticated user downloads via the share id
	resp = performRequest(t, env.app, http.MethodGet, "/api/network/files/"+entry.ID+"/download", nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "shared-bytes" {
		t.Fatalf("downloaded %q", body)
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/network/files/no-such-id/download", nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusNotFound)

	// preview serves the same bytes inline
	resp = performRequest(t, env.app, http.MethodGet, "/api/network/files/"+entry.ID+"/preview", nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); cd != `inline; filename="report.pdf"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	resp.Body.Close()
}

func TestNetworkFolderBrowsing(t *testing.T) {
	env := setupTestEnv(t)
	alice, aliceToken := createTestUser(t, env, "alice", "secret123", models.UserRoleUser)
	_, bobToken := createTestUser(t, env, "bob", "secret123", models.UserRoleUser)

	resp := uploadFiles(t, env, aliceToken, "media", []uploadSpec{
		{"clips/a.mp4", "v1"},
		{"top.txt", "t"},
	})
	assertStatus(t, resp, http.StatusCreated)
	resp = uploadFiles(t, env, aliceToken, "private", []uploadSpec{{"secret.txt", "s"}})
	assertStatus(t, resp, http.StatusCreated)

	entry, _ := env.registry.RequestFolderShare(alice.Username, "media", "media")
	env.registry.Approve(entry.ID)

	resp = performRequest(t, env.app, http.MethodGet, "/api/network/folders/"+entry.ID, nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusOK)
	data := dataMap(t, resp)
	listing := data["listing"].(map[string]any)
	if listing["totalFiles"].(float64) != 1 || len(listing["folders"].([]any)) != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	// browse into the subfolder
	resp = performRequest(t, env.app, http.MethodGet, "/api/network/folders/"+entry.ID+"?path=clips", nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusOK)

	// a subpath cannot climb out of the shared folder
	escape := "/api/network/folders/" + entry.ID + "?path=" + url.QueryEscape("../private")
	resp = performRequest(t, env.app, http.MethodGet, escape, nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusNotFound)

	// nested download
	nested := "/api/network/folders/" + entry.ID + "/download?path=" + url.QueryEscape("clips/a.mp4")
	resp = performRequest(t, env.app, http.MethodGet, nested, nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "v1" {
		t.Fatalf("nested download %q", body)
	}

	// nested escape denied the same way
	escapeDownload := "/api/network/folders/" + entry.ID + "/download?path=" + url.QueryEscape("../private/secret.txt")
	resp = performRequest(t, env.app, http.MethodGet, escapeDownload, nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusNotFound)
}

func TestNetworkSweepsStaleShares(t *testing.T) {
	env := setupTestEnv(t)
	alice, aliceToken := createTestUser(t, env, "alice", "secret123", models.UserRoleUser)

	resp := uploadFiles(t, env, aliceToken, "", []uploadSpec{{"gone.txt", "x"}})
	assertStatus(t, resp, http.StatusCreated)
	entry, _ := env.registry.RequestFileShare(alice.Username, "gone.txt", "gone.txt", 1, "text")
	env.registry.Approve(entry.ID)

	// delete the backing file directly, bypassing the cascade
	if _, err := env.tree.Delete(alice.Username, "gone.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	resp = performRequest(t, env.app, http.MethodGet, "/api/network/", nil, authHeaders(aliceToken))
	assertStatus(t, resp, http.StatusOK)
	data := dataMap(t, resp)
	if len(data["files"].([]any)) != 0 {
		t.Fatalf("stale share still listed: %+v", data)
	}
	if _, ok := env.registry.FileByID(entry.ID); ok {
		t.Fatal("stale share survived sweep")
	}
}

func TestNetworkRequiresAuth(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/network/", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}
