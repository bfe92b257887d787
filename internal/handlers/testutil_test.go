package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	tree     *storage.Tree
	registry *services.Registry
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.User{}, &models.FileShare{}, &models.FolderShare{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	tree, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed creating storage tree: %v", err)
	}

	registry, err := services.NewRegistry(services.NewGormStore(db))
	if err != nil {
		t.Fatalf("failed creating share registry: %v", err)
	}

	authHandler := NewAuthHandler(db)
	usersHandler := NewUsersHandler(db, tree, registry)
	filesHandler := NewFilesHandler(db, tree, registry)
	sharesHandler := NewSharesHandler(tree, registry)
	networkHandler := NewNetworkHandler(tree, registry)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 50 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/pending", usersHandler.Pending)
	userRoutes.Post("/", usersHandler.Create)
	userRoutes.Post("/:username/approve", usersHandler.Approve)
	userRoutes.Post("/:username/reject", usersHandler.Reject)
	userRoutes.Put("/:username", usersHandler.Update)
	userRoutes.Put("/:username/rename", usersHandler.Rename)
	userRoutes.Delete("/:username", usersHandler.Delete)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Post("/folder", filesHandler.CreateFolder)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/download", filesHandler.Download)
	fileRoutes.Get("/preview", filesHandler.Preview)
	fileRoutes.Post("/delete", filesHandler.Delete)
	fileRoutes.Post("/delete-bulk", filesHandler.BulkDelete)
	fileRoutes.Post("/move", filesHandler.Move)
	fileRoutes.Post("/rename", filesHandler.Rename)
	fileRoutes.Get("/usage", filesHandler.Usage)

	shareRoutes := api.Group("/shares", authMiddleware.RequireAuth)
	shareRoutes.Post("/file", sharesHandler.RequestFile)
	shareRoutes.Post("/folder", sharesHandler.RequestFolder)
	shareRoutes.Post("/bulk", sharesHandler.RequestBulk)
	shareRoutes.Get("/mine", sharesHandler.ListMine)
	shareRoutes.Get("/pending", middleware.AdminOnly, sharesHandler.Pending)
	shareRoutes.Post("/:id/approve", middleware.AdminOnly, sharesHandler.Approve)
	shareRoutes.Post("/:id/reject", middleware.AdminOnly, sharesHandler.Reject)
	shareRoutes.Delete("/:id", sharesHandler.Remove)

	networkRoutes := api.Group("/network", authMiddleware.RequireAuth)
	networkRoutes.Get("/", networkHandler.List)
	networkRoutes.Get("/folders/:id", networkHandler.Folder)
	networkRoutes.Get("/folders/:id/download", networkHandler.DownloadNested)
	networkRoutes.Get("/files/:id/download", networkHandler.Download)
	networkRoutes.Get("/files/:id/preview", networkHandler.Preview)

	return &testEnv{app: app, db: db, tree: tree, registry: registry}
}

func createTestUser(t *testing.T, env *testEnv, username, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Status:       models.UserStatusApproved,
	}
	if err := env.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	if err := env.tree.EnsureRoot(username); err != nil {
		t.Fatalf("failed creating storage root: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

type uploadSpec struct {
	relPath string
	content string
}

// uploadFiles performs a multipart upload. Each spec's relPath goes both
// into the part filename and into the ordered relativePaths field, the
// way browsers send folder uploads.
func uploadFiles(t *testing.T, env *testEnv, token, folder string, files []uploadSpec) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if folder != "" {
		if err := writer.WriteField("folder", folder); err != nil {
			t.Fatalf("failed writing folder field: %v", err)
		}
	}
	for _, spec := range files {
		part, err := writer.CreateFormFile("files", spec.relPath)
		if err != nil {
			t.Fatalf("failed creating form file: %v", err)
		}
		if _, err := part.Write([]byte(spec.content)); err != nil {
			t.Fatalf("failed writing form file: %v", err)
		}
		if err := writer.WriteField("relativePaths", spec.relPath); err != nil {
			t.Fatalf("failed writing relativePaths field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	headers := authHeaders(token)
	headers["Content-Type"] = writer.FormDataContentType()
	return performRequest(t, env.app, http.MethodPost, "/api/files/upload", &buf, headers)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body := decodeJSONMap(t, resp)
	if success, _ := body["success"].(bool); !success {
		t.Fatalf("expected success=true, got %+v", body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("data is not an object: %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
