package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nasvault/backend/internal/config"
	"github.com/nasvault/backend/internal/database"
	"github.com/nasvault/backend/internal/handlers"
	"github.com/nasvault/backend/internal/middleware"
	"github.com/nasvault/backend/internal/services"
	"github.com/nasvault/backend/internal/storage"
	"github.com/nasvault/backend/pkg/logger"
	"github.com/nasvault/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	tree, err := storage.New(cfg.Storage.BaseDir)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	var store services.Store
	if cfg.Shares.Store == "json" {
		store = services.NewJSONStore(cfg.Shares.JSONPath)
	} else {
		store = services.NewGormStore(db)
	}
	registry, err := services.NewRegistry(store)
	if err != nil {
		log.Fatalf("share registry initialization failed: %v", err)
	}

	authHandler := handlers.NewAuthHandler(db)
	usersHandler := handlers.NewUsersHandler(db, tree, registry)
	filesHandler := handlers.NewFilesHandler(db, tree, registry)
	sharesHandler := handlers.NewSharesHandler(tree, registry)
	networkHandler := handlers.NewNetworkHandler(tree, registry)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

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

	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Shares.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				registry.CleanupMissing(tree.Exists)
			case <-sweepDone:
				return
			}
		}
	}()

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":        cfg.Server.Port,
		"address":     listenAddr,
		"storage_dir": tree.BaseDir(),
		"share_store": cfg.Shares.Store,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		close(sweepDone)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
