package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deathlist/backend/internal/config"
	"github.com/deathlist/backend/internal/database"
	"github.com/deathlist/backend/internal/directory"
	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/handlers"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/services"
	"github.com/deathlist/backend/internal/storage"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	var reportStorage *storage.MinIOClient
	if cfg.MinIO.Enabled {
		reportStorage, err = storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("minio initialization failed: %v", err)
		}
		if err := reportStorage.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring minio bucket: %v", err)
		}
	}

	dir := directory.NewWikidataClient(cfg.Directory)
	activityLog := services.NewActivityLog(db)
	inviteService := services.NewInviteService(db, cfg.Invites.TTL)

	eng := engine.New(db, activityLog, inviteService)
	scorer := engine.NewScorer(cfg.Scoring)

	var reports engine.ReportStore
	if reportStorage != nil {
		reports = reportStorage
	}
	reconciler := engine.NewReconciler(db, dir, scorer, activityLog, reports, cfg.Reconcile.MaxWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.AutoRun {
		reconciler.StartScheduler(ctx, cfg.Reconcile.Interval)
	}
	inviteService.StartPruner(ctx, cfg.Invites.PruneInterval)

	authHandler := handlers.NewAuthHandler(db)
	groupsHandler := handlers.NewGroupsHandler(db, eng, activityLog)
	listsHandler := handlers.NewListsHandler(db, eng)
	invitesHandler := handlers.NewInvitesHandler(db, eng, inviteService, cfg.Server.FrontendURL)
	peopleHandler := handlers.NewPeopleHandler(dir, cfg.Directory.Locale)
	adminHandler := handlers.NewAdminHandler(db, eng, reconciler, reportStorage)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1024 * 1024})
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
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	api.Get("/people/search", authMiddleware.RequireAuth, peopleHandler.Search)
	api.Get("/people/:externalId", authMiddleware.RequireAuth, peopleHandler.Get)

	groupRoutes := api.Group("/groups", authMiddleware.RequireAuth)
	groupRoutes.Post("/", groupsHandler.Create)
	groupRoutes.Get("/", groupsHandler.List)
	groupRoutes.Get("/:id", groupsHandler.Get)
	groupRoutes.Post("/:id/close", groupsHandler.Close)
	groupRoutes.Post("/:id/finalize", groupsHandler.Finalize)
	groupRoutes.Get("/:id/leaderboard", groupsHandler.Leaderboard)
	groupRoutes.Get("/:id/activity", groupsHandler.ActivityFeed)
	groupRoutes.Delete("/:id/members/:userId", groupsHandler.RemoveMember)
	groupRoutes.Post("/:id/members/:userId/promote", groupsHandler.PromoteMember)
	groupRoutes.Get("/:id/list", listsHandler.Get)
	groupRoutes.Put("/:id/list", listsHandler.Submit)
	groupRoutes.Post("/:id/list/selections", listsHandler.Add)
	groupRoutes.Delete("/:id/list/selections/:externalId", listsHandler.Remove)
	groupRoutes.Post("/:id/invites", invitesHandler.Create)
	groupRoutes.Get("/:id/invites", invitesHandler.List)
	groupRoutes.Delete("/:id/invites/:inviteId", invitesHandler.Revoke)

	api.Get("/invites/:token", authMiddleware.OptionalAuth, invitesHandler.Preview)
	api.Get("/invites/:token/qr", authMiddleware.OptionalAuth, invitesHandler.QR)
	api.Post("/invites/:token/join", authMiddleware.RequireAuth, invitesHandler.Join)

	adminRoutes := api.Group("/admin", authMiddleware.RequireAuth, middleware.AdminOnly)
	adminRoutes.Get("/users", adminHandler.ListUsers)
	adminRoutes.Put("/users/:id", adminHandler.UpdateUser)
	adminRoutes.Delete("/users/:id", adminHandler.DeleteUser)
	adminRoutes.Post("/groups/close-drafts", adminHandler.CloseAllDrafts)
	adminRoutes.Post("/reconcile", adminHandler.TriggerReconcile)
	adminRoutes.Get("/reconcile/runs", adminHandler.ReconcileRuns)
	adminRoutes.Get("/reconcile/runs/:id", adminHandler.ReconcileRun)
	adminRoutes.Get("/reconcile/runs/:id/report", adminHandler.ReconcileRunReport)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	select {
	case <-ctx.Done():
		log.Print("shutting down server")
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
