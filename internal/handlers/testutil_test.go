package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deathlist/backend/internal/directory"
	"github.com/deathlist/backend/internal/engine"
	"github.com/deathlist/backend/internal/middleware"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/internal/services"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/deathlist/backend/pkg/utils"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type testEnv struct {
	app        *fiber.App
	db         *gorm.DB
	engine     *engine.Engine
	invites    *services.InviteService
	activity   *services.ActivityLog
	reconciler *engine.Reconciler
	directory  *stubDirectory
}

var testSetupOnce sync.Once

// stubDirectory serves canned people so handler tests never reach the
// network.
type stubDirectory struct {
	mu     sync.Mutex
	people map[string]directory.Person
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{people: map[string]directory.Person{}}
}

func (s *stubDirectory) put(p directory.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[p.ExternalID] = p
}

func (s *stubDirectory) Search(_ context.Context, query, _ string) ([]directory.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []directory.Person
	for _, p := range s.people {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			results = append(results, p)
		}
	}
	return results, nil
}

func (s *stubDirectory) Lookup(_ context.Context, externalID string) (directory.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.people[externalID]
	if !ok {
		return directory.Person{}, directory.ErrPersonNotFound
	}
	return p, nil
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
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

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.Selection{},
		&models.Invite{},
		&models.GroupActivity{},
		&models.ReconcileRun{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	activityLog := services.NewActivityLog(db)
	inviteService := services.NewInviteService(db, 7*24*time.Hour)
	eng := engine.New(db, activityLog, inviteService)
	scorer := engine.ConfigScorer{Base: 10, YoungAgeLimit: 60, YoungBonus: 5}
	dir := newStubDirectory()
	reconciler := engine.NewReconciler(db, dir, scorer, activityLog, nil, 2)

	authHandler := NewAuthHandler(db)
	groupsHandler := NewGroupsHandler(db, eng, activityLog)
	listsHandler := NewListsHandler(db, eng)
	invitesHandler := NewInvitesHandler(db, eng, inviteService, "http://localhost:3001")
	peopleHandler := NewPeopleHandler(dir, "en")
	adminHandler := NewAdminHandler(db, eng, reconciler, nil)
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

	return &testEnv{
		app:        app,
		db:         db,
		engine:     eng,
		invites:    inviteService,
		activity:   activityLog,
		reconciler: reconciler,
		directory:  dir,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Test User",
		Role:         role,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestGroup(t *testing.T, env *testEnv, creatorID uuid.UUID, maxSelections int) *models.Group {
	t.Helper()

	group, err := env.engine.CreateGroup(engine.CreateGroupInput{
		Name:          "Test Pool",
		Description:   "office pool",
		MaxSelections: maxSelections,
		Deadline:      time.Now().UTC().Add(24 * time.Hour),
		CreatorID:     creatorID,
	})
	if err != nil {
		t.Fatalf("failed creating test group: %v", err)
	}
	return group
}

func joinTestGroup(t *testing.T, env *testEnv, groupID, adminID, userID uuid.UUID) *models.Membership {
	t.Helper()

	invite, err := env.invites.Generate(groupID, adminID)
	if err != nil {
		t.Fatalf("failed generating invite: %v", err)
	}

	membership, err := env.engine.JoinGroup(groupID, userID, invite.Token)
	if err != nil {
		t.Fatalf("failed joining group: %v", err)
	}
	return membership
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
