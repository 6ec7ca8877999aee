package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deathlist/backend/internal/directory"
	"github.com/deathlist/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeDirectory struct {
	mu      sync.Mutex
	people  map[string]directory.Person
	failing map[string]bool
	lookups int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		people:  map[string]directory.Person{},
		failing: map[string]bool{},
	}
}

func (f *fakeDirectory) Search(_ context.Context, _, _ string) ([]directory.Person, error) {
	return nil, nil
}

func (f *fakeDirectory) Lookup(_ context.Context, externalID string) (directory.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++

	if f.failing[externalID] {
		return directory.Person{}, errors.New("upstream unavailable")
	}
	person, ok := f.people[externalID]
	if !ok {
		return directory.Person{}, directory.ErrPersonNotFound
	}
	return person, nil
}

func (f *fakeDirectory) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

type capturingReportStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (c *capturingReportStore) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objects == nil {
		c.objects = map[string]string{}
	}
	c.objects[objectName] = string(raw)
	return nil
}

func seedActiveGroup(t *testing.T, db *gorm.DB, creatorID uuid.UUID, picks ...string) (*models.Group, *models.Membership) {
	t.Helper()

	group := &models.Group{
		Name:          "Running Pool",
		Description:   "sealed",
		Status:        models.GroupStatusActive,
		Deadline:      time.Now().UTC().Add(-time.Hour),
		MaxSelections: 10,
		CreatedByID:   creatorID,
	}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed creating group: %v", err)
	}

	membership := &models.Membership{
		GroupID:  group.ID,
		UserID:   creatorID,
		Role:     models.MembershipRoleAdmin,
		JoinedAt: time.Now().UTC(),
	}
	if err := db.Create(membership).Error; err != nil {
		t.Fatalf("failed creating membership: %v", err)
	}

	for i, externalID := range picks {
		selection := &models.Selection{
			MembershipID: membership.ID,
			ExternalID:   externalID,
			Name:         fmt.Sprintf("Person %s", externalID),
			Descriptor:   "public figure",
			Status:       models.SelectionStatusAlive,
			Position:     i,
		}
		if err := db.Create(selection).Error; err != nil {
			t.Fatalf("failed creating selection: %v", err)
		}
	}

	return group, membership
}

func alive(name string) directory.Person {
	return directory.Person{ExternalID: name, Name: name}
}

func deceased(name string, age int) directory.Person {
	return directory.Person{ExternalID: name, Name: name, Deceased: true, Age: &age}
}

func TestReconcilerRun(t *testing.T) {
	_, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	user := createUser(t, db, "admin")
	group, membership := seedActiveGroup(t, db, user.ID, "Q1", "Q2", "Q3")

	dir := newFakeDirectory()
	dir.people["Q1"] = alive("Q1")
	dir.people["Q2"] = deceased("Q2", 85)
	dir.people["Q3"] = deceased("Q3", 40)

	scorer := ConfigScorer{Base: 10, YoungAgeLimit: 60, YoungBonus: 5}
	reconciler := NewReconciler(db, dir, scorer, sink, nil, 2)

	run, err := reconciler.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.Status != models.ReconcileRunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.GroupsProcessed != 1 || run.SelectionsChecked != 3 || run.Deceased != 2 || run.Failures != 0 {
		t.Fatalf("unexpected run counters: %+v", run)
	}

	var updated models.Membership
	if err := db.First(&updated, "id = ?", membership.ID).Error; err != nil {
		t.Fatalf("failed loading membership: %v", err)
	}
	// Q2: base 10. Q3: base 10 + young bonus 5.
	if updated.Points != 25 {
		t.Fatalf("expected 25 points, got %d", updated.Points)
	}

	var marked []models.Selection
	if err := db.Where("membership_id = ? AND status = ?", membership.ID, models.SelectionStatusDeceased).
		Find(&marked).Error; err != nil {
		t.Fatalf("failed loading selections: %v", err)
	}
	if len(marked) != 2 {
		t.Fatalf("expected 2 deceased selections, got %d", len(marked))
	}
	for _, s := range marked {
		if s.Age == nil {
			t.Fatalf("expected age recorded for %s", s.ExternalID)
		}
	}

	messages := sink.messages(group.ID)
	found := false
	for _, m := range messages {
		if strings.Contains(m, "2 selection(s) deceased") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deceased announcement in feed, got %v", messages)
	}
}

func TestReconcilerIdempotence(t *testing.T) {
	_, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	user := createUser(t, db, "admin")
	_, membership := seedActiveGroup(t, db, user.ID, "Q1", "Q2")

	dir := newFakeDirectory()
	dir.people["Q1"] = deceased("Q1", 70)
	dir.people["Q2"] = alive("Q2")

	scorer := ConfigScorer{Base: 10}
	reconciler := NewReconciler(db, dir, scorer, sink, nil, 1)

	if _, err := reconciler.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstLookups := dir.lookupCount()

	second, err := reconciler.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.Deceased != 0 {
		t.Fatalf("expected no new deaths on second run, got %d", second.Deceased)
	}
	// Q1 is already marked; only Q2 needs another lookup.
	if got := dir.lookupCount() - firstLookups; got != 1 {
		t.Fatalf("expected 1 lookup on second run, got %d", got)
	}

	var updated models.Membership
	if err := db.First(&updated, "id = ?", membership.ID).Error; err != nil {
		t.Fatalf("failed loading membership: %v", err)
	}
	if updated.Points != 10 {
		t.Fatalf("expected points unchanged at 10, got %d", updated.Points)
	}
}

func TestReconcilerPartialFailures(t *testing.T) {
	_, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	user := createUser(t, db, "admin")
	_, membership := seedActiveGroup(t, db, user.ID, "Q1", "Q2")

	dir := newFakeDirectory()
	dir.failing["Q1"] = true
	dir.people["Q2"] = deceased("Q2", 90)

	reconciler := NewReconciler(db, dir, ConfigScorer{Base: 10}, sink, nil, 1)

	run, err := reconciler.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.Status != models.ReconcileRunStatusPartial {
		t.Fatalf("expected partial status, got %s", run.Status)
	}
	if run.Failures != 1 || run.Deceased != 1 {
		t.Fatalf("unexpected counters: %+v", run)
	}

	// The failed lookup never blocks the rest of the group.
	var updated models.Membership
	if err := db.First(&updated, "id = ?", membership.ID).Error; err != nil {
		t.Fatalf("failed loading membership: %v", err)
	}
	if updated.Points != 10 {
		t.Fatalf("expected 10 points despite the failure, got %d", updated.Points)
	}
}

func TestReconcilerSkipsInactiveGroups(t *testing.T) {
	eng, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	user := createUser(t, db, "admin")
	draft := createGroup(t, eng, user.ID, 3)
	if _, err := eng.SubmitList(draft.ID, user.ID, []SelectionInput{pick("Q1", "A")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	dir := newFakeDirectory()
	dir.people["Q1"] = deceased("Q1", 50)

	reconciler := NewReconciler(db, dir, ConfigScorer{Base: 10}, sink, nil, 1)

	run, err := reconciler.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.GroupsProcessed != 0 || run.SelectionsChecked != 0 {
		t.Fatalf("expected draft group to be skipped, got %+v", run)
	}
	if dir.lookupCount() != 0 {
		t.Fatalf("expected no lookups, got %d", dir.lookupCount())
	}
}

func TestReconcilerSingleFlight(t *testing.T) {
	_, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	reconciler := NewReconciler(db, newFakeDirectory(), ConfigScorer{Base: 10}, sink, nil, 1)

	reconciler.mu.Lock()
	reconciler.running = true
	reconciler.mu.Unlock()

	if _, err := reconciler.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected already-running error, got %v", err)
	}
	if _, err := reconciler.Trigger(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected already-running error, got %v", err)
	}

	reconciler.mu.Lock()
	reconciler.running = false
	reconciler.mu.Unlock()

	if _, err := reconciler.Run(context.Background()); err != nil {
		t.Fatalf("expected run to work after release, got %v", err)
	}
}

func TestReconcilerReportExport(t *testing.T) {
	_, db, sink := setupEngine(t)
	if err := db.AutoMigrate(&models.ReconcileRun{}); err != nil {
		t.Fatalf("failed migrating run model: %v", err)
	}

	user := createUser(t, db, "admin")
	seedActiveGroup(t, db, user.ID, "Q1")

	dir := newFakeDirectory()
	dir.people["Q1"] = deceased("Q1", 65)

	store := &capturingReportStore{}
	reconciler := NewReconciler(db, dir, ConfigScorer{Base: 10}, sink, store, 1)

	run, err := reconciler.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedName := fmt.Sprintf("reconcile-runs/%s/%s.ndjson",
		run.StartedAt.Format("2006/01/02"), run.ID)

	store.mu.Lock()
	content, ok := store.objects[expectedName]
	store.mu.Unlock()
	if !ok {
		t.Fatalf("expected report object %q, got %v", expectedName, store.objects)
	}
	if !strings.Contains(content, run.ID.String()) {
		t.Fatalf("expected report to reference the run, got %q", content)
	}

	runs, err := reconciler.Runs(10)
	if err != nil {
		t.Fatalf("listing runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs))
	}

	status, err := reconciler.RunStatus(run.ID)
	if err != nil {
		t.Fatalf("run status failed: %v", err)
	}
	if status.Status != models.ReconcileRunStatusCompleted {
		t.Fatalf("expected completed, got %s", status.Status)
	}

	if _, err := reconciler.RunStatus(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found for unknown run, got %v", err)
	}
}
