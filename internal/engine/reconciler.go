package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/deathlist/backend/internal/directory"
	"github.com/deathlist/backend/internal/models"
	"github.com/deathlist/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"gorm.io/gorm"
)

// ReportStore receives the NDJSON run report after each batch. nil disables
// export; upload failures never fail the run.
type ReportStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// Reconciler runs the deceased-detection batch: for every active group it
// looks up each still-alive selection against the mortality source, marks
// reported deaths, and recomputes list points. Runs are idempotent; a run
// with no new deaths changes nothing.
type Reconciler struct {
	db         *gorm.DB
	dir        directory.Directory
	scorer     Scorer
	activity   ActivitySink
	reports    ReportStore
	maxWorkers int

	mu      sync.Mutex
	running bool
}

func NewReconciler(db *gorm.DB, dir directory.Directory, scorer Scorer, activity ActivitySink, reports ReportStore, maxWorkers int) *Reconciler {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Reconciler{
		db:         db,
		dir:        dir,
		scorer:     scorer,
		activity:   activity,
		reports:    reports,
		maxWorkers: maxWorkers,
	}
}

type groupOutcome struct {
	checked  int
	deceased int
	failures int
}

// Trigger starts a run in the background and returns its record immediately;
// callers poll RunStatus for completion. Only one run executes at a time.
func (r *Reconciler) Trigger(ctx context.Context) (*models.ReconcileRun, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	run := models.ReconcileRun{Status: models.ReconcileRunStatusRunning}
	if err := r.db.Create(&run).Error; err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return nil, err
	}

	go func() {
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		r.execute(ctx, &run)
	}()

	return &run, nil
}

// Run executes a batch synchronously. Used by the scheduler and by callers
// that want the completed record.
func (r *Reconciler) Run(ctx context.Context) (*models.ReconcileRun, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	run := models.ReconcileRun{Status: models.ReconcileRunStatusRunning}
	if err := r.db.Create(&run).Error; err != nil {
		return nil, err
	}

	r.execute(ctx, &run)
	return &run, nil
}

// RunStatus loads one run record by id.
func (r *Reconciler) RunStatus(runID uuid.UUID) (*models.ReconcileRun, error) {
	var run models.ReconcileRun
	if err := r.db.First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: run", ErrNotFound)
		}
		return nil, err
	}
	return &run, nil
}

// Runs lists the most recent run records, newest first.
func (r *Reconciler) Runs(limit int) ([]models.ReconcileRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ReconcileRun
	err := r.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// StartScheduler launches periodic runs until ctx is cancelled.
func (r *Reconciler) StartScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
					logger.Error("reconcile_scheduled_run_failed", err, nil)
				}
			}
		}
	}()

	logger.Info("reconcile_scheduler_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

func (r *Reconciler) execute(ctx context.Context, run *models.ReconcileRun) {
	var groupIDs []uuid.UUID
	if err := r.db.Model(&models.Group{}).
		Where("status = ?", models.GroupStatusActive).
		Pluck("id", &groupIDs).Error; err != nil {
		logger.Error("reconcile_group_list_failed", err, nil)
		r.finish(run, 0, groupOutcome{failures: 1})
		return
	}

	var (
		mu      sync.Mutex
		total   groupOutcome
		handled int
	)

	workers := pool.New().WithMaxGoroutines(r.maxWorkers).WithContext(ctx)
	for _, groupID := range groupIDs {
		id := groupID
		workers.Go(func(ctx context.Context) error {
			outcome := r.reconcileGroup(ctx, id)
			mu.Lock()
			handled++
			total.checked += outcome.checked
			total.deceased += outcome.deceased
			total.failures += outcome.failures
			mu.Unlock()
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		logger.Error("reconcile_pool_interrupted", err, nil)
	}

	r.finish(run, handled, total)
	r.exportReport(run)
}

// reconcileGroup processes one group inside its own transaction so an
// interrupted batch leaves each group either fully updated or untouched.
func (r *Reconciler) reconcileGroup(ctx context.Context, groupID uuid.UUID) groupOutcome {
	var outcome groupOutcome

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var memberships []models.Membership
		if err := tx.Preload("Selections").Where("group_id = ?", groupID).Find(&memberships).Error; err != nil {
			return err
		}

		for _, membership := range memberships {
			changed := false
			for i := range membership.Selections {
				selection := &membership.Selections[i]
				if selection.Status != models.SelectionStatusAlive {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}

				outcome.checked++
				person, err := r.dir.Lookup(ctx, selection.ExternalID)
				if err != nil {
					outcome.failures++
					logger.Warn("reconcile_lookup_failed", map[string]interface{}{
						"external_id": selection.ExternalID,
						"error":       err.Error(),
					})
					continue
				}
				if !person.Deceased {
					continue
				}

				updates := map[string]interface{}{"status": models.SelectionStatusDeceased}
				if person.Age != nil {
					updates["age"] = *person.Age
				}
				if err := tx.Model(selection).Updates(updates).Error; err != nil {
					return err
				}
				selection.Status = models.SelectionStatusDeceased
				if person.Age != nil {
					selection.Age = person.Age
				}
				outcome.deceased++
				changed = true
			}

			if changed {
				points := 0
				for _, selection := range membership.Selections {
					points += r.scorer.Score(selection)
				}
				if err := tx.Model(&models.Membership{}).
					Where("id = ?", membership.ID).
					Update("points", points).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		outcome.failures++
		logger.Error("reconcile_group_failed", err, map[string]interface{}{
			"group_id": groupID.String(),
		})
		return outcome
	}

	if outcome.deceased > 0 {
		r.activity.Append(groupID, fmt.Sprintf("Reconciliation marked %d selection(s) deceased", outcome.deceased))
	} else {
		r.activity.Append(groupID, "Reconciliation ran with no changes")
	}
	return outcome
}

func (r *Reconciler) finish(run *models.ReconcileRun, groups int, total groupOutcome) {
	status := models.ReconcileRunStatusCompleted
	if total.failures > 0 {
		status = models.ReconcileRunStatusPartial
	}

	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.GroupsProcessed = groups
	run.SelectionsChecked = total.checked
	run.Deceased = total.deceased
	run.Failures = total.failures

	if err := r.db.Model(&models.ReconcileRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":             status,
		"finished_at":        now,
		"groups_processed":   groups,
		"selections_checked": total.checked,
		"deceased":           total.deceased,
		"failures":           total.failures,
	}).Error; err != nil {
		logger.Error("reconcile_run_update_failed", err, map[string]interface{}{
			"run_id": run.ID.String(),
		})
	}

	logger.Info("reconcile_run_finished", map[string]interface{}{
		"run_id":   run.ID.String(),
		"status":   string(status),
		"groups":   groups,
		"checked":  total.checked,
		"deceased": total.deceased,
		"failures": total.failures,
	})
}

func (r *Reconciler) exportReport(run *models.ReconcileRun) {
	if r.reports == nil {
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(run); err != nil {
		logger.Error("reconcile_report_encode_failed", err, nil)
		return
	}

	objectName := fmt.Sprintf("reconcile-runs/%s/%s.ndjson",
		run.StartedAt.Format("2006/01/02"),
		run.ID.String(),
	)

	if err := r.reports.Upload(
		context.Background(),
		objectName,
		&buf,
		int64(buf.Len()),
		"application/x-ndjson",
	); err != nil {
		logger.Error("reconcile_report_upload_failed", err, map[string]interface{}{
			"object_name": objectName,
		})
	}
}
