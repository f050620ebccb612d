package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanidx/internal/progress"
)

// InitialIndexingLabel labels the job of a full build.
const InitialIndexingLabel = "Initial indexing"

// UnindexedFilesUpdater is the gating task of a full build: it reconciles
// the tree with the stamp store, indexes every dirty file and records the
// index version. With reset it first drops the project's index.
type UnindexedFilesUpdater struct {
	h     *Handler
	reset bool
}

// NewUnindexedFilesUpdater creates the full-build task of h's project.
func NewUnindexedFilesUpdater(h *Handler, reset bool) *UnindexedFilesUpdater {
	return &UnindexedFilesUpdater{h: h, reset: reset}
}

func (u *UnindexedFilesUpdater) Perform(ctx context.Context, ind *progress.Indicator) error {
	h := u.h
	p := h.project

	if err := markIncomplete(p.DataDir); err != nil {
		return fmt.Errorf("failed to write build marker: %w", err)
	}

	if u.reset {
		ind.SetText("Dropping index")
		if err := u.dropIndex(ctx); err != nil {
			return err
		}
	}

	ind.SetIndeterminate(true)
	ind.SetText("Scanning files")
	res, err := h.scan(ctx)
	if err != nil {
		return err
	}
	slog.Info("initial_scan_completed",
		slog.String("project", p.Name),
		slog.Int("seen", res.Seen),
		slog.Int("dirty", res.Dirty),
		slog.Int("removed", res.Removed))

	job := h.newJob(h.deps.Tracker.FilesToUpdate(p.ID), h.deps.Tracker.FilesToRemove(p.ID), InitialIndexingLabel)
	if err := job.Perform(ctx, ind); err != nil {
		return err
	}

	if err := h.deps.Store.MarkIndexCurrent(ctx, p.ID, h.deps.Now()); err != nil {
		return fmt.Errorf("failed to record index version: %w", err)
	}
	return clearIncomplete(p.DataDir)
}

func (u *UnindexedFilesUpdater) dropIndex(ctx context.Context) error {
	h := u.h
	stamps, err := h.deps.Store.AllStamps(ctx, h.project.ID)
	if err != nil {
		return fmt.Errorf("failed to load stamps: %w", err)
	}
	paths := make([]string, 0, len(stamps))
	for path := range stamps {
		paths = append(paths, path)
	}
	if err := h.deps.Providers.Remove(ctx, h.project.ID, paths); err != nil {
		return fmt.Errorf("failed to drop provider data: %w", err)
	}
	if err := h.deps.Store.ResetProject(ctx, h.project.ID); err != nil {
		return err
	}
	h.deps.Tracker.Forget(h.project.ID)
	return nil
}

func (u *UnindexedFilesUpdater) String() string {
	return "UnindexedFilesUpdater{" + u.h.project.Name + "}"
}

// Key coalesces repeated full-build requests.
func (u *UnindexedFilesUpdater) Key() string {
	return u.h.project.ID + "/initial"
}
