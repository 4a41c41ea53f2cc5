package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/vaultsync/internal/pathmap"
	"github.com/tonimelisma/vaultsync/internal/syncstate"
)

// Reconciler runs sync passes. At most one pass runs at a time; a second
// concurrent RunSync is rejected with ErrSyncInProgress.
type Reconciler struct {
	local   LocalStore
	remote  RemoteStore
	state   *syncstate.Store
	folders *FolderResolver
	logger  *slog.Logger

	guard *semaphore.Weighted
	phase atomic.Int32

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewReconciler wires a Reconciler. The folder cache lives as long as the
// Reconciler.
func NewReconciler(local LocalStore, remote RemoteStore, state *syncstate.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		local:     local,
		remote:    remote,
		state:     state,
		folders:   NewFolderResolver(remote, logger),
		logger:    logger,
		guard:     semaphore.NewWeighted(1),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Phase returns the phase of the current or most recent pass.
func (r *Reconciler) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Reconciler) setPhase(p Phase) {
	r.phase.Store(int32(p))
}

// targetPlan is the collected view of one target.
type targetPlan struct {
	target Target
	paths  []string
	local  map[string]LocalEntry
	remote map[string]RemoteFile
}

// RunSync runs one pass over targets in order. Per-path failures are counted
// in Outcome.Errors and never abort the pass. A listing failure ends the pass
// in PhaseFailed; cancellation of ctx ends it in PhaseCancelled before the
// next path starts. In both cases the partial outcome is returned along with
// the error. Transfers already started run to completion.
func (r *Reconciler) RunSync(ctx context.Context, targets []Target, dir Direction, opts Options) (Outcome, error) {
	if !r.guard.TryAcquire(1) {
		return Outcome{Phase: r.Phase()}, ErrSyncInProgress
	}
	defer r.guard.Release(1)

	opts = opts.withDefaults()

	out := Outcome{
		PassID:  uuid.NewString(),
		Started: r.nowFunc(),
	}

	logger := r.logger.With(slog.String("pass_id", out.PassID))
	logger.Info("sync pass starting",
		slog.Int("targets", len(targets)),
		slog.String("direction", dir.String()),
		slog.String("conflict_policy", string(opts.ConflictPolicy)),
	)

	r.folders.BeginPass()
	r.setPhase(PhaseCollecting)

	plans, err := r.collect(ctx, targets, opts)
	if err != nil {
		if ctx.Err() != nil {
			return r.finish(&out, PhaseCancelled, logger), fmt.Errorf("sync: pass canceled: %w", ctx.Err())
		}

		logger.Error("collection failed", slog.String("error", err.Error()))

		return r.finish(&out, PhaseFailed, logger), err
	}

	r.setPhase(PhaseProcessing)

	total := 0
	for _, p := range plans {
		total += len(p.paths)
	}

	engine := NewTransferEngine(r.local, r.remote, r.folders, r.state, TransferConfig{
		InlineUploadLimit: opts.InlineUploadLimit,
		AutoCreateFolders: opts.AutoCreateFolders,
		Limiter:           NewBandwidthLimiter(opts.BandwidthLimit, logger),
		Log:               opts.Log,
	}, logger)

	// Transfers run detached from cancellation so an in-flight transfer
	// finishes and records its state.
	transferCtx := context.WithoutCancel(ctx)

	for _, plan := range plans {
		if ctx.Err() != nil {
			return r.finish(&out, PhaseCancelled, logger), fmt.Errorf("sync: pass canceled: %w", ctx.Err())
		}

		r.preCreateFolders(ctx, plan, dir, logger)

		for i, rel := range plan.paths {
			if ctx.Err() != nil {
				r.collectCreated(&out, plan.target)
				return r.finish(&out, PhaseCancelled, logger), fmt.Errorf("sync: pass canceled: %w", ctx.Err())
			}

			r.processPath(transferCtx, engine, plan, rel, dir, opts, &out, logger)

			if opts.Progress != nil {
				opts.Progress(ProgressEvent{
					Processed: out.Processed(),
					Total:     total,
					Label:     pathmap.Join(plan.target.BasePath, rel),
				})
			}

			if opts.Pace > 0 && i < len(plan.paths)-1 {
				// Cancellation during the pause is picked up at the top of the loop.
				_ = r.sleepFunc(ctx, opts.Pace)
			}
		}

		r.collectCreated(&out, plan.target)
	}

	if err := r.state.SetLastSync(transferCtx, r.nowFunc()); err != nil {
		logger.Warn("could not record last sync time", slog.String("error", err.Error()))
	}

	return r.finish(&out, PhaseCompleted, logger), nil
}

func (r *Reconciler) finish(out *Outcome, phase Phase, logger *slog.Logger) Outcome {
	r.setPhase(phase)

	out.Phase = phase
	out.Finished = r.nowFunc()

	logger.Info("sync pass finished",
		slog.String("phase", phase.String()),
		slog.Int("uploaded", out.Uploaded),
		slog.Int("downloaded", out.Downloaded),
		slog.Int("skipped", out.Skipped),
		slog.Int("conflicts", out.ConflictsResolved),
		slog.Int("errors", out.Errors),
		slog.Int("created_folders", len(out.CreatedFolderPaths)),
		slog.Duration("duration", out.Finished.Sub(out.Started)),
	)

	return *out
}

func (r *Reconciler) collectCreated(out *Outcome, t Target) {
	for _, p := range r.folders.DrainCreated(t.RootID) {
		out.CreatedFolderPaths = append(out.CreatedFolderPaths, pathmap.Join(t.BasePath, p))
	}
}

// collect lists both sides of every target, local and remote in parallel.
func (r *Reconciler) collect(ctx context.Context, targets []Target, opts Options) ([]*targetPlan, error) {
	plans := make([]*targetPlan, 0, len(targets))

	for _, t := range targets {
		t.BasePath = pathmap.Normalize(t.BasePath)

		var (
			localEntries []LocalEntry
			remoteFiles  []RemoteFile
		)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			entries, err := r.local.List(gctx, t.BasePath)
			if err != nil {
				return fmt.Errorf("sync: listing local %q: %w", t.BasePath, err)
			}

			localEntries = entries

			return nil
		})

		g.Go(func() error {
			files, err := r.walkRemote(gctx, t.RootID, opts.IncludeSubfolders, opts.MaxDepth)
			if err != nil {
				return err
			}

			remoteFiles = files

			return nil
		})

		if err := g.Wait(); err != nil {
			return nil, err
		}

		plan := buildPlan(t, localEntries, remoteFiles, opts)

		r.logger.Debug("target collected",
			slog.String("root_id", t.RootID),
			slog.String("base_path", t.BasePath),
			slog.Int("local", len(plan.local)),
			slog.Int("remote", len(plan.remote)),
			slog.Int("paths", len(plan.paths)),
		)

		plans = append(plans, plan)
	}

	return plans, nil
}

// buildPlan filters both listings and computes the sorted union of their
// target-relative paths.
func buildPlan(t Target, localEntries []LocalEntry, remoteFiles []RemoteFile, opts Options) *targetPlan {
	plan := &targetPlan{
		target: t,
		local:  make(map[string]LocalEntry),
		remote: make(map[string]RemoteFile),
	}

	union := mapset.NewThreadUnsafeSet[string]()

	for _, e := range localEntries {
		if e.Kind != KindFile {
			continue
		}

		e.Path = pathmap.Normalize(e.Path)
		rel := pathmap.Relative(e.Path, t.BasePath)

		if rel == e.Path && t.BasePath != "" {
			continue
		}

		depth := pathmap.Depth(rel)
		if depth > opts.MaxDepth || (!opts.IncludeSubfolders && depth > 1) {
			continue
		}

		if !opts.Filter.Eligible(e.Path) {
			continue
		}

		plan.local[rel] = e
		union.Add(rel)
	}

	for _, f := range remoteFiles {
		if f.Kind != KindFile || !opts.Filter.Eligible(pathmap.Join(t.BasePath, f.RelativePath)) {
			continue
		}

		plan.remote[f.RelativePath] = f
		union.Add(f.RelativePath)
	}

	plan.paths = union.ToSlice()
	slices.Sort(plan.paths)

	return plan
}

// preCreateFolders creates the remote folders that local-only uploads will
// need before any of them is transferred.
func (r *Reconciler) preCreateFolders(ctx context.Context, plan *targetPlan, dir Direction, logger *slog.Logger) {
	if dir == DownloadOnly {
		return
	}

	var uploads []string

	for _, rel := range plan.paths {
		if _, ok := plan.remote[rel]; ok {
			continue
		}

		uploads = append(uploads, rel)
	}

	if len(uploads) == 0 {
		return
	}

	if err := r.folders.PreCreateAll(ctx, uploads, plan.target.RootID); err != nil {
		logger.Warn("some remote folders could not be created",
			slog.String("root_id", plan.target.RootID),
			slog.String("error", err.Error()),
		)
	}
}

type action int

const (
	actSkip action = iota
	actUpload
	actDownload
)

// processPath decides and executes the action for one path and tallies
// exactly one counter.
func (r *Reconciler) processPath(
	ctx context.Context,
	engine *TransferEngine,
	plan *targetPlan,
	rel string,
	dir Direction,
	opts Options,
	out *Outcome,
	logger *slog.Logger,
) {
	localPath := pathmap.Join(plan.target.BasePath, rel)

	var (
		lp *LocalEntry
		rp *RemoteFile
	)

	if e, ok := plan.local[rel]; ok {
		lp = &e
	}

	if f, ok := plan.remote[rel]; ok {
		rp = &f
	}

	act, conflict, err := r.decide(ctx, localPath, lp, rp, dir, opts)
	if err == nil {
		switch act {
		case actSkip:
			out.Skipped++
			return
		case actUpload:
			err = engine.Upload(ctx, plan.target, *lp, rp)
		case actDownload:
			err = engine.Download(ctx, plan.target, *rp)
		}
	}

	if err != nil {
		out.Errors++

		logger.Error("path failed",
			slog.String("path", localPath),
			slog.String("error", err.Error()),
		)

		msg := "sync failed"
		if isAuthError(err) {
			msg = "sign-in required"
		}

		if opts.Log != nil {
			opts.Log(LogEvent{Level: slog.LevelError, Message: msg, Path: localPath, Err: err})
		}

		return
	}

	switch {
	case conflict:
		out.ConflictsResolved++
	case act == actUpload:
		out.Uploaded++
	default:
		out.Downloaded++
	}
}

// decide picks the action for one path. conflict reports that both sides
// changed and a winner was chosen.
func (r *Reconciler) decide(
	ctx context.Context,
	localPath string,
	lp *LocalEntry,
	rp *RemoteFile,
	dir Direction,
	opts Options,
) (action, bool, error) {
	if lp == nil {
		if dir == UploadOnly {
			return actSkip, false, nil
		}

		st, err := r.local.Stat(ctx, localPath)
		if err != nil {
			return actSkip, false, err
		}

		if st != nil {
			if st.Kind == KindFolder {
				return actSkip, false, fmt.Errorf("%w: %s is a folder", ErrLocalWrite, localPath)
			}

			prior := r.state.Get(localPath)
			if !NeedsDownload(localChanged(st, prior), remoteChanged(rp, prior), rp.ContentHash) {
				return actSkip, false, nil
			}
		}

		return actDownload, false, nil
	}

	prior := r.state.Get(localPath)
	kind := Classify(lp, rp, prior)
	localEdited := kind == NewLocal || kind == LocalChanged
	remoteEdited := kind == RemoteChanged

	switch {
	case NeedsUpload(localEdited, remoteEdited, rp != nil):
		if dir == DownloadOnly {
			return actSkip, false, nil
		}

		return actUpload, false, nil

	case remoteEdited:
		if dir == UploadOnly {
			return actSkip, false, nil
		}

		return actDownload, false, nil

	case kind == BothChanged:
		if WithinTolerance(lp.ModTime, rp.ModTime, opts.Tolerance) {
			return actSkip, false, nil
		}

		winner := ResolveConflict(lp.ModTime, rp.ModTime, opts.ConflictPolicy)

		switch dir {
		case UploadOnly:
			winner = WinnerLocal
		case DownloadOnly:
			winner = WinnerRemote
		}

		r.logger.Info("conflict resolved",
			slog.String("path", localPath),
			slog.String("winner", winner.String()),
			slog.Int64("local_mtime", lp.ModTime),
			slog.Int64("remote_mtime", rp.ModTime),
		)

		if winner == WinnerLocal {
			return actUpload, true, nil
		}

		return actDownload, true, nil

	default:
		return actSkip, false, nil
	}
}

// ClearCaches forgets every folder ID and all persisted file state. Rejected
// with ErrSyncInProgress while a pass runs.
func (r *Reconciler) ClearCaches(ctx context.Context) error {
	if !r.guard.TryAcquire(1) {
		return ErrSyncInProgress
	}
	defer r.guard.Release(1)

	r.folders.Reset()

	return r.state.Clear(ctx)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
