// Package watch drives repeated sync passes: once at startup, after local
// edits settle, and on a fixed poll interval for remote changes. Triggers
// that arrive while a pass is running are coalesced into a single follow-up
// pass.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is the quiet period after the last local event
	// before a pass starts.
	DefaultDebounce = 2 * time.Second

	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// PassFunc runs one sync pass. reason is a short label for logs.
type PassFunc func(ctx context.Context, reason string) error

// FsWatcher is the subset of *fsnotify.Watcher the scheduler uses.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Config holds the scheduler settings.
type Config struct {
	// Root is the vault directory to watch.
	Root string
	// PollInterval triggers a pass periodically; zero disables polling.
	PollInterval time.Duration
	// Debounce is the quiet period after local events; zero means
	// DefaultDebounce.
	Debounce time.Duration
	// StopOn reports whether a pass error should end Run. Nil means no
	// error is fatal.
	StopOn func(error) bool
}

// Scheduler decides when to run passes.
type Scheduler struct {
	cfg    Config
	pass   PassFunc
	logger *slog.Logger

	watcherFactory func() (FsWatcher, error)
	sleepFunc      func(ctx context.Context, d time.Duration) error
}

// New returns a Scheduler for cfg.
func New(cfg Config, pass PassFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Scheduler{
		cfg:            cfg,
		pass:           pass,
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		sleepFunc:      sleepCtx,
	}
}

// Run watches until ctx is canceled or a pass fails with an error StopOn
// accepts. A pass in flight when ctx is canceled is waited for. Run returns
// nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	watcher, err := s.watcherFactory()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.addTree(watcher, s.cfg.Root); err != nil {
		return err
	}

	s.logger.Info("watching vault",
		slog.String("root", s.cfg.Root),
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Duration("debounce", s.cfg.Debounce),
	)

	var pollC <-chan time.Time

	if s.cfg.PollInterval > 0 {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		pollC = ticker.C
	}

	debounce := time.NewTimer(s.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	timerActive := false

	loop := passLoop{s: s, done: make(chan error, 1)}
	loop.start(ctx, "startup")

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			loop.wait()
			s.logger.Info("watch stopped")

			return nil

		case passErr := <-loop.done:
			loop.running = false

			if passErr != nil && s.cfg.StopOn != nil && s.cfg.StopOn(passErr) {
				return fmt.Errorf("watch: stopping: %w", passErr)
			}

			if loop.dirty {
				loop.dirty = false
				loop.start(ctx, "changes during pass")
			}

		case ev, ok := <-watcher.Events():
			if !ok {
				loop.wait()
				return nil
			}

			if !s.handleEvent(watcher, ev) {
				continue
			}

			if !debounce.Stop() && timerActive {
				<-debounce.C
			}

			debounce.Reset(s.cfg.Debounce)
			timerActive = true
			errBackoff = watchErrInitBackoff

		case <-debounce.C:
			timerActive = false
			loop.trigger(ctx, "local change")

		case <-pollC:
			loop.trigger(ctx, "poll")

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				loop.wait()
				return nil
			}

			s.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// A burst of errors (queue overflow) means events were lost.
			loop.trigger(ctx, "watcher error")

			if sleepErr := s.sleepFunc(ctx, errBackoff); sleepErr != nil {
				continue
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// passLoop tracks the single in-flight pass. Only the Run goroutine touches
// running and dirty.
type passLoop struct {
	s       *Scheduler
	done    chan error
	running bool
	dirty   bool
}

func (l *passLoop) start(ctx context.Context, reason string) {
	l.running = true

	go func() {
		l.done <- l.s.runPass(ctx, reason)
	}()
}

// trigger starts a pass, or marks one as owed if a pass is running.
func (l *passLoop) trigger(ctx context.Context, reason string) {
	if l.running {
		if !l.dirty {
			l.s.logger.Debug("pass running, coalescing trigger", slog.String("reason", reason))
		}

		l.dirty = true

		return
	}

	l.start(ctx, reason)
}

func (l *passLoop) wait() {
	if l.running {
		<-l.done
		l.running = false
	}
}

func (s *Scheduler) runPass(ctx context.Context, reason string) error {
	if ctx.Err() != nil {
		return nil
	}

	s.logger.Debug("starting pass", slog.String("reason", reason))

	err := s.pass(ctx, reason)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		s.logger.Error("pass failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}

	return err
}

// handleEvent registers newly created folders and reports whether ev
// should schedule a pass.
func (s *Scheduler) handleEvent(watcher FsWatcher, ev fsnotify.Event) bool {
	// Chmod-only events carry no content change.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	rel, err := filepath.Rel(s.cfg.Root, ev.Name)
	if err != nil || isHidden(filepath.ToSlash(rel)) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if err := s.addTree(watcher, ev.Name); err != nil {
			s.logger.Warn("could not watch new folder",
				slog.String("path", ev.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Debug("local event",
		slog.String("path", rel),
		slog.String("op", ev.Op.String()),
	)

	return true
}

// addTree adds dir and every non-hidden folder below it to watcher. A path
// that is not a folder is ignored.
func (s *Scheduler) addTree(watcher FsWatcher, dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir {
				return fmt.Errorf("watch: %w", walkErr)
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}

		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch: adding %s: %w", p, err)
		}

		return nil
	})

	if errors.Is(err, fs.ErrNotExist) && dir != s.cfg.Root {
		return nil
	}

	return err
}

// isHidden reports whether any segment of the slash path rel starts with a
// dot. Partial downloads and the host application's config folder are
// hidden.
func isHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}

	return false
}

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
