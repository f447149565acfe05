// Package mirror implements the one-way directory mirror daemon: a
// realtime watcher and a periodic reconciler converging on the same backup
// tree, with quarantine instead of deletion.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mirrorkit/mirrorkit/internal/config"
)

// Manager wires the workspace, watcher, dispatcher and reconciler and owns
// their lifecycle.
type Manager struct {
	cfg        *config.Config
	ws         *Workspace
	journal    *Journal
	ignore     *IgnoreList
	meta       *MetadataWriter
	ops        *Ops
	watcher    *FileWatcher
	dispatcher *Dispatcher
	reconciler *Reconciler
	wg         sync.WaitGroup
}

func NewManager(cfg *config.Config) *Manager {
	ws := NewWorkspace(cfg.SourceRoot, cfg.MirrorRoot)
	journal := NewJournal(ws.JournalPath())
	ignore := NewIgnoreList(cfg.SourceRoot)
	meta := NewMetadataWriter(cfg.SourceRoot, cfg.MirrorRoot)
	ops := NewOps(ws, NewPathLocker(), journal)
	watcher := NewFileWatcher(cfg.SourceRoot)
	dispatcher := NewDispatcher(ws, ops, meta, ignore)
	reconciler := NewReconciler(ws, ops, meta, ignore, cfg.SyncInterval, cfg.Checksum)

	return &Manager{
		cfg:        cfg,
		ws:         ws,
		journal:    journal,
		ignore:     ignore,
		meta:       meta,
		ops:        ops,
		watcher:    watcher,
		dispatcher: dispatcher,
		reconciler: reconciler,
	}
}

// Start prepares the mirror, runs one blocking full pass, then runs the
// watcher and the periodic reconciler until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}

	slog.Info("running initial sync")
	if _, err := m.reconciler.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("initial sync failed", "error", err)
	}

	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconciler.Loop(ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleWatcherEvents(ctx)
	}()

	return nil
}

// Wait blocks until ctx is cancelled, then tears everything down.
func (m *Manager) Wait(ctx context.Context) {
	<-ctx.Done()
	m.Stop()
}

// Stop shuts the watcher down, waits for the loops to drain and releases
// the mirror lock. An in-flight reconcile pass is not interrupted beyond
// context cancellation.
func (m *Manager) Stop() {
	slog.Info("mirror manager stop")
	m.watcher.Stop()
	m.wg.Wait()
	if err := m.journal.Close(); err != nil {
		slog.Warn("journal close", "error", err)
	}
	if err := m.ws.Close(); err != nil {
		slog.Warn("workspace close", "error", err)
	}
}

// RunOnce performs a single full reconcile pass and tears down. Used by the
// --once run mode; no watcher, no scheduler.
func (m *Manager) RunOnce(ctx context.Context) (*PassStats, error) {
	if err := m.setup(); err != nil {
		return nil, err
	}
	defer func() {
		if err := m.journal.Close(); err != nil {
			slog.Warn("journal close", "error", err)
		}
		if err := m.ws.Close(); err != nil {
			slog.Warn("workspace close", "error", err)
		}
	}()

	return m.reconciler.RunPass(ctx)
}

func (m *Manager) setup() error {
	if err := m.ws.Setup(); err != nil {
		return fmt.Errorf("setup mirror workspace: %w", err)
	}

	m.ignore.Load()

	// journal is best-effort; a broken journal must not stop the mirror
	if err := m.journal.Open(); err != nil {
		slog.Warn("journal unavailable, operations will not be recorded", "error", err)
	}

	// our own writes into the source root must not feed back into dispatch
	m.watcher.FilterPaths(func(absPath string) bool {
		rel, err := m.ws.RelPath(absPath)
		if err != nil || rel == "" || strings.HasPrefix(rel, "..") {
			return true
		}
		return m.ignore.ShouldIgnore(rel)
	})

	return nil
}

// handleWatcherEvents consumes the serial event stream. Each event owns its
// failure: an error is logged and the loop moves on.
func (m *Manager) handleWatcherEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events():
			if !ok {
				return
			}
			if err := m.dispatcher.HandleEvent(event.Event(), event.Path()); err != nil {
				slog.Error("event dispatch failed", "event", event.Event(), "path", event.Path(), "error", err)
			}
		}
	}
}
