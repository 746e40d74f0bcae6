// Package syncclient implements the client sync engine: the file
// watcher, offline queue, and poll-interval reconciliation loop, wired
// together behind a single Engine.
package syncclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/syncclient/reconciler"
	"github.com/vaultsync/vaultsync/internal/syncclient/state"
	"github.com/vaultsync/vaultsync/internal/syncclient/transport"
	"github.com/vaultsync/vaultsync/internal/syncclient/watcher"
)

// Engine owns the watcher goroutine, the offline queue, and the
// poll-interval reconciler ticker for one sync folder.
type Engine struct {
	cfg        config.ClientConfig
	clientID   string
	transport  *transport.Client
	state      *state.Store
	reconciler *reconciler.Reconciler
	watcher    *watcher.Watcher
	log        zerolog.Logger

	serverOnline bool
	paused       int32
}

// New wires a complete Engine from a ClientConfig.
func New(cfg config.ClientConfig, log zerolog.Logger) (*Engine, error) {
	st, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return nil, err
	}

	clientID := DeriveClientID(cfg.ClientName)
	t := transport.New(cfg.ServerURL, clientID)

	w, err := watcher.New(cfg.SyncFolder)
	if err != nil {
		st.Close()
		return nil, err
	}

	rec := reconciler.New(cfg.SyncFolder, clientID, t, st, log)
	rec.BeforeDownload = w.IgnoreFile
	rec.AfterDownload = w.UnignoreFile

	return &Engine{
		cfg:        cfg,
		clientID:   clientID,
		transport:  t,
		state:      st,
		reconciler: rec,
		watcher:    w,
		log:        log,
	}, nil
}

// DeriveClientID derives a stable client_id from a user-supplied name;
// it stays fixed for the lifetime of the client.
func DeriveClientID(name string) string {
	if name == "" {
		name = "anonymous"
	}
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:12]
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	_ = e.watcher.Close()
	return e.state.Close()
}

// Pause suspends both the watcher and the reconciler tick, for a running
// watch daemon signaled out-of-band by the pause subcommand.
func (e *Engine) Pause() {
	atomic.StoreInt32(&e.paused, 1)
	e.watcher.Pause()
	e.log.Info().Msg("sync paused")
}

// Resume reverses Pause.
func (e *Engine) Resume() {
	atomic.StoreInt32(&e.paused, 0)
	e.watcher.Resume()
	e.log.Info().Msg("sync resumed")
}

func (e *Engine) isPaused() bool {
	return atomic.LoadInt32(&e.paused) == 1
}

// Run drives the watcher-event loop and the poll-interval reconciler until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-e.watcher.Events():
			e.handleWatcherEvent(ev)

		case err := <-e.watcher.Errors():
			e.log.Warn().Err(err).Msg("watcher error")

		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// handleWatcherEvent only queues a delete event; the reconciler tick
// performs the actual DELETE.
func (e *Engine) handleWatcherEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventDelete:
		if err := e.state.QueueDeletion(ev.FileName); err != nil {
			e.log.Warn().Err(err).Str("file", ev.FileName).Msg("queueing deletion")
		}
	case watcher.EventAdd, watcher.EventChange:
		// No separate action: the reconciler's local->server pass
		// (step 5) picks up new/changed local files on its own scan,
		// serialized by pending_uploads so a fast double-write cannot
		// race itself.
	}

	if !e.serverOnline {
		_ = e.state.Enqueue(string(ev.Type), ev.Path, ev.FileName)
	}
}

func (e *Engine) tick(ctx context.Context) {
	if e.isPaused() {
		return
	}

	wasOnline := e.serverOnline
	err := e.transport.Health(ctx)
	e.serverOnline = err == nil

	if !wasOnline && e.serverOnline {
		e.log.Info().Msg("server back online; flushing offline queue")
		if err := e.flushOfflineQueue(ctx); err != nil {
			e.log.Warn().Err(err).Msg("flushing offline queue")
		}
	}
	if !e.serverOnline {
		e.log.Warn().Err(err).Msg("server unreachable; queueing only")
		return
	}

	if err := e.reconciler.Tick(ctx); err != nil {
		e.log.Warn().Err(err).Msg("reconciliation tick failed")
	}
}

// flushOfflineQueue replays queued events in a fixed order: renames first
// (none tracked explicitly here, as renames are detected structurally by
// the reconciler), then adds/changes, then deletions.
func (e *Engine) flushOfflineQueue(ctx context.Context) error {
	events, err := e.state.ListQueued()
	if err != nil {
		return err
	}

	order := map[string]int{"rename": 0, "add": 1, "change": 1, "delete": 2}
	sortByPhase(events, order)

	for _, qe := range events {
		if qe.EventType == "delete" {
			_ = e.state.QueueDeletion(qe.FileName)
		}
		_ = e.state.DequeueByID(qe.ID)
	}
	return nil
}

func sortByPhase(events []state.QueuedEvent, order map[string]int) {
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && order[events[j-1].EventType] > order[events[j].EventType] {
			events[j-1], events[j] = events[j], events[j-1]
			j--
		}
	}
}
