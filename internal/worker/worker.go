// Package worker drives one Download through the state machine of
// spec.md §4.5: resolve the parent item → pick a magnet for the
// requested quality → spawn a peer-client session → track progress →
// finalize or fail. Modeled per spec.md §9's re-architecture hint as a
// state struct plus a single-select loop over a typed event channel,
// rather than the source's closure-captured callback chain.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
	"torrentstream/internal/fsys"
	"torrentstream/internal/metrics"
)

// progressPushThreshold is the minimum progress delta, in percentage
// points, that triggers a coalesced store write for a download tick
// (spec.md §4.5 "progress has advanced ≥ 0.5 percentage points").
const progressPushThreshold = 0.5

// Worker runs a single Download to a terminal state. A fresh Worker is
// used per Download; it holds no state across calls to Run.
type Worker struct {
	logger    *slog.Logger
	items     ports.ItemRepository
	downloads ports.DownloadRepository
	client    domain.PeerClient
	root      string
}

// New builds a Worker. root is the filesystem layout's configured
// download directory (spec.md §4.2).
func New(logger *slog.Logger, items ports.ItemRepository, downloads ports.DownloadRepository, client domain.PeerClient, root string) *Worker {
	return &Worker{logger: logger, items: items, downloads: downloads, client: client, root: root}
}

// runState holds the two latches spec.md §4.5/§5 require explicitly, plus
// the wait group terminal transitions join before writing so a coalesced
// tick save can never land after a terminal save and revert it (P2/P3).
type runState struct {
	updatingModel      atomic.Bool
	updatedParentOnce  sync.Once
	lastPushedProgress float64
	lastPushedPeers    int
	wg                 sync.WaitGroup
}

// Run drives d to a terminal state (complete or failed), or returns early
// with no further writes if ctx is canceled or the session's event
// channel is closed. The queue closes it through Session.Remove when it
// stops the download or rebuilds the peer client after a fatal error, and
// writes d's new status itself in both cases.
//
// onHandle is invoked once a live domain.TorrentHandle exists for d, and
// onHandleGone once it no longer does, so the caller (internal/queue)
// can maintain its in-flight handle set for the streaming handler.
func (w *Worker) Run(ctx context.Context, d domain.Download, onHandle func(*domain.TorrentHandle), onHandleGone func()) {
	var state runState

	item, err := w.items.FindItem(ctx, d.ItemType, d.ID)
	if err != nil {
		w.failResolve(ctx, d, &state)
		return
	}
	option, ok := item.TorrentFor(d.Quality)
	if !ok {
		w.failResolve(ctx, d, &state)
		return
	}

	w.enterConnecting(ctx, &d)

	targetDir := fsys.DirFor(w.root, d.ID)
	session, err := w.client.Add(option.URL, targetDir)
	if err != nil {
		w.failNoPeers(ctx, d, nil, &state)
		return
	}

	handle := &domain.TorrentHandle{DownloadID: d.ID, Session: session, Completion: make(chan struct{})}
	if onHandle != nil {
		onHandle(handle)
	}
	defer func() {
		if onHandleGone != nil {
			onHandleGone()
		}
	}()

	file, err := session.SelectFile()
	if err != nil {
		w.logger.Warn("file selection failed", slog.String("id", string(d.ID)), slog.Any("error", err))
		w.failNoPeers(ctx, d, session, &state)
		return
	}
	handle.ChosenFile = file

	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case domain.DownloadEvent:
				w.onDownloadEvent(ctx, &d, e, first, &state)
				first = false
			case domain.NoPeersEvent:
				if e.Source == "dht" {
					w.failNoPeers(ctx, d, session, &state)
					return
				}
				w.logger.Info("non-dht noPeers event, ignoring", slog.String("id", string(d.ID)), slog.String("source", e.Source))
			case domain.DoneEvent:
				w.onDone(ctx, d, session, &state)
				return
			case domain.ErrorEvent:
				w.logger.Warn("session error event", slog.String("id", string(d.ID)), slog.Any("error", e.Err))
				w.failNoPeers(ctx, d, session, &state)
				return
			}
		}
	}
}

func (w *Worker) enterConnecting(ctx context.Context, d *domain.Download) {
	d.Status = domain.StatusConnecting
	d.Speed = nil
	d.TimeRemaining = nil
	d.NumPeers = nil
	w.saveDownload(ctx, *d)
	w.updateParent(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
		DownloadStatus: domain.StatusConnecting,
		Downloading:    true,
	})
}

func (w *Worker) onDownloadEvent(ctx context.Context, d *domain.Download, ev domain.DownloadEvent, first bool, state *runState) {
	if first {
		d.Status = domain.StatusDownloading
		applyEventFields(d, ev)
		w.saveDownload(ctx, *d)
		state.updatedParentOnce.Do(func() {
			w.updateParent(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
				DownloadStatus: domain.StatusDownloading,
				Downloading:    true,
			})
		})
		state.lastPushedProgress = d.Progress
		state.lastPushedPeers = ev.NumPeers
		return
	}

	progressAdvanced := ev.Progress-state.lastPushedProgress >= progressPushThreshold
	peersChanged := ev.NumPeers != state.lastPushedPeers
	if !progressAdvanced && !peersChanged {
		return
	}
	if !state.updatingModel.CompareAndSwap(false, true) {
		return // a write is already in flight; drop this tick
	}

	snapshot := *d
	applyEventFields(&snapshot, ev)
	state.lastPushedProgress = snapshot.Progress
	state.lastPushedPeers = ev.NumPeers
	*d = snapshot

	state.wg.Add(1)
	go func() {
		defer state.wg.Done()
		defer state.updatingModel.Store(false)
		w.saveDownload(ctx, snapshot)
	}()
}

func (w *Worker) onDone(ctx context.Context, d domain.Download, session domain.Session, state *runState) {
	// Wait for any in-flight coalesced tick save to finish before writing
	// the terminal record, or that tick could land after this save and
	// revert status/progress back to downloading/<100 (P2/P3).
	state.wg.Wait()

	metrics.DownloadOutcomesTotal.WithLabelValues(string(domain.StatusComplete)).Inc()
	d.Progress = 100
	d.Status = domain.StatusComplete
	d.Speed = nil
	d.TimeRemaining = nil
	d.NumPeers = nil
	w.saveDownload(ctx, d)

	now := time.Now()
	w.updateParent(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
		DownloadStatus:   domain.StatusComplete,
		Downloading:      false,
		DownloadComplete: true,
		DownloadedOn:     &now,
	})

	if err := session.Remove(); err != nil {
		w.logger.Warn("session remove after done failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
}

// failNoPeers implements the dht-noPeers / session-error failure path:
// terminal failed status, parent mirror, directory cleanup, and session
// teardown. session may be nil when the peer client's Add itself failed
// before a session existed.
func (w *Worker) failNoPeers(ctx context.Context, d domain.Download, session domain.Session, state *runState) {
	state.wg.Wait() // see onDone
	metrics.DownloadOutcomesTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	d.Status = domain.StatusFailed
	d.Speed = nil
	d.TimeRemaining = nil
	d.NumPeers = nil
	w.saveDownload(ctx, d)
	w.updateParent(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
		DownloadStatus: domain.StatusFailed,
		Downloading:    false,
	})

	CleanUp(ctx, w.logger, w.root, w.downloads, d)

	if session != nil {
		if err := session.Remove(); err != nil {
			w.logger.Warn("session remove after failure failed", slog.String("id", string(d.ID)), slog.Any("error", err))
		}
	}
}

// CleanUp removes d's download directory and its download record. It is
// the discrete, reusable form of the cleanup failNoPeers performs on a
// failed download, safe to call on unknown ids: both steps log and
// continue rather than propagate an error, since there is no caller left
// to hand a cleanup failure to once a download has already failed.
func CleanUp(ctx context.Context, logger *slog.Logger, root string, downloads ports.DownloadRepository, d domain.Download) {
	if err := fsys.RemoveDir(fsys.DirFor(root, d.ID)); err != nil {
		logger.Warn("cleanup directory removal failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
	if err := downloads.Delete(ctx, d.ID); err != nil {
		logger.Warn("cleanup record deletion failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
}

// failResolve implements the resolving-phase failure path: no item, or
// no magnet matching the requested quality. No handle exists yet, so
// there is nothing to clean up on disk.
func (w *Worker) failResolve(ctx context.Context, d domain.Download, state *runState) {
	state.wg.Wait() // see onDone
	metrics.DownloadOutcomesTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	d.Status = domain.StatusFailed
	w.saveDownload(ctx, d)
	w.updateParent(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
		DownloadStatus: domain.StatusFailed,
		Downloading:    false,
	})
}

func (w *Worker) saveDownload(ctx context.Context, d domain.Download) {
	d.UpdatedAt = time.Now()
	if err := w.downloads.Save(ctx, d); err != nil {
		w.logger.Error("download save failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
}

func (w *Worker) updateParent(ctx context.Context, itemType domain.ItemType, id domain.ItemID, sub domain.DownloadSubdocument) {
	if err := w.items.UpdateDownloadSubdocument(ctx, itemType, id, sub); err != nil {
		w.logger.Error("parent subdocument update failed", slog.String("id", string(id)), slog.Any("error", err))
	}
}

func applyEventFields(d *domain.Download, ev domain.DownloadEvent) {
	d.Progress = ev.Progress
	speed := ev.Speed
	d.Speed = &speed
	peers := ev.NumPeers
	d.NumPeers = &peers
	remainingMs := ev.TimeRemaining.Milliseconds()
	d.TimeRemaining = &remainingMs
}
