// Package queue implements the Download Queue of spec.md §4.4: an
// ordered set of pending downloads with bounded concurrency, dispatched
// across a fixed worker pool. Grounded on the worker-pool shape of
// _examples/mtng45-golang-downloadQueue (DownloadQueue{items, workQueue
// chan, maxConcurrent}), but corrected to actually bound concurrency: a
// fixed pool of maxConcurrent goroutines reads from a single channel
// rather than spawning one goroutine per dequeued item — see DESIGN.md.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
	"torrentstream/internal/metrics"
	"torrentstream/internal/worker"
)

// liveEntry pairs a TorrentHandle with the sync.Once that guards closing
// its Completion channel — closed exactly once by whichever of the
// worker's normal return or an explicit StopDownloading reaches it
// first (spec.md §3/§9's "deferred completion signal").
type liveEntry struct {
	handle *domain.TorrentHandle
	once   sync.Once
}

func (e *liveEntry) resolve() {
	e.once.Do(func() { close(e.handle.Completion) })
}

type job struct {
	download domain.Download
	wg       *sync.WaitGroup
}

// NewPeerClient builds a fresh domain.PeerClient. The Queue calls it once
// at construction and again whenever the current client reports a
// process-wide fatal error (spec.md §4.3/§5).
type NewPeerClient func(logger *slog.Logger) (domain.PeerClient, error)

// Queue is the Download Queue. Construct with New and call RehydrateOnStart
// once at process start.
type Queue struct {
	logger        *slog.Logger
	items         ports.ItemRepository
	downloads     ports.DownloadRepository
	root          string
	maxConcurrent int
	newClient     NewPeerClient

	mu                    sync.Mutex
	pending               []domain.Download
	backgroundDownloading bool

	handlesMu sync.RWMutex
	handles   map[domain.ItemID]*liveEntry

	clientMu sync.RWMutex
	client   domain.PeerClient

	work chan job
}

// New builds a Queue and starts its fixed worker pool plus the
// peer-client error supervisor. The returned Queue owns the peer client
// for its lifetime; call Close to release it.
func New(logger *slog.Logger, items ports.ItemRepository, downloads ports.DownloadRepository, root string, maxConcurrent int, newClient NewPeerClient) (*Queue, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	client, err := newClient(logger)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		logger:        logger,
		items:         items,
		downloads:     downloads,
		root:          root,
		maxConcurrent: maxConcurrent,
		newClient:     newClient,
		client:        client,
		handles:       make(map[domain.ItemID]*liveEntry),
		work:          make(chan job),
	}

	for i := 0; i < maxConcurrent; i++ {
		go q.loop()
	}
	go q.superviseErrors(client)

	return q, nil
}

// AddDownload appends d to the pending list. No deduplication — callers
// must not double-enqueue (spec.md §4.4).
func (q *Queue) AddDownload(d domain.Download) {
	q.mu.Lock()
	q.pending = append(q.pending, d)
	metrics.QueuePendingDownloads.Set(float64(len(q.pending)))
	q.mu.Unlock()
}

// StartDownloads dispatches the current snapshot of the pending list
// across the fixed worker pool. No-op if already running or empty.
// Items added while a batch is in flight are not picked up until the
// next call (spec.md §4.4 and §9's open question — kept as specified).
func (q *Queue) StartDownloads(ctx context.Context) {
	q.mu.Lock()
	if q.backgroundDownloading || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	snapshot := q.pending
	q.pending = nil
	q.backgroundDownloading = true
	metrics.QueuePendingDownloads.Set(0)
	q.mu.Unlock()

	go func() {
		var wg sync.WaitGroup
		for _, d := range snapshot {
			wg.Add(1)
			select {
			case q.work <- job{download: d, wg: &wg}:
			case <-ctx.Done():
				wg.Done()
			}
		}
		wg.Wait()
		q.mu.Lock()
		q.backgroundDownloading = false
		q.mu.Unlock()
	}()
}

// RehydrateOnStart loads pending records from the store and resumes
// them, preserving the store's FindPending ordering (spec.md §4.4).
func (q *Queue) RehydrateOnStart(ctx context.Context) error {
	pending, err := q.downloads.FindPending(ctx)
	if err != nil {
		return err
	}
	for _, d := range pending {
		q.AddDownload(d)
	}
	q.StartDownloads(ctx)
	return nil
}

// StopDownloading destroys the live handle for d, if any, awaits its
// teardown, and marks the Download removed. Idempotent.
func (q *Queue) StopDownloading(ctx context.Context, d domain.Download) error {
	q.handlesMu.RLock()
	entry, ok := q.handles[d.ID]
	q.handlesMu.RUnlock()

	if ok {
		if err := entry.handle.Session.Remove(); err != nil {
			q.logger.Warn("session remove during stop failed", slog.String("id", string(d.ID)), slog.Any("error", err))
		}
		select {
		case <-entry.handle.Completion:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.Status = domain.StatusRemoved
	if err := q.downloads.Save(ctx, d); err != nil {
		q.logger.Error("download save during stop failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
	if err := q.items.UpdateDownloadSubdocument(ctx, d.ItemType, d.ID, domain.DownloadSubdocument{
		DownloadStatus: domain.StatusRemoved,
		Downloading:    false,
	}); err != nil {
		q.logger.Error("parent subdocument update during stop failed", slog.String("id", string(d.ID)), slog.Any("error", err))
	}
	return nil
}

// LiveHandle returns the in-flight TorrentHandle for id, if a download is
// currently being acquired, for the streaming handler's source
// selection (spec.md §4.6 step 7).
func (q *Queue) LiveHandle(id domain.ItemID) (*domain.TorrentHandle, bool) {
	q.handlesMu.RLock()
	defer q.handlesMu.RUnlock()
	entry, ok := q.handles[id]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// Close releases the current peer client.
func (q *Queue) Close() error {
	q.clientMu.RLock()
	defer q.clientMu.RUnlock()
	return q.client.Close()
}

func (q *Queue) loop() {
	for j := range q.work {
		q.runOne(j.download)
		j.wg.Done()
	}
}

func (q *Queue) runOne(d domain.Download) {
	metrics.QueueActiveWorkers.Inc()
	defer metrics.QueueActiveWorkers.Dec()

	q.clientMu.RLock()
	client := q.client
	q.clientMu.RUnlock()

	w := worker.New(q.logger, q.items, q.downloads, client, q.root)

	onHandle := func(h *domain.TorrentHandle) {
		entry := &liveEntry{handle: h}
		q.handlesMu.Lock()
		q.handles[d.ID] = entry
		q.handlesMu.Unlock()
	}
	onHandleGone := func() {
		q.handlesMu.Lock()
		entry, ok := q.handles[d.ID]
		delete(q.handles, d.ID)
		q.handlesMu.Unlock()
		if ok {
			entry.resolve()
		}
	}

	w.Run(context.Background(), d, onHandle, onHandleGone)
}

// superviseErrors consumes the peer client's process-wide fatal-error
// signal (spec.md §4.3/§5): tear down the current client, rebuild it,
// re-mark every in-flight download queued, and re-drive the pending
// queue from the store from scratch.
func (q *Queue) superviseErrors(client domain.PeerClient) {
	for err := range client.Errors() {
		q.logger.Error("peer client fatal error, rebuilding", slog.Any("error", err))
		q.rebuildClient(client)
	}
}

func (q *Queue) rebuildClient(dead domain.PeerClient) {
	metrics.PeerClientRebuildsTotal.Inc()
	ctx := context.Background()

	q.handlesMu.Lock()
	for id, entry := range q.handles {
		delete(q.handles, id)
		if err := entry.handle.Session.Remove(); err != nil {
			q.logger.Warn("session remove during rebuild failed", slog.String("id", string(id)), slog.Any("error", err))
		}
		entry.resolve()
		d, findErr := q.downloads.FindDownload(ctx, id)
		if findErr != nil {
			continue
		}
		d.Status = domain.StatusQueued
		if saveErr := q.downloads.Save(ctx, d); saveErr != nil {
			q.logger.Error("requeue after fatal error failed", slog.String("id", string(id)), slog.Any("error", saveErr))
		}
	}
	q.handlesMu.Unlock()

	_ = dead.Close()

	fresh, err := q.newClient(q.logger)
	if err != nil {
		q.logger.Error("peer client rebuild failed", slog.Any("error", err))
		return
	}

	q.clientMu.Lock()
	q.client = fresh
	q.clientMu.Unlock()

	go q.superviseErrors(fresh)

	if err := q.RehydrateOnStart(ctx); err != nil {
		q.logger.Error("rehydrate after peer client rebuild failed", slog.Any("error", err))
	}
}
