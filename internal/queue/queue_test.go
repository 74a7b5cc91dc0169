package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"torrentstream/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type qFakeSession struct {
	events   chan domain.PeerEvent
	onRemove func()
}

func (s *qFakeSession) Events() <-chan domain.PeerEvent             { return s.events }
func (s *qFakeSession) SelectFile() (domain.FileRef, error)         { return domain.FileRef{Path: "movie.mkv", Length: 10}, nil }
func (s *qFakeSession) NewReader(domain.Range) (io.ReadCloser, error) { return nil, nil }
func (s *qFakeSession) Remove() error {
	close(s.events)
	if s.onRemove != nil {
		s.onRemove()
	}
	return nil
}

// qFakeClient hands out a session per Add call that immediately emits a
// Done event, and records the order in which magnets were added so the
// crash-restart ordering scenario (spec.md §8 #4) can be verified. A
// session counts as in flight from its Add until its Remove.
type qFakeClient struct {
	mu      sync.Mutex
	addedAt []string

	maxConcurrentSeen int
	inFlight          int

	errCh chan error
}

func newQFakeClient() *qFakeClient {
	return &qFakeClient{errCh: make(chan error, 1)}
}

func (c *qFakeClient) Add(magnetURI, targetDir string) (domain.Session, error) {
	c.mu.Lock()
	c.addedAt = append(c.addedAt, magnetURI)
	c.inFlight++
	if c.inFlight > c.maxConcurrentSeen {
		c.maxConcurrentSeen = c.inFlight
	}
	c.mu.Unlock()

	s := &qFakeSession{events: make(chan domain.PeerEvent, 1), onRemove: func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}}
	s.events <- domain.DoneEvent{}

	return s, nil
}
func (c *qFakeClient) Remove(string) error { return nil }
func (c *qFakeClient) Errors() <-chan error { return c.errCh }
func (c *qFakeClient) Close() error         { return nil }

type qFakeMovie struct {
	id       domain.ItemID
	sub      domain.DownloadSubdocument
	torrents []domain.TorrentOption
}

func (m qFakeMovie) ItemID() domain.ItemID                   { return m.id }
func (m qFakeMovie) SubDocument() domain.DownloadSubdocument { return m.sub }
func (m qFakeMovie) TorrentFor(quality string) (domain.TorrentOption, bool) {
	for _, o := range m.torrents {
		if o.Quality == quality {
			return o, true
		}
	}
	return domain.TorrentOption{}, false
}

type qFakeItemRepo struct {
	mu    sync.Mutex
	items map[domain.ItemID]qFakeMovie
}

func (r *qFakeItemRepo) FindItem(ctx context.Context, itemType domain.ItemType, id domain.ItemID) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return item, nil
}
func (r *qFakeItemRepo) UpdateDownloadSubdocument(ctx context.Context, itemType domain.ItemType, id domain.ItemID, sub domain.DownloadSubdocument) error {
	return nil
}

type qFakeDownloadRepo struct {
	mu      sync.Mutex
	saved   []domain.Download
	pending []domain.Download

	// records backs FindDownload for tests that exercise rebuildClient's
	// requeue path, which looks a record up by id before re-saving it as
	// queued. Left nil, FindDownload behaves as before (always ErrNotFound).
	records map[domain.ItemID]domain.Download
}

func (r *qFakeDownloadRepo) FindDownload(ctx context.Context, id domain.ItemID) (domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.records[id]
	if !ok {
		return domain.Download{}, domain.ErrNotFound
	}
	return d, nil
}

// savedStatus returns the most recently saved status for id, if any.
func (r *qFakeDownloadRepo) savedStatus(id domain.ItemID) (domain.DownloadStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var status domain.DownloadStatus
	found := false
	for _, d := range r.saved {
		if d.ID == id {
			status = d.Status
			found = true
		}
	}
	return status, found
}
func (r *qFakeDownloadRepo) FindPending(ctx context.Context) ([]domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Download, len(r.pending))
	copy(out, r.pending)
	return out, nil
}
func (r *qFakeDownloadRepo) Save(ctx context.Context, d domain.Download) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, d)
	return nil
}
func (r *qFakeDownloadRepo) Delete(ctx context.Context, id domain.ItemID) error { return nil }

func (r *qFakeDownloadRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

// completedCount returns how many saves recorded a complete status.
func (r *qFakeDownloadRepo) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.saved {
		if d.Status == domain.StatusComplete {
			n++
		}
	}
	return n
}

// holdFakeClient hands out a session that never emits an event on its
// own, so a download it Adds stays "in flight" — handle present,
// Worker.Run parked in its event-select loop — until the test explicitly
// removes it (StopDownloading) or simulates a fatal error on errCh
// (rebuildClient).
type holdFakeClient struct {
	mu       sync.Mutex
	sessions map[string]*qFakeSession
	errCh    chan error
}

func newHoldFakeClient() *holdFakeClient {
	return &holdFakeClient{sessions: make(map[string]*qFakeSession), errCh: make(chan error, 1)}
}

func (c *holdFakeClient) Add(magnetURI, targetDir string) (domain.Session, error) {
	s := &qFakeSession{events: make(chan domain.PeerEvent)}
	c.mu.Lock()
	c.sessions[magnetURI] = s
	c.mu.Unlock()
	return s, nil
}
func (c *holdFakeClient) Remove(string) error  { return nil }
func (c *holdFakeClient) Errors() <-chan error { return c.errCh }
func (c *holdFakeClient) Close() error         { return nil }

func movieWithTorrent(id domain.ItemID) qFakeMovie {
	return qFakeMovie{id: id, torrents: []domain.TorrentOption{{Quality: "1080p", URL: "magnet:" + string(id)}}}
}

// TestStartDownloadsBoundsConcurrency exercises P4: with maxConcurrent=1,
// the fake client never sees more than one Add in flight at a time.
func TestStartDownloadsBoundsConcurrency(t *testing.T) {
	client := newQFakeClient()
	items := &qFakeItemRepo{items: map[domain.ItemID]qFakeMovie{
		"a": movieWithTorrent("a"),
		"b": movieWithTorrent("b"),
		"c": movieWithTorrent("c"),
	}}
	downloads := &qFakeDownloadRepo{}

	q, err := New(discardLogger(), items, downloads, t.TempDir(), 1, func(*slog.Logger) (domain.PeerClient, error) {
		return client, nil
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, id := range []domain.ItemID{"a", "b", "c"} {
		q.AddDownload(domain.Download{ID: id, ItemType: domain.ItemMovie, Quality: "1080p"})
	}
	q.StartDownloads(context.Background())

	deadline := time.After(2 * time.Second)
	for downloads.completedCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 3 downloads to complete, got %d completed", downloads.completedCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.maxConcurrentSeen > 1 {
		t.Fatalf("expected at most 1 concurrent Add with maxConcurrent=1, saw %d", client.maxConcurrentSeen)
	}
	if len(client.addedAt) != 3 {
		t.Fatalf("expected 3 Add calls, got %d", len(client.addedAt))
	}
}

// TestRehydrateOnStartPreservesOrder exercises scenario 4 from spec.md
// §8: rehydration processes pending records in the store's returned
// order.
func TestRehydrateOnStartPreservesOrder(t *testing.T) {
	client := newQFakeClient()
	items := &qFakeItemRepo{items: map[domain.ItemID]qFakeMovie{
		"a": movieWithTorrent("a"),
		"b": movieWithTorrent("b"),
		"c": movieWithTorrent("c"),
	}}
	downloads := &qFakeDownloadRepo{pending: []domain.Download{
		{ID: "a", ItemType: domain.ItemMovie, Quality: "1080p", Status: domain.StatusConnecting},
		{ID: "b", ItemType: domain.ItemMovie, Quality: "1080p", Status: domain.StatusDownloading},
		{ID: "c", ItemType: domain.ItemMovie, Quality: "1080p", Status: domain.StatusQueued},
	}}

	q, err := New(discardLogger(), items, downloads, t.TempDir(), 1, func(*slog.Logger) (domain.PeerClient, error) {
		return client, nil
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := q.RehydrateOnStart(context.Background()); err != nil {
		t.Fatalf("RehydrateOnStart() error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for downloads.completedCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for rehydrated downloads to complete")
		case <-time.After(5 * time.Millisecond):
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	want := []string{"magnet:a", "magnet:b", "magnet:c"}
	if len(client.addedAt) != len(want) {
		t.Fatalf("expected %d Add calls, got %d: %v", len(want), len(client.addedAt), client.addedAt)
	}
	for i, m := range want {
		if client.addedAt[i] != m {
			t.Fatalf("expected Add order %v, got %v", want, client.addedAt)
		}
	}
}

// awaitLiveHandle polls until q reports a live handle for id (or not, when
// want is false), failing the test if the deadline passes first.
func awaitLiveHandle(t *testing.T, q *Queue, id domain.ItemID, want bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := q.LiveHandle(id); ok == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for LiveHandle(%q) == %v", id, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestStopDownloadingRemovesHandle exercises P1 (single handle per id)
// across an add/start/stop sequence: StopDownloading must remove the live
// handle and be a safe no-op on a second call.
func TestStopDownloadingRemovesHandle(t *testing.T) {
	client := newHoldFakeClient()
	items := &qFakeItemRepo{items: map[domain.ItemID]qFakeMovie{
		"a": movieWithTorrent("a"),
	}}
	downloads := &qFakeDownloadRepo{}

	q, err := New(discardLogger(), items, downloads, t.TempDir(), 1, func(*slog.Logger) (domain.PeerClient, error) {
		return client, nil
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	d := domain.Download{ID: "a", ItemType: domain.ItemMovie, Quality: "1080p"}
	q.AddDownload(d)
	q.StartDownloads(context.Background())

	awaitLiveHandle(t, q, "a", true)

	if err := q.StopDownloading(context.Background(), d); err != nil {
		t.Fatalf("StopDownloading() error: %v", err)
	}
	if _, ok := q.LiveHandle("a"); ok {
		t.Fatal("expected handle to be removed after StopDownloading")
	}

	if err := q.StopDownloading(context.Background(), d); err != nil {
		t.Fatalf("second StopDownloading() call should be a safe no-op, got error: %v", err)
	}
	if _, ok := q.LiveHandle("a"); ok {
		t.Fatal("expected handle to remain absent after a second StopDownloading call")
	}
}

// TestRebuildClientRequeuesOnFatalError exercises the peer-client rebuild
// path (spec.md §4.3/§5, SPEC_FULL.md §4.3/§5/§9): a fatal error on the
// peer client's Errors() channel must requeue in-flight downloads as
// queued and clear the handle map.
func TestRebuildClientRequeuesOnFatalError(t *testing.T) {
	client := newHoldFakeClient()
	items := &qFakeItemRepo{items: map[domain.ItemID]qFakeMovie{
		"a": movieWithTorrent("a"),
	}}
	downloads := &qFakeDownloadRepo{records: map[domain.ItemID]domain.Download{
		"a": {ID: "a", ItemType: domain.ItemMovie, Quality: "1080p", Status: domain.StatusDownloading},
	}}

	q, err := New(discardLogger(), items, downloads, t.TempDir(), 1, func(*slog.Logger) (domain.PeerClient, error) {
		return client, nil
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	q.AddDownload(domain.Download{ID: "a", ItemType: domain.ItemMovie, Quality: "1080p"})
	q.StartDownloads(context.Background())

	awaitLiveHandle(t, q, "a", true)

	client.errCh <- errors.New("simulated fatal peer-client error")

	awaitLiveHandle(t, q, "a", false)

	deadline := time.After(2 * time.Second)
	for {
		status, found := downloads.savedStatus("a")
		if found && status == domain.StatusQueued {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for id %q to be requeued as %q, last status %q (found=%v)", "a", domain.StatusQueued, status, found)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
