// Package anacrolix implements the Peer Client Facade (spec.md §4.3) by
// wrapping github.com/anacrolix/torrent. It is deliberately a thin
// adapter: session focus/eviction/rate-limiting/idle-reaping, which the
// richer teacher engine this is grounded on implements for a multi-session
// UI, have no component in this spec to serve — the queue never runs more
// than maxConcurrent sessions and nothing here ever competes for exclusive
// bandwidth with another session.
package anacrolix

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"torrentstream/internal/domain"
)

// addTimeout caps how long AddTorrentSpec may block on the client's
// internal mutex before the caller gives up.
const addTimeout = 10 * time.Second

// maxConsecutiveAddFailures bounds how many back-to-back Add failures
// (excluding bad input, i.e. a malformed magnet URI) this Engine tolerates
// before treating the underlying client as dead and reporting it through
// Errors() — the anacrolix client has no built-in "I am broken" signal of
// its own, so a run of failures an individual caller cannot explain is
// the closest observable stand-in for spec.md §4.3/§5's "fatal error from
// the underlying client."
const maxConsecutiveAddFailures = 3

// metadataWaitTimeout bounds how long a session waits for swarm metadata
// before it is considered a dead magnet and dropped.
const metadataWaitTimeout = 10 * time.Minute

// noPeersGrace is how long a session tolerates zero connected peers
// before emitting a NoPeersEvent{Source: "dht"}.
const noPeersGrace = 30 * time.Second

// Engine implements domain.PeerClient.
type Engine struct {
	logger *slog.Logger

	client *torrent.Client

	mu       sync.Mutex
	sessions map[string]*Session

	errCh                  chan error
	consecutiveAddFailures atomic.Int32
}

// New builds an Engine around a fresh anacrolix torrent.Client using its
// default (DHT + trackers + local peer discovery) configuration.
func New(logger *slog.Logger) (*Engine, error) {
	cfg := torrent.NewDefaultClientConfig()
	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		logger:   logger,
		client:   client,
		sessions: make(map[string]*Session),
		errCh:    make(chan error, 8),
	}, nil
}

func (e *Engine) Add(magnetURI, targetDir string) (domain.Session, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(magnetURI)
	if err != nil {
		return nil, err
	}
	spec.Storage = storage.NewFile(targetDir)

	type addResult struct {
		t   *torrent.Torrent
		new bool
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			e.noteAddFailure(res.err)
			return nil, res.err
		}
		e.consecutiveAddFailures.Store(0)
		res.t.AllowDataDownload()
		res.t.AllowDataUpload()
		res.t.DownloadAll()

		s := newSession(e, res.t, magnetURI)
		e.mu.Lock()
		e.sessions[magnetURI] = s
		e.mu.Unlock()
		go s.run()
		return s, nil
	case <-time.After(addTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		err := errors.New("torrent client busy, try again later")
		e.noteAddFailure(err)
		return nil, err
	}
}

// noteAddFailure counts a failed AddTorrentSpec/timeout against the
// client's consecutive-failure budget and reports fatal once it is
// exhausted (see maxConsecutiveAddFailures).
func (e *Engine) noteAddFailure(err error) {
	n := e.consecutiveAddFailures.Add(1)
	if n < maxConsecutiveAddFailures {
		return
	}
	e.consecutiveAddFailures.Store(0)
	e.reportFatal(fmt.Errorf("peer client unresponsive after %d consecutive add failures: %w", n, err))
}

func (e *Engine) Remove(magnetURI string) error {
	e.mu.Lock()
	s, ok := e.sessions[magnetURI]
	delete(e.sessions, magnetURI)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Remove()
}

func (e *Engine) Errors() <-chan error { return e.errCh }

func (e *Engine) Close() error {
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func (e *Engine) reportFatal(err error) {
	select {
	case e.errCh <- err:
	default:
		e.logger.Warn("peer client error channel full, dropping fatal error", slog.Any("error", err))
	}
}
