package anacrolix

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"torrentstream/internal/domain"
)

// Session implements domain.Session around one *torrent.Torrent.
type Session struct {
	engine  *Engine
	t       *torrent.Torrent
	magnet  string
	events  chan domain.PeerEvent
	stop    chan struct{}
	stopped sync.Once

	fileMu sync.Mutex
	file   domain.FileRef
	picked bool
}

func newSession(e *Engine, t *torrent.Torrent, magnet string) *Session {
	return &Session{
		engine: e,
		t:      t,
		magnet: magnet,
		events: make(chan domain.PeerEvent, 32),
		stop:   make(chan struct{}),
	}
}

func (s *Session) Events() <-chan domain.PeerEvent { return s.events }

// SelectFile implements the allow-list/largest-file rule of spec.md §4.3.
// Selection is computed once and cached; every other file is deselected
// so the swarm does not waste bandwidth on it.
func (s *Session) SelectFile() (domain.FileRef, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.picked {
		return s.file, nil
	}

	select {
	case <-s.t.GotInfo():
	case <-time.After(10 * time.Second):
		return domain.FileRef{}, domain.ErrUnsupported
	}

	files := mapFiles(s.t)
	chosen, ok := domain.ChooseLargestPlayableFile(files)
	if !ok {
		slog.Warn("no playable extension matched, falling back to first file",
			slog.String("magnet", s.magnet))
	}

	for i, f := range s.t.Files() {
		if i == chosen.Index {
			f.SetPriority(torrent.PiecePriorityNormal)
			continue
		}
		f.SetPriority(torrent.PiecePriorityNone)
	}

	s.file = chosen
	s.picked = true
	return chosen, nil
}

// NewReader opens a range-aware read stream and raises piece priority for
// the requested window so the swarm scheduler favors those bytes
// (spec.md §4.6 step 7).
func (s *Session) NewReader(r domain.Range) (io.ReadCloser, error) {
	s.fileMu.Lock()
	file := s.file
	picked := s.picked
	s.fileMu.Unlock()
	if !picked {
		return nil, domain.ErrUnsupported
	}

	files := s.t.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, domain.ErrUnsupported
	}
	tf := files[file.Index]

	applyRangePriority(s.t, tf, r)

	reader := tf.NewReader()
	reader.SetReadahead(4 * 1024 * 1024)
	if r.Start > 0 {
		if _, err := reader.Seek(r.Start, io.SeekStart); err != nil {
			reader.Close()
			return nil, err
		}
	}
	if r.End >= r.Start {
		return &limitedReadCloser{r: reader, remaining: r.End - r.Start + 1}, nil
	}
	return reader, nil
}

func (s *Session) Remove() error {
	s.stopped.Do(func() {
		close(s.stop)
		close(s.events)
	})
	s.t.Drop()
	return nil
}

// run samples the torrent's state once metadata is available, emitting
// DownloadEvent/NoPeersEvent/DoneEvent on the session's event channel
// until Remove is called or the payload completes.
func (s *Session) run() {
	select {
	case <-s.t.GotInfo():
	case <-time.After(metadataWaitTimeout):
		s.emit(domain.ErrorEvent{Err: io.ErrUnexpectedEOF})
		s.t.Drop()
		return
	case <-s.stop:
		return
	}

	start := time.Now()
	noPeersSignaled := false
	var lastRead int64

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			stats := s.t.Stats()
			length := s.t.Length()
			completed := s.t.BytesCompleted()

			if completed >= length && length > 0 {
				s.emit(domain.DoneEvent{})
				return
			}

			peers := stats.ActivePeers
			if peers == 0 {
				if !noPeersSignaled && now.Sub(start) > noPeersGrace {
					noPeersSignaled = true
					s.emit(domain.NoPeersEvent{Source: "dht"})
				}
				continue
			}

			read := stats.BytesReadUsefulData.Int64()
			speed := read - lastRead
			lastRead = read
			if speed < 0 {
				speed = 0
			}

			progress := 0.0
			if length > 0 {
				progress = float64(completed) / float64(length) * 100
			}
			var remaining time.Duration
			if speed > 0 && length > completed {
				remaining = time.Duration(float64(length-completed)/float64(speed)) * time.Second
			}

			s.emit(domain.DownloadEvent{
				Progress:      progress,
				Speed:         speed,
				NumPeers:      peers,
				TimeRemaining: remaining,
			})
		}
	}
}

func (s *Session) emit(ev domain.PeerEvent) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

func mapFiles(t *torrent.Torrent) []domain.FileRef {
	files := t.Files()
	out := make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		out = append(out, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return out
}

// limitedReadCloser truncates a torrent reader to an inclusive byte range.
type limitedReadCloser struct {
	r         torrent.Reader
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedReadCloser) Close() error { return l.r.Close() }
