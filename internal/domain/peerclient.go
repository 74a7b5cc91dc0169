package domain

import "io"

// PeerClient is the Peer Client Facade contract from spec.md §4.3: a thin
// wrapper around a third-party library implementing the peer-to-peer
// protocol.
type PeerClient interface {
	// Add joins a swarm for magnetURI, downloading into targetDir.
	// Asynchronous: the returned Session becomes fully usable once
	// metadata is received, but is safe to hold and query beforehand.
	Add(magnetURI, targetDir string) (Session, error)

	// Remove detaches from the swarm. Safe after Done or a dht NoPeers
	// event.
	Remove(magnetURI string) error

	// Errors is the process-wide fatal-error signal: any value received
	// here means the underlying client is no longer trustworthy and must
	// be torn down and rebuilt (spec.md §4.3/§5).
	Errors() <-chan error

	// Close releases the underlying client.
	Close() error
}

// Session is one active participation in a swarm, returned by
// PeerClient.Add.
type Session interface {
	// Events streams NoPeersEvent / DownloadEvent / DoneEvent / ErrorEvent
	// values until the session is removed, at which point it is closed.
	Events() <-chan PeerEvent

	// SelectFile applies the file-selection rule of spec.md §4.3 across
	// the torrent's files and returns the chosen one. Selection is
	// permanent for the session's lifetime.
	SelectFile() (FileRef, error)

	// NewReader opens a read stream for the chosen file over the given
	// byte range, prioritizing those bytes in swarm scheduling.
	NewReader(r Range) (io.ReadCloser, error)

	// Remove detaches this session from its swarm.
	Remove() error
}
