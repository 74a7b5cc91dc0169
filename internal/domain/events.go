package domain

import "time"

// PeerEvent is one event emitted by a Session's event stream, per the Peer
// Client Facade contract in spec.md §4.3.
type PeerEvent interface{}

// NoPeersEvent fires when the swarm has no peers. Source == "dht" is
// treated as fatal for the download by the worker; other sources are
// informational only (spec.md §4.5/§9).
type NoPeersEvent struct {
	Source string
}

// DownloadEvent is a progress tick. Speed/TimeRemaining/NumPeers mirror
// the fields the worker coalesces into the Download record.
type DownloadEvent struct {
	Progress      float64
	Speed         int64
	NumPeers      int
	TimeRemaining time.Duration
}

// DoneEvent fires once, when the payload is fully acquired and verified.
type DoneEvent struct{}

// ErrorEvent is fatal for the handle that emitted it.
type ErrorEvent struct {
	Err error
}
