package domain

import "errors"

var (
	// ErrNotFound is returned by Store Adapter reads that miss.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported marks an operation the implementation deliberately
	// does not support.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrNoMagnetForQuality is the resolving-phase terminal error: the
	// parent item has no torrents[] entry matching the requested quality.
	ErrNoMagnetForQuality = errors.New("no magnet for requested quality")

	// ErrNoPeers marks a dht-sourced noPeers event, fatal for the
	// download per spec.md §4.5.
	ErrNoPeers = errors.New("dht reports no peers")

	// ErrEngineFatal marks the peer client's process-wide error signal.
	ErrEngineFatal = errors.New("peer client fatal error")
)
