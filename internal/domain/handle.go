package domain

// Range is a byte-range request, end-inclusive.
type Range struct {
	Start int64
	End   int64 // inclusive; -1 means "to end of file"
}

// TorrentHandle is the in-memory record of one live participation in a
// swarm, owned by the queue for the duration of a download. At most one
// TorrentHandle exists per Download id (P1).
type TorrentHandle struct {
	DownloadID ItemID
	Session    Session
	ChosenFile FileRef

	// Completion is closed exactly once — by success, failure, or an
	// explicit stop — to free the worker's slot in the pool. Owned by the
	// queue, not the worker, per spec.md §9's "deferred completion signal"
	// hint: the worker only creates the channel when it builds the handle;
	// the queue closes it when the worker reports the handle gone or the
	// peer client is rebuilt.
	Completion chan struct{}
}
