package domain

import "time"

// ItemID is the identifier shared between a Download record and its parent
// Movie or Episode.
type ItemID string

// ItemType distinguishes which catalog collection a Download's parent lives
// in.
type ItemType string

const (
	ItemMovie   ItemType = "movie"
	ItemEpisode ItemType = "episode"
)

// DownloadType records whether the acquisition is a background download or
// an on-demand stream request. The queue (see internal/queue) does not
// distinguish the two: both are dispatched in FIFO order.
type DownloadType string

const (
	DownloadTypeDownload DownloadType = "download"
	DownloadTypeStream   DownloadType = "stream"
)

// DownloadStatus is the Download state machine's current state. See
// internal/worker for the transition rules between these values.
type DownloadStatus string

const (
	StatusQueued      DownloadStatus = "queued"
	StatusConnecting  DownloadStatus = "connecting"
	StatusDownloading DownloadStatus = "downloading"
	StatusComplete    DownloadStatus = "complete"
	StatusFailed      DownloadStatus = "failed"
	StatusRemoved     DownloadStatus = "removed"
)

// Pending reports whether a status counts toward the queue's in-flight set
// (queued, connecting, downloading).
func (s DownloadStatus) Pending() bool {
	switch s {
	case StatusQueued, StatusConnecting, StatusDownloading:
		return true
	default:
		return false
	}
}

// Download is the persisted record for one requested acquisition.
type Download struct {
	ID            ItemID
	ItemType      ItemType
	Quality       string
	Type          DownloadType
	Status        DownloadStatus
	Progress      float64
	Speed         *int64
	TimeRemaining *int64
	NumPeers      *int
	UpdatedAt     time.Time
}

// DownloadSubdocument is the `download` field embedded in a Movie or
// Episode record. The Store Adapter merges this field-by-field into the
// existing sub-document rather than replacing the parent item wholesale —
// the one special case spec.md calls out for updateOne.
type DownloadSubdocument struct {
	DownloadStatus   DownloadStatus
	Downloading      bool
	DownloadComplete bool
	DownloadedOn     *time.Time
}
