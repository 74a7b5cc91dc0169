// Package ports holds the interfaces the core depends on but does not
// implement: the Store Adapter's collections and the external media
// probe/transcode tool. The Peer Client Facade's interfaces live directly
// in package domain (see domain/peerclient.go) since domain.TorrentHandle
// already references them and importing ports from domain would cycle.
package ports

import (
	"context"

	"torrentstream/internal/domain"
)

// DownloadRepository is the Store Adapter's view of the Downloads
// collection (spec.md §4.1).
type DownloadRepository interface {
	FindDownload(ctx context.Context, id domain.ItemID) (domain.Download, error)
	FindPending(ctx context.Context) ([]domain.Download, error)
	Save(ctx context.Context, d domain.Download) error
	Delete(ctx context.Context, id domain.ItemID) error
}

// ItemRepository is the Store Adapter's view of the Movies/Episodes
// collections, routed by domain.ItemType.
type ItemRepository interface {
	FindItem(ctx context.Context, itemType domain.ItemType, id domain.ItemID) (domain.Item, error)

	// UpdateDownloadSubdocument merges sub field-by-field into the item's
	// existing download sub-document rather than replacing the item
	// wholesale — the special case spec.md §4.1 calls out for updateOne.
	UpdateDownloadSubdocument(ctx context.Context, itemType domain.ItemType, id domain.ItemID, sub domain.DownloadSubdocument) error
}
