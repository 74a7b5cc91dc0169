// Package mongo implements the Store Adapter of spec.md §4.1 over three
// Mongo collections (movies, episodes, downloads), grounded on the
// teacher's repository.go: same Connect/EnsureIndexes shape, same
// toDoc/fromDoc split, same duplicate-key and MatchedCount error
// handling — adapted from one generic TorrentRecord collection to the
// catalog/download split this spec's data model requires.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentstream/internal/domain"
)

// Connect dials a Mongo client, grounded on the teacher's Connect.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// --- Downloads collection ---------------------------------------------

// DownloadRepository implements ports.DownloadRepository over the
// downloads collection.
type DownloadRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewDownloadRepository builds a DownloadRepository over db's "downloads"
// collection.
func NewDownloadRepository(db *mongo.Database) *DownloadRepository {
	return &DownloadRepository{collection: db.Collection("downloads"), now: time.Now}
}

// EnsureIndexes creates the status/updatedAt indexes the queue's
// FindPending and rehydration ordering rely on, grounded on the
// teacher's EnsureIndexes.
func (r *DownloadRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

type downloadDoc struct {
	ID            string  `bson:"_id"`
	ItemType      string  `bson:"itemType"`
	Quality       string  `bson:"quality"`
	Type          string  `bson:"type"`
	Status        string  `bson:"status"`
	Progress      float64 `bson:"progress"`
	Speed         *int64  `bson:"speed"`
	TimeRemaining *int64  `bson:"timeRemaining"`
	NumPeers      *int    `bson:"numPeers"`
	UpdatedAt     int64   `bson:"updatedAt"`
}

func toDownloadDoc(d domain.Download) downloadDoc {
	return downloadDoc{
		ID:            string(d.ID),
		ItemType:      string(d.ItemType),
		Quality:       d.Quality,
		Type:          string(d.Type),
		Status:        string(d.Status),
		Progress:      d.Progress,
		Speed:         d.Speed,
		TimeRemaining: d.TimeRemaining,
		NumPeers:      d.NumPeers,
		UpdatedAt:     d.UpdatedAt.UnixMilli(),
	}
}

func fromDownloadDoc(doc downloadDoc) domain.Download {
	return domain.Download{
		ID:            domain.ItemID(doc.ID),
		ItemType:      domain.ItemType(doc.ItemType),
		Quality:       doc.Quality,
		Type:          domain.DownloadType(doc.Type),
		Status:        domain.DownloadStatus(doc.Status),
		Progress:      doc.Progress,
		Speed:         doc.Speed,
		TimeRemaining: doc.TimeRemaining,
		NumPeers:      doc.NumPeers,
		UpdatedAt:     time.UnixMilli(doc.UpdatedAt).UTC(),
	}
}

// FindDownload implements ports.DownloadRepository.
func (r *DownloadRepository) FindDownload(ctx context.Context, id domain.ItemID) (domain.Download, error) {
	var doc downloadDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Download{}, domain.ErrNotFound
		}
		return domain.Download{}, err
	}
	return fromDownloadDoc(doc), nil
}

// FindPending implements ports.DownloadRepository: status in
// {queued, connecting, downloading}, ordered by updatedAt ascending so
// RehydrateOnStart resumes records in the order they were last touched.
func (r *DownloadRepository) FindPending(ctx context.Context) ([]domain.Download, error) {
	filter := bson.M{"status": bson.M{"$in": []string{
		string(domain.StatusQueued), string(domain.StatusConnecting), string(domain.StatusDownloading),
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []downloadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Download, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDownloadDoc(doc))
	}
	return out, nil
}

// Save implements ports.DownloadRepository: a full-field $set replace,
// grounded on the teacher's Update, with UpdatedAt stamped to the current
// time before the write. The update upserts, so a record missing from the
// collection is created rather than reported as ErrNotFound.
func (r *DownloadRepository) Save(ctx context.Context, d domain.Download) error {
	d.UpdatedAt = r.now()
	doc := toDownloadDoc(d)
	update := bson.M{"$set": doc}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": doc.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete implements ports.DownloadRepository: a hard delete, safe on
// unknown ids per spec.md §4.7 ("safe to call on unknown ids").
func (r *DownloadRepository) Delete(ctx context.Context, id domain.ItemID) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	return err
}

// --- Movies / Episodes collections -------------------------------------

// ItemRepository implements ports.ItemRepository, routing by
// domain.ItemType to the movies or episodes collection.
type ItemRepository struct {
	movies   *mongo.Collection
	episodes *mongo.Collection
}

// NewItemRepository builds an ItemRepository over db's "movies" and
// "episodes" collections.
func NewItemRepository(db *mongo.Database) *ItemRepository {
	return &ItemRepository{movies: db.Collection("movies"), episodes: db.Collection("episodes")}
}

type torrentOptionDoc struct {
	Quality string `bson:"quality"`
	URL     string `bson:"url"`
	Seeds   int    `bson:"seeds"`
	Peers   int    `bson:"peers"`
	Size    int64  `bson:"size"`
}

func fromTorrentOptionDocs(docs []torrentOptionDoc) []domain.TorrentOption {
	out := make([]domain.TorrentOption, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.TorrentOption{Quality: d.Quality, URL: d.URL, Seeds: d.Seeds, Peers: d.Peers, Size: d.Size})
	}
	return out
}

type downloadSubDoc struct {
	DownloadStatus   string `bson:"downloadStatus"`
	Downloading      bool   `bson:"downloading"`
	DownloadComplete bool   `bson:"downloadComplete"`
	DownloadedOn     *int64 `bson:"downloadedOn"`
}

func toDownloadSubDoc(sub domain.DownloadSubdocument) downloadSubDoc {
	var downloadedOn *int64
	if sub.DownloadedOn != nil {
		ms := sub.DownloadedOn.UnixMilli()
		downloadedOn = &ms
	}
	return downloadSubDoc{
		DownloadStatus:   string(sub.DownloadStatus),
		Downloading:      sub.Downloading,
		DownloadComplete: sub.DownloadComplete,
		DownloadedOn:     downloadedOn,
	}
}

func fromDownloadSubDoc(doc downloadSubDoc) domain.DownloadSubdocument {
	var downloadedOn *time.Time
	if doc.DownloadedOn != nil {
		t := time.UnixMilli(*doc.DownloadedOn).UTC()
		downloadedOn = &t
	}
	return domain.DownloadSubdocument{
		DownloadStatus:   domain.DownloadStatus(doc.DownloadStatus),
		Downloading:      doc.Downloading,
		DownloadComplete: doc.DownloadComplete,
		DownloadedOn:     downloadedOn,
	}
}

type movieDoc struct {
	ID       string             `bson:"_id"`
	Title    string             `bson:"title"`
	Torrents []torrentOptionDoc `bson:"torrents"`
	Download downloadSubDoc     `bson:"download"`
}

type episodeDoc struct {
	ID            string             `bson:"_id"`
	SeriesTitle   string             `bson:"seriesTitle"`
	SeasonNumber  int                `bson:"seasonNumber"`
	EpisodeNumber int                `bson:"episodeNumber"`
	Torrents      []torrentOptionDoc `bson:"torrents"`
	Download      downloadSubDoc     `bson:"download"`
}

// FindItem implements ports.ItemRepository.
func (r *ItemRepository) FindItem(ctx context.Context, itemType domain.ItemType, id domain.ItemID) (domain.Item, error) {
	switch itemType {
	case domain.ItemMovie:
		var doc movieDoc
		if err := r.movies.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		return domain.Movie{
			ID:       domain.ItemID(doc.ID),
			Title:    doc.Title,
			Torrents: fromTorrentOptionDocs(doc.Torrents),
			Download: fromDownloadSubDoc(doc.Download),
		}, nil
	case domain.ItemEpisode:
		var doc episodeDoc
		if err := r.episodes.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		return domain.Episode{
			ID:            domain.ItemID(doc.ID),
			SeriesTitle:   doc.SeriesTitle,
			SeasonNumber:  doc.SeasonNumber,
			EpisodeNumber: doc.EpisodeNumber,
			Torrents:      fromTorrentOptionDocs(doc.Torrents),
			Download:      fromDownloadSubDoc(doc.Download),
		}, nil
	default:
		return nil, domain.ErrUnsupported
	}
}

// UpdateDownloadSubdocument implements ports.ItemRepository: each field
// of sub becomes its own dotted "download.<field>" key in the $set
// document, the special-case merge spec.md §4.1 calls out for updateOne
// (grounded on Mongo's own dotted-path $set semantics, per the teacher's
// Update).
func (r *ItemRepository) UpdateDownloadSubdocument(ctx context.Context, itemType domain.ItemType, id domain.ItemID, sub domain.DownloadSubdocument) error {
	doc := toDownloadSubDoc(sub)
	set := bson.M{
		"download.downloadStatus":   doc.DownloadStatus,
		"download.downloading":      doc.Downloading,
		"download.downloadComplete": doc.DownloadComplete,
		"download.downloadedOn":     doc.DownloadedOn,
	}

	collection, err := r.collectionFor(itemType)
	if err != nil {
		return err
	}
	res, err := collection.UpdateOne(ctx, bson.M{"_id": string(id)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ItemRepository) collectionFor(itemType domain.ItemType) (*mongo.Collection, error) {
	switch itemType {
	case domain.ItemMovie:
		return r.movies, nil
	case domain.ItemEpisode:
		return r.episodes, nil
	default:
		return nil, domain.ErrUnsupported
	}
}
