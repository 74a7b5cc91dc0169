package domain

// TorrentOption is one entry of a catalog item's torrents[] list: an
// available magnet for a given quality.
type TorrentOption struct {
	Quality string
	URL     string
	Seeds   int
	Peers   int
	Size    int64
}

// Item is the narrow view the core needs of a Movie or Episode: its id and
// its embedded download sub-document. The catalog itself — titles, years,
// season numbers, and the rest — belongs to the metadata source this core
// treats as an external collaborator (spec.md §1).
type Item interface {
	ItemID() ItemID
	SubDocument() DownloadSubdocument
	TorrentFor(quality string) (TorrentOption, bool)
}

// Movie is an external catalog record, read by id and mutated only in its
// Download field.
type Movie struct {
	ID       ItemID
	Title    string
	Torrents []TorrentOption
	Download DownloadSubdocument
}

func (m Movie) ItemID() ItemID                   { return m.ID }
func (m Movie) SubDocument() DownloadSubdocument { return m.Download }

func (m Movie) TorrentFor(quality string) (TorrentOption, bool) {
	return torrentFor(m.Torrents, quality)
}

// Episode is an external catalog record, read by id and mutated only in
// its Download field.
type Episode struct {
	ID            ItemID
	SeriesTitle   string
	SeasonNumber  int
	EpisodeNumber int
	Torrents      []TorrentOption
	Download      DownloadSubdocument
}

func (e Episode) ItemID() ItemID                   { return e.ID }
func (e Episode) SubDocument() DownloadSubdocument { return e.Download }

func (e Episode) TorrentFor(quality string) (TorrentOption, bool) {
	return torrentFor(e.Torrents, quality)
}

func torrentFor(options []TorrentOption, quality string) (TorrentOption, bool) {
	for _, o := range options {
		if o.Quality == quality {
			return o, true
		}
	}
	return TorrentOption{}, false
}
