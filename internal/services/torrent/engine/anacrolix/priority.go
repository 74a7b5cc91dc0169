package anacrolix

import (
	"log/slog"

	"github.com/anacrolix/torrent"

	"torrentstream/internal/domain"
)

type pieceRange struct {
	start int
	end   int // exclusive
}

// computePieceRange converts a byte range within a file into the
// covering piece-index range, grounded on the same offset arithmetic the
// richer teacher engine uses for its streaming "focus window".
func computePieceRange(t *torrent.Torrent, f *torrent.File, r domain.Range) (pieceRange, bool) {
	if t == nil || f == nil {
		return pieceRange{}, false
	}
	pieceSize := int64(t.Info().PieceLength)
	if pieceSize <= 0 {
		return pieceRange{}, false
	}
	fileOffset := f.Offset()
	fileLength := f.Length()
	if fileLength <= 0 {
		return pieceRange{}, false
	}

	end := r.End
	if end < r.Start {
		end = fileLength - 1
	}

	start := fileOffset + r.Start
	if start < fileOffset {
		start = fileOffset
	}
	fileEnd := fileOffset + fileLength
	if start >= fileEnd {
		return pieceRange{}, false
	}
	stop := fileOffset + end + 1
	if stop > fileEnd || stop < start {
		stop = fileEnd
	}

	startPiece := int(start / pieceSize)
	endPiece := int((stop + pieceSize - 1) / pieceSize)
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}

	numPieces := t.NumPieces()
	if numPieces <= 0 {
		return pieceRange{}, false
	}
	if startPiece >= numPieces {
		return pieceRange{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	if endPiece <= startPiece {
		return pieceRange{}, false
	}

	return pieceRange{start: startPiece, end: endPiece}, true
}

// applyRangePriority raises the priority of every piece covering r so the
// swarm scheduler favors the bytes about to be read (spec.md §4.6 step 7).
func applyRangePriority(t *torrent.Torrent, f *torrent.File, r domain.Range) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("applyRangePriority recovered from panic", slog.Any("panic", rec))
		}
	}()

	pr, ok := computePieceRange(t, f, r)
	if !ok {
		return
	}
	for i := pr.start; i < pr.end; i++ {
		t.Piece(i).SetPriority(torrent.PiecePriorityNow)
	}
}
