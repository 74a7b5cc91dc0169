package ports

import (
	"context"
	"io"

	"torrentstream/internal/domain"
)

// MediaProbe inspects a media file's streams, grounded on the external
// transcoder's probe(file) operation (spec.md §6).
type MediaProbe interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

// TranscodeOptions mirrors the fixed rule of spec.md §4.6 step 8: a
// container format plus converter flags.
type TranscodeOptions struct {
	Format string
	Args   []string
}

// Transcoder wraps a read stream through a converter, per spec.md §6's
// transcode(readStream, {format, options}) -> writable contract.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, opts TranscodeOptions) (io.ReadCloser, error)
}
