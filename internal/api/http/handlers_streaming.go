package apihttp

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
	"torrentstream/internal/fsys"
	"torrentstream/internal/metrics"
)

// handleWatch implements the 8-step streaming algorithm of spec.md §4.6,
// grounded on the teacher's handlers_streaming.go fast-path/range split.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := domain.ItemID(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}

	dir := fsys.DirFor(s.root, id)
	if fsys.IsEmpty(dir) {
		writeError(w, http.StatusNotFound, "not_found", "download not found")
		return
	}

	files, err := fsys.ListFiles(dir)
	if err != nil {
		s.logger.Error("list files failed", slog.String("id", string(id)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	path, ok := pickMediaFile(files)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no playable file")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.logger.Error("stat media file failed", slog.String("id", string(id)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	mediaSize := info.Size()

	start, end := int64(0), mediaSize-1
	chunkSize := mediaSize
	status := http.StatusOK

	if rangeHeader := strings.TrimSpace(r.Header.Get("Range")); rangeHeader != "" {
		rs, re, err := parseByteRange(rangeHeader, mediaSize)
		if err != nil {
			if errors.Is(err, errRangeNotSatisfiable) {
				w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(mediaSize, 10))
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		start, end = rs, re
		chunkSize = end - start + 1
		status = http.StatusPartialContent
	}

	handle, live := s.queue.LiveHandle(id)

	var body io.ReadCloser
	var knownLength bool
	if live {
		body, err = handle.Session.NewReader(domain.Range{Start: start, End: end})
		if err != nil {
			s.logger.Error("live reader open failed", slog.String("id", string(id)), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		knownLength = false
	} else {
		body, err = openFileRange(path, start, chunkSize)
		if err != nil {
			s.logger.Error("file open failed", slog.String("id", string(id)), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		knownLength = true
	}
	defer func() { body.Close() }()

	if s.transcodeRequested(r) {
		probed, perr := s.prober.Probe(r.Context(), path)
		if perr != nil {
			s.logger.Warn("probe failed, falling back to raw stream", slog.String("id", string(id)), slog.Any("error", perr))
		} else if shouldTranscode(r, probed) {
			transcoded, terr := s.transcoder.Transcode(r.Context(), body, ports.TranscodeOptions{
				Format: "matroska",
				Args:   []string{"-movflags", "faststart"},
			})
			if terr != nil {
				s.logger.Error("transcode start failed, falling back to raw stream", slog.String("id", string(id)), slog.Any("error", terr))
				metrics.TranscodeInvocationsTotal.WithLabelValues("error").Inc()
			} else {
				metrics.TranscodeInvocationsTotal.WithLabelValues("started").Inc()
				original := body
				body = &closeBoth{ReadCloser: transcoded, also: original}
				knownLength = false
			}
		}
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(chunkSize, 10))
		w.Header().Set("Content-Length", strconv.FormatInt(chunkSize, 10))
	} else if knownLength {
		w.Header().Set("Content-Length", strconv.FormatInt(chunkSize, 10))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("stream copy ended", slog.String("id", string(id)), slog.Any("error", err))
	}
}

// pickMediaFile applies the extension allow-list of spec.md §4.3,
// excluding any path containing "transcoding", and picks the longest
// surviving path as the stable tie-break (spec.md §4.6 step 2).
func pickMediaFile(files []string) (string, bool) {
	best := ""
	for _, f := range files {
		if strings.Contains(f, "transcoding") {
			continue
		}
		if !domain.IsPlayableExtension(f) {
			continue
		}
		if len(f) > len(best) {
			best = f
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// transcodeRequested reports whether the query asked for the transcoding
// gate to be evaluated at all (spec.md §4.6 step 8 / §6).
func (s *Server) transcodeRequested(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("device"), "chromecast") {
		return true
	}
	return isTruthy(r.URL.Query().Get("transcode"))
}

// shouldTranscode applies the codec blacklist / forceTranscoding rule
// once the gate above has already triggered.
func shouldTranscode(r *http.Request, info domain.MediaInfo) bool {
	if isTruthy(r.URL.Query().Get("forceTranscoding")) {
		return true
	}
	switch strings.ToLower(info.VideoCodec()) {
	case "hevc":
		return true
	default:
		return false
	}
}

func isTruthy(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "false", "0", "no":
		return false
	default:
		return true
	}
}

// openFileRange opens path, seeks to start, and limits reads to n bytes.
func openFileRange(path string, start, n int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &limitedFile{f: f, remaining: n}, nil
}

type limitedFile struct {
	f         *os.File
	remaining int64
}

func (l *limitedFile) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.f.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedFile) Close() error {
	return l.f.Close()
}

// closeBoth closes the transcoded process stream, then the underlying
// source reader it was piping from — the source is kept open for as long
// as ffmpeg might still be reading from it (spec.md §4.6 step 8).
type closeBoth struct {
	io.ReadCloser
	also io.ReadCloser
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if cerr := c.also.Close(); err == nil {
		err = cerr
	}
	return err
}
