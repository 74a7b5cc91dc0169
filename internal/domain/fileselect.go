package domain

import "strings"

// playableExtensions is the allow-list from spec.md §4.3: a
// case-insensitive substring match against the file's extension.
var playableExtensions = []string{"mp4", "ogg", "mov", "webmv", "mkv", "wmv", "avi"}

// IsPlayableExtension reports whether path's extension case-insensitively
// contains one of the playable extensions.
func IsPlayableExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range playableExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// ChooseLargestPlayableFile implements the Peer Client Facade's
// file-selection rule (spec.md §4.3): among files with a playable
// extension, pick the largest by length. If none match, fall back to
// index 0 and report ok=false so the caller can log a warning.
func ChooseLargestPlayableFile(files []FileRef) (chosen FileRef, ok bool) {
	if len(files) == 0 {
		return FileRef{}, false
	}

	best := -1
	for i, f := range files {
		if !IsPlayableExtension(f.Path) {
			continue
		}
		if best == -1 || f.Length > files[best].Length {
			best = i
		}
	}
	if best == -1 {
		return files[0], false
	}
	return files[best], true
}
