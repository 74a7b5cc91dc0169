package domain

import "testing"

func TestIsPlayableExtension(t *testing.T) {
	cases := map[string]bool{
		"movie.mp4":               true,
		"movie.mkv":               true,
		"movie.avi":               true,
		"Movie.MP4":               true,
		"sample.mp4.transcoding":  true,
		"readme.txt":              false,
		"subtitles.srt":           false,
		"folder/episode01.webmv":  true,
	}
	for path, want := range cases {
		if got := IsPlayableExtension(path); got != want {
			t.Errorf("IsPlayableExtension(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestChooseLargestPlayableFileEmpty(t *testing.T) {
	_, ok := ChooseLargestPlayableFile(nil)
	if ok {
		t.Fatal("expected ok=false for empty input")
	}
}

func TestChooseLargestPlayableFileNoMatch(t *testing.T) {
	files := []FileRef{
		{Index: 0, Path: "readme.txt", Length: 1000},
		{Index: 1, Path: "poster.jpg", Length: 500},
	}
	chosen, ok := ChooseLargestPlayableFile(files)
	if ok {
		t.Fatal("expected ok=false when no file is playable")
	}
	if chosen.Index != 0 {
		t.Fatalf("expected fallback to index 0, got %d", chosen.Index)
	}
}

func TestChooseLargestPlayableFilePicksLargest(t *testing.T) {
	files := []FileRef{
		{Index: 0, Path: "sample.mp4", Length: 100},
		{Index: 1, Path: "movie.mkv", Length: 5_000_000},
		{Index: 2, Path: "extras.mp4", Length: 2_000_000},
		{Index: 3, Path: "subtitles.srt", Length: 10},
	}
	chosen, ok := ChooseLargestPlayableFile(files)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if chosen.Index != 1 {
		t.Fatalf("expected index 1 (largest playable file), got %d", chosen.Index)
	}
}

func TestChooseLargestPlayableFileIgnoresNonPlayable(t *testing.T) {
	files := []FileRef{
		{Index: 0, Path: "huge.iso", Length: 10_000_000_000},
		{Index: 1, Path: "movie.mp4", Length: 1000},
	}
	chosen, ok := ChooseLargestPlayableFile(files)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if chosen.Index != 1 {
		t.Fatalf("expected the only playable file (index 1) to win despite being smaller, got %d", chosen.Index)
	}
}
