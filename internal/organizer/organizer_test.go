package organizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestMoviePathGrammar(t *testing.T) {
	lib := Library{MoviesRoot: "/library/movies", TVRoot: "/library/tv"}

	got := lib.MoviePath("blade runner", 1982)
	want := "/library/movies/Blade Runner (1982)/Blade Runner (1982).mkv"
	if got != want {
		t.Fatalf("MoviePath = %q, want %q", got, want)
	}

	yearless := lib.MoviePath("Primer", 0)
	if yearless != "/library/movies/Primer/Primer.mkv" {
		t.Fatalf("yearless MoviePath = %q", yearless)
	}
}

func TestEpisodePathGrammar(t *testing.T) {
	lib := Library{TVRoot: "/library/tv"}

	got := lib.EpisodePath("star trek: picard", "S01E03")
	want := "/library/tv/Star Trek Picard/Season 01/Star Trek Picard - S01E03.mkv"
	if got != want {
		t.Fatalf("EpisodePath = %q, want %q", got, want)
	}
}

func TestExtraPathGrammar(t *testing.T) {
	lib := Library{TVRoot: "/library/tv"}

	got := lib.ExtraPath("The Wire", 4, 2, 3)
	want := "/library/tv/The Wire/Season 04/Extras/Disc 2/extra_3.mkv"
	if got != want {
		t.Fatalf("ExtraPath = %q, want %q", got, want)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	if policy, ok := ParseConflictPolicy(" Rename "); !ok || policy != ConflictRename {
		t.Fatalf("ParseConflictPolicy = (%q, %v)", policy, ok)
	}
	if _, ok := ParseConflictPolicy("prompt"); ok {
		t.Fatal("unknown policy accepted")
	}
}

func TestPlaceMovesAndCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, root, "title_t00.mkv", "payload")
	dest := filepath.Join(root, "tv", "Show", "Season 01", "Show - S01E01.mkv")

	result, err := New(ConflictAsk, nil).Place(context.Background(), src, dest, "")
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if !result.Moved || result.Destination != dest {
		t.Fatalf("result = %+v", result)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source still present after move")
	}
}

func TestPlaceAskDefersToReview(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, root, "incoming.mkv", "new")
	dest := writeSource(t, root, "existing.mkv", "old")

	result, err := New(ConflictAsk, nil).Place(context.Background(), src, dest, "")
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if !result.NeedsReview || result.Destination != dest {
		t.Fatalf("result = %+v", result)
	}
	if result.ReviewReason == "" {
		t.Fatal("review reason missing")
	}
	// Nothing moved, nothing clobbered.
	if data, _ := os.ReadFile(dest); string(data) != "old" {
		t.Fatalf("existing file changed: %q", data)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source disturbed: %v", err)
	}
}

func TestPlaceOverwrite(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, root, "incoming.mkv", "new")
	dest := writeSource(t, root, "existing.mkv", "old")

	result, err := New(ConflictAsk, nil).Place(context.Background(), src, dest, ConflictOverwrite)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if !result.Moved {
		t.Fatalf("result = %+v", result)
	}
	if data, _ := os.ReadFile(dest); string(data) != "new" {
		t.Fatalf("destination content = %q, want overwritten", data)
	}
}

func TestPlaceRenameFindsFreeSlot(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, root, "incoming.mkv", "new")
	writeSource(t, root, "Show - S01E01.mkv", "old")
	writeSource(t, root, "Show - S01E01 (2).mkv", "older")
	dest := filepath.Join(root, "Show - S01E01.mkv")

	result, err := New(ConflictAsk, nil).Place(context.Background(), src, dest, ConflictRename)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	want := filepath.Join(root, "Show - S01E01 (3).mkv")
	if result.Destination != want {
		t.Fatalf("renamed destination = %q, want %q", result.Destination, want)
	}
	if data, _ := os.ReadFile(want); string(data) != "new" {
		t.Fatalf("renamed file content = %q", data)
	}
}

func TestPlaceSkipLeavesExisting(t *testing.T) {
	root := t.TempDir()
	src := writeSource(t, root, "incoming.mkv", "new")
	dest := writeSource(t, root, "existing.mkv", "old")

	result, err := New(ConflictSkip, nil).Place(context.Background(), src, dest, "")
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("result = %+v", result)
	}
	if data, _ := os.ReadFile(dest); string(data) != "old" {
		t.Fatalf("existing file changed: %q", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("skip must discard the staged source, stat = %v", err)
	}
}

func TestPlaceMissingSourceFails(t *testing.T) {
	root := t.TempDir()
	_, err := New(ConflictAsk, nil).Place(context.Background(),
		filepath.Join(root, "missing.mkv"), filepath.Join(root, "dest.mkv"), "")
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}
