package ripping

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"engram/internal/config"
	"engram/internal/events"
	"engram/internal/state"
	"engram/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.MoviesDir = filepath.Join(root, "movies")
	cfg.Paths.TVDir = filepath.Join(root, "tv")
	cfg.Paths.SubtitleCacheDir = filepath.Join(root, "subcache")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.DatabasePath = filepath.Join(root, "engram.db")
	s, err := store.Open(&cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRipJob(t *testing.T, s *store.Store, contentType store.ContentType, sizes []int64) (*store.Job, []*store.Title) {
	t.Helper()
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "TEST_DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	for _, to := range []state.JobState{state.JobIdentifying, state.JobRipping} {
		if job, err = s.TransitionJob(ctx, job.ID, to); err != nil {
			t.Fatalf("TransitionJob to %s failed: %v", to, err)
		}
	}
	job.ContentType = contentType
	job.StagingDir = filepath.Join(t.TempDir(), "job")
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	titles := make([]*store.Title, 0, len(sizes))
	for i, size := range sizes {
		titles = append(titles, &store.Title{
			TitleIndex:      i,
			DurationSeconds: 2500,
			ExpectedBytes:   size,
			Selected:        true,
		})
	}
	if err := s.CreateTitles(ctx, job.ID, titles); err != nil {
		t.Fatalf("CreateTitles failed: %v", err)
	}
	return job, titles
}

func TestCoordinatorRipsTVTitles(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentTV, []int64{1000, 2000})

	sim := NewSimulator(nil)
	broadcaster := events.New(nil)
	sub := broadcaster.Subscribe(128)
	coordinator := NewCoordinator(s, broadcaster, sim, fastReadiness(), nil)

	if err := coordinator.Rip(context.Background(), job, titles); err != nil {
		t.Fatalf("Rip failed: %v", err)
	}

	stored, err := s.TitlesForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	for _, title := range stored {
		if title.State != state.TitleMatching {
			t.Fatalf("title %d state = %s, want matching", title.TitleIndex, title.State)
		}
		if title.RippedPath == "" || title.ActualBytes != title.ExpectedBytes {
			t.Fatalf("title %d output = %q (%d bytes)", title.TitleIndex, title.RippedPath, title.ActualBytes)
		}
		if _, statErr := os.Stat(title.RippedPath); statErr != nil {
			t.Fatalf("ripped file missing: %v", statErr)
		}
	}

	reloaded, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if reloaded.ProgressTitleTotal != 2 || reloaded.ProgressTitleIndex != 2 {
		t.Fatalf("job progress = %d/%d, want 2/2",
			reloaded.ProgressTitleIndex, reloaded.ProgressTitleTotal)
	}

	broadcaster.Close()
	var titleUpdates int
	for envelope := range sub.Events() {
		if envelope.Type == events.TypeTitleUpdate {
			titleUpdates++
		}
	}
	// Each title broadcasts at least ripping and its post-rip state.
	if titleUpdates < 4 {
		t.Fatalf("title update count = %d, want >= 4", titleUpdates)
	}
}

func TestCoordinatorMovieTitlesSkipMatching(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentMovie, []int64{5000})

	coordinator := NewCoordinator(s, nil, NewSimulator(nil), fastReadiness(), nil)
	if err := coordinator.Rip(context.Background(), job, titles); err != nil {
		t.Fatalf("Rip failed: %v", err)
	}

	stored, err := s.TitlesForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	if stored[0].State != state.TitleMatched {
		t.Fatalf("movie title state = %s, want matched", stored[0].State)
	}
}

func TestCoordinatorIsolatesTitleFailure(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentTV, []int64{1000, 2000, 3000})

	sim := NewSimulator(nil, WithTitleFailure(1, errors.New("read error at sector 8000")))
	coordinator := NewCoordinator(s, nil, sim, fastReadiness(), nil)

	if err := coordinator.Rip(context.Background(), job, titles); err != nil {
		t.Fatalf("one failed title must not abort the stage: %v", err)
	}

	stored, err := s.TitlesForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	if stored[0].State != state.TitleMatching || stored[2].State != state.TitleMatching {
		t.Fatalf("surviving title states = %s/%s", stored[0].State, stored[2].State)
	}
	if stored[1].State != state.TitleFailed {
		t.Fatalf("failed title state = %s, want failed", stored[1].State)
	}
	if stored[1].ErrorMessage == "" {
		t.Fatal("failed title missing error message")
	}
}

func TestCoordinatorFatalOnFirstTitle(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentTV, []int64{1000, 2000})

	sim := NewSimulator(nil, WithTitleFailure(0, errors.New("drive reset")))
	coordinator := NewCoordinator(s, nil, sim, fastReadiness(), nil)

	if err := coordinator.Rip(context.Background(), job, titles); err == nil {
		t.Fatal("expected error when the first title fails")
	}
}

func TestCoordinatorSkipsUnselectedTitles(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentTV, []int64{1000, 2000})
	titles[1].Selected = false
	if err := s.UpdateTitle(context.Background(), titles[1]); err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}

	coordinator := NewCoordinator(s, nil, NewSimulator(nil), fastReadiness(), nil)
	if err := coordinator.Rip(context.Background(), job, titles); err != nil {
		t.Fatalf("Rip failed: %v", err)
	}

	stored, err := s.TitlesForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	if stored[0].State != state.TitleMatching {
		t.Fatalf("selected title state = %s", stored[0].State)
	}
	if stored[1].State != state.TitlePending {
		t.Fatalf("unselected title state = %s, want pending", stored[1].State)
	}
}

func TestCoordinatorRequiresSelection(t *testing.T) {
	s := newTestStore(t)
	job, titles := seedRipJob(t, s, store.ContentTV, []int64{1000})
	titles[0].Selected = false
	if err := s.UpdateTitle(context.Background(), titles[0]); err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}

	coordinator := NewCoordinator(s, nil, NewSimulator(nil), fastReadiness(), nil)
	if err := coordinator.Rip(context.Background(), job, titles); err == nil {
		t.Fatal("expected error for a job with nothing selected")
	}
}
