package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"engram/internal/config"
	"engram/internal/state"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.MoviesDir = filepath.Join(root, "movies")
	cfg.Paths.TVDir = filepath.Join(root, "tv")
	cfg.Paths.SubtitleCacheDir = filepath.Join(root, "subcache")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.DatabasePath = filepath.Join(root, "engram.db")
	return &cfg
}

func newTestStore(t *testing.T) (*Store, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s, cfg
}

func TestCreateAndGetJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "PICARD_S1_D1")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected non-zero job ID")
	}
	if job.State != state.JobIdle {
		t.Fatalf("new job state = %s, want %s", job.State, state.JobIdle)
	}
	if job.ContentType != ContentUnknown {
		t.Fatalf("new job content type = %s, want %s", job.ContentType, ContentUnknown)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("GetJob returned nil for existing job")
	}
	if fetched.DiscLabel != "PICARD_S1_D1" {
		t.Fatalf("disc label = %q, want PICARD_S1_D1", fetched.DiscLabel)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be populated")
	}
}

func TestGetJobMissing(t *testing.T) {
	s, _ := newTestStore(t)

	job, err := s.GetJob(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestTransitionJobValid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	updated, err := s.TransitionJob(ctx, job.ID, state.JobIdentifying)
	if err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	if updated.State != state.JobIdentifying {
		t.Fatalf("state = %s, want %s", updated.State, state.JobIdentifying)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.State != state.JobIdentifying {
		t.Fatalf("persisted state = %s, want %s", fetched.State, state.JobIdentifying)
	}
}

func TestTransitionJobInvalidLeavesRowUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if _, err := s.TransitionJob(ctx, job.ID, state.JobOrganizing); !errors.Is(err, state.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.State != state.JobIdle {
		t.Fatalf("state changed after refused transition: %s", fetched.State)
	}
}

func TestTransitionJobSameStateIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, job.ID, state.JobIdle); err != nil {
		t.Fatalf("same-state transition should succeed: %v", err)
	}
}

func TestActiveJobForDrive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateJob(ctx, "/dev/sr0", "OLD")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, first.ID, state.JobIdentifying); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, first.ID, state.JobFailed); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}

	second, err := s.CreateJob(ctx, "/dev/sr0", "NEW")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	active, err := s.ActiveJobForDrive(ctx, "/dev/sr0")
	if err != nil {
		t.Fatalf("ActiveJobForDrive failed: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("active job = %+v, want ID %d", active, second.ID)
	}

	none, err := s.ActiveJobForDrive(ctx, "/dev/sr1")
	if err != nil {
		t.Fatalf("ActiveJobForDrive failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no active job on empty drive, got %+v", none)
	}
}

func TestUpdateJobDoesNotTouchState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	job.ContentType = ContentTV
	job.DetectedTitle = "Star Trek Picard"
	job.DetectedSeason = 1
	job.ProgressPercent = 42.5
	job.ProgressSpeed = "5.2 MB/s"
	job.State = state.JobRipping // must be ignored by UpdateJob
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.State != state.JobIdle {
		t.Fatalf("UpdateJob changed state to %s", fetched.State)
	}
	if fetched.DetectedTitle != "Star Trek Picard" || fetched.DetectedSeason != 1 {
		t.Fatalf("detected fields not persisted: %+v", fetched)
	}
	if fetched.ProgressPercent != 42.5 || fetched.ProgressSpeed != "5.2 MB/s" {
		t.Fatalf("progress fields not persisted: %+v", fetched)
	}
}

func TestTitlesLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	titles := []*Title{
		{TitleIndex: 0, DurationSeconds: 2700, ExpectedBytes: 4 << 30, ChapterCount: 6, Selected: true, OutputName: "title_00.mkv"},
		{TitleIndex: 1, DurationSeconds: 2712, ExpectedBytes: 4 << 30, ChapterCount: 6, Selected: true, OutputName: "title_01.mkv"},
		{TitleIndex: 2, DurationSeconds: 300, ExpectedBytes: 200 << 20, ChapterCount: 1, IsExtra: true},
	}
	if err := s.CreateTitles(ctx, job.ID, titles); err != nil {
		t.Fatalf("CreateTitles failed: %v", err)
	}
	for _, title := range titles {
		if title.ID == 0 {
			t.Fatalf("title %d has no ID after insert", title.TitleIndex)
		}
		if title.State != state.TitlePending {
			t.Fatalf("title %d state = %s, want pending", title.TitleIndex, title.State)
		}
	}

	stored, err := s.TitlesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("got %d titles, want 3", len(stored))
	}
	for i, title := range stored {
		if title.TitleIndex != i {
			t.Fatalf("titles out of order: index %d at position %d", title.TitleIndex, i)
		}
	}
	if !stored[2].IsExtra {
		t.Fatal("extra flag not persisted")
	}

	first := stored[0]
	first.ActualBytes = 4 << 30
	first.MatchedEpisode = "S01E03"
	first.MatchConfidence = 0.82
	first.Skipped = true
	if err := s.UpdateTitle(ctx, first); err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}

	fetched, err := s.GetTitle(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTitle failed: %v", err)
	}
	if fetched.MatchedEpisode != "S01E03" || fetched.MatchConfidence != 0.82 {
		t.Fatalf("match fields not persisted: %+v", fetched)
	}
	if !fetched.Skipped {
		t.Fatal("skipped flag not persisted")
	}
}

func TestTransitionTitle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	titles := []*Title{{TitleIndex: 0, DurationSeconds: 2700, Selected: true}}
	if err := s.CreateTitles(ctx, job.ID, titles); err != nil {
		t.Fatalf("CreateTitles failed: %v", err)
	}
	id := titles[0].ID

	if _, err := s.TransitionTitle(ctx, id, state.TitleRipping); err != nil {
		t.Fatalf("pending -> ripping failed: %v", err)
	}
	if _, err := s.TransitionTitle(ctx, id, state.TitleCompleted); !errors.Is(err, state.ErrInvalidTransition) {
		t.Fatalf("ripping -> completed should be refused, got %v", err)
	}

	fetched, err := s.GetTitle(ctx, id)
	if err != nil {
		t.Fatalf("GetTitle failed: %v", err)
	}
	if fetched.State != state.TitleRipping {
		t.Fatalf("state after refused transition = %s", fetched.State)
	}
}

func TestDeleteJobCascadesTitles(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	titles := []*Title{{TitleIndex: 0, DurationSeconds: 2700}}
	if err := s.CreateTitles(ctx, job.ID, titles); err != nil {
		t.Fatalf("CreateTitles failed: %v", err)
	}

	deleted, err := s.DeleteJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected DeleteJob to report a deletion")
	}

	orphans, err := s.TitlesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("TitlesForJob failed: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("titles survived job deletion: %d rows", len(orphans))
	}
}

func TestFailRunningJobs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	running, err := s.CreateJob(ctx, "/dev/sr0", "RUNNING")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, running.ID, state.JobIdentifying); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, running.ID, state.JobRipping); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}

	idle, err := s.CreateJob(ctx, "/dev/sr1", "IDLE")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	count, err := s.FailRunningJobs(ctx, "daemon restarted during processing")
	if err != nil {
		t.Fatalf("FailRunningJobs failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("failed %d jobs, want 1", count)
	}

	failed, err := s.GetJob(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if failed.State != state.JobFailed {
		t.Fatalf("running job state = %s, want failed", failed.State)
	}
	if failed.ErrorMessage != "daemon restarted during processing" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}

	untouched, err := s.GetJob(ctx, idle.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if untouched.State != state.JobIdle {
		t.Fatalf("idle job state = %s, want idle", untouched.State)
	}
}

func TestHealthSummary(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "/dev/sr0", "A")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, job.ID, state.JobIdentifying); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, job.ID, state.JobReviewNeeded); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	other, err := s.CreateJob(ctx, "/dev/sr1", "B")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, other.ID, state.JobIdentifying); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}
	done, err := s.CreateJob(ctx, "/dev/sr2", "C")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := s.TransitionJob(ctx, done.ID, state.JobFailed); err != nil {
		t.Fatalf("TransitionJob failed: %v", err)
	}

	health, err := s.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 {
		t.Fatalf("total = %d, want 3", health.Total)
	}
	if health.Review != 1 {
		t.Fatalf("review = %d, want 1", health.Review)
	}
	if health.Active != 1 {
		t.Fatalf("active = %d, want 1", health.Active)
	}
	if health.Failed != 1 {
		t.Fatalf("failed = %d, want 1", health.Failed)
	}
}

func TestSettingsSeedAndUpdate(t *testing.T) {
	s, cfg := newTestStore(t)
	ctx := context.Background()

	settings, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if settings.StagingDir != cfg.Paths.StagingDir {
		t.Fatalf("staging dir = %q, want %q", settings.StagingDir, cfg.Paths.StagingDir)
	}
	if settings.MovieMinDuration != 4800 {
		t.Fatalf("movie_min_duration = %d, want 4800", settings.MovieMinDuration)
	}
	if settings.ConflictDefault != "ask" {
		t.Fatalf("conflict_default = %q, want ask", settings.ConflictDefault)
	}

	settings.TMDBAPIKey = "secret"
	settings.MaxConcurrentMatches = 4
	if err := s.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	reread, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if reread.TMDBAPIKey != "secret" || reread.MaxConcurrentMatches != 4 {
		t.Fatalf("settings update not persisted: %+v", reread)
	}
}

func TestReopenPreservesDataAndSettings(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	job, err := s.CreateJob(ctx, "/dev/sr0", "DISC")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	settings.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"
	if err := s.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	fetched, err := reopened.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("job lost across reopen")
	}
	kept, err := reopened.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if kept.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("settings edit lost across reopen: %q", kept.FFmpegPath)
	}
}
