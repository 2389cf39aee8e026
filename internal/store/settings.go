package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engram/internal/config"
)

const settingsColumns = "staging_dir, movies_dir, tv_dir, subtitle_cache_dir, makemkv_path, ffmpeg_path, tmdb_api_key, opensubtitles_api_key, addic7ed_api_key, transcoding_enabled, movie_min_duration, tv_min_duration, tv_max_duration, tv_duration_variance, tv_min_cluster_size, movie_dominance_threshold, file_poll_interval, stability_checks, file_ready_timeout, monitor_poll_interval, matcher_min_confidence, max_concurrent_matches, conflict_default, updated_at"

// seedSettings inserts the single settings row from config defaults. A row
// that already exists is left alone so API edits survive restarts.
func (s *Store) seedSettings(ctx context.Context, cfg *config.Config) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO settings (
            id, `+settingsColumns+`
        ) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Paths.StagingDir,
		cfg.Paths.MoviesDir,
		cfg.Paths.TVDir,
		cfg.Paths.SubtitleCacheDir,
		cfg.Tools.MakeMKV,
		cfg.Tools.FFmpeg,
		nullableString(cfg.TMDB.APIKey),
		nullableString(cfg.Subtitles.OpenSubtitlesAPIKey),
		nullableString(cfg.Subtitles.AddicSevenAPIKey),
		0,
		cfg.Analyst.MovieMinDuration,
		cfg.Analyst.TVMinDuration,
		cfg.Analyst.TVMaxDuration,
		cfg.Analyst.TVDurationVariance,
		cfg.Analyst.TVMinClusterSize,
		cfg.Analyst.MovieDominanceThreshold,
		cfg.Ripping.FilePollInterval,
		cfg.Ripping.StabilityChecks,
		cfg.Ripping.FileReadyTimeout,
		cfg.Monitor.PollInterval,
		cfg.Matcher.MinConfidence,
		cfg.Matcher.MaxConcurrentMatches,
		cfg.Organizer.ConflictDefault,
		timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// Settings returns a copy of the single settings row. Callers hold the copy
// for the lifetime of a job; later API edits do not affect it.
func (s *Store) Settings(ctx context.Context) (*Settings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`)

	var (
		settings   Settings
		tmdbKey    sql.NullString
		osKey      sql.NullString
		a7Key      sql.NullString
		transcode  int
		updatedRaw string
	)
	err := row.Scan(
		&settings.StagingDir,
		&settings.MoviesDir,
		&settings.TVDir,
		&settings.SubtitleCacheDir,
		&settings.MakeMKVPath,
		&settings.FFmpegPath,
		&tmdbKey,
		&osKey,
		&a7Key,
		&transcode,
		&settings.MovieMinDuration,
		&settings.TVMinDuration,
		&settings.TVMaxDuration,
		&settings.TVDurationVariance,
		&settings.TVMinClusterSize,
		&settings.MovieDominanceThreshold,
		&settings.FilePollInterval,
		&settings.StabilityChecks,
		&settings.FileReadyTimeout,
		&settings.MonitorPollInterval,
		&settings.MatcherMinConfidence,
		&settings.MaxConcurrentMatches,
		&settings.ConflictDefault,
		&updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("settings row missing; database was not seeded")
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings.TMDBAPIKey = tmdbKey.String
	settings.OpenSubtitlesAPIKey = osKey.String
	settings.AddicSevenAPIKey = a7Key.String
	settings.TranscodingEnabled = transcode != 0
	if updated, err := parseTimeString(updatedRaw); err == nil {
		settings.UpdatedAt = updated
	}
	return &settings, nil
}

// UpdateSettings replaces the settings row. Jobs already running keep the
// snapshot they read at creation.
func (s *Store) UpdateSettings(ctx context.Context, settings *Settings) error {
	if settings == nil {
		return errors.New("settings is nil")
	}
	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE settings
         SET staging_dir = ?, movies_dir = ?, tv_dir = ?, subtitle_cache_dir = ?,
             makemkv_path = ?, ffmpeg_path = ?, tmdb_api_key = ?,
             opensubtitles_api_key = ?, addic7ed_api_key = ?, transcoding_enabled = ?,
             movie_min_duration = ?, tv_min_duration = ?, tv_max_duration = ?,
             tv_duration_variance = ?, tv_min_cluster_size = ?, movie_dominance_threshold = ?,
             file_poll_interval = ?, stability_checks = ?, file_ready_timeout = ?,
             monitor_poll_interval = ?, matcher_min_confidence = ?, max_concurrent_matches = ?,
             conflict_default = ?, updated_at = ?
         WHERE id = 1`,
		settings.StagingDir,
		settings.MoviesDir,
		settings.TVDir,
		settings.SubtitleCacheDir,
		settings.MakeMKVPath,
		settings.FFmpegPath,
		nullableString(settings.TMDBAPIKey),
		nullableString(settings.OpenSubtitlesAPIKey),
		nullableString(settings.AddicSevenAPIKey),
		boolToInt(settings.TranscodingEnabled),
		settings.MovieMinDuration,
		settings.TVMinDuration,
		settings.TVMaxDuration,
		settings.TVDurationVariance,
		settings.TVMinClusterSize,
		settings.MovieDominanceThreshold,
		settings.FilePollInterval,
		settings.StabilityChecks,
		settings.FileReadyTimeout,
		settings.MonitorPollInterval,
		settings.MatcherMinConfidence,
		settings.MaxConcurrentMatches,
		settings.ConflictDefault,
		timestamp(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
