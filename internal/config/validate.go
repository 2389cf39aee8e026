package config

import (
	"errors"
	"fmt"
	"strings"
)

var validConflictDefaults = map[string]struct{}{
	"ask":       {},
	"overwrite": {},
	"rename":    {},
	"skip":      {},
}

// Validate checks value ranges and cross-field consistency. It reports the
// first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Analyst.MovieMinDuration <= 0 {
		return errors.New("analyst.movie_min_duration must be positive")
	}
	if c.Analyst.TVMinDuration <= 0 || c.Analyst.TVMaxDuration <= c.Analyst.TVMinDuration {
		return errors.New("analyst.tv_min_duration/tv_max_duration must describe a positive range")
	}
	if c.Analyst.TVDurationVariance < 0 {
		return errors.New("analyst.tv_duration_variance must not be negative")
	}
	if c.Analyst.TVMinClusterSize < 2 {
		return errors.New("analyst.tv_min_cluster_size must be at least 2")
	}
	if c.Analyst.MovieDominanceThreshold <= 0 || c.Analyst.MovieDominanceThreshold > 1 {
		return errors.New("analyst.movie_dominance_threshold must be in (0, 1]")
	}
	if c.Ripping.ScanTimeout <= 0 {
		return errors.New("ripping.scan_timeout must be positive")
	}
	if c.Ripping.FilePollInterval <= 0 {
		return errors.New("ripping.file_poll_interval must be positive")
	}
	if c.Ripping.StabilityChecks <= 0 {
		return errors.New("ripping.stability_checks must be positive")
	}
	if c.Ripping.FileReadyTimeout <= 0 {
		return errors.New("ripping.file_ready_timeout must be positive")
	}
	if c.Matcher.ChunkSeconds <= 0 || c.Matcher.ChunkCount <= 0 {
		return errors.New("matcher.chunk_seconds and matcher.chunk_count must be positive")
	}
	if c.Matcher.MinConfidence < 0 || c.Matcher.MinConfidence > 1 {
		return errors.New("matcher.min_confidence must be in [0, 1]")
	}
	if c.Matcher.MaxConcurrentMatches <= 0 {
		return errors.New("matcher.max_concurrent_matches must be positive")
	}
	if _, ok := validConflictDefaults[c.Organizer.ConflictDefault]; !ok {
		return fmt.Errorf("organizer.conflict_default: unsupported value %q", c.Organizer.ConflictDefault)
	}
	return nil
}
