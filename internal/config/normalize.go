package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeTMDB()
	c.normalizeSubtitles()
	c.normalizeMonitor()
	c.normalizeOrganizer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.MoviesDir) == "" {
		c.Paths.MoviesDir = defaultMoviesDir
	}
	if c.Paths.MoviesDir, err = expandPath(c.Paths.MoviesDir); err != nil {
		return fmt.Errorf("paths.movies_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TVDir) == "" {
		c.Paths.TVDir = defaultTVDir
	}
	if c.Paths.TVDir, err = expandPath(c.Paths.TVDir); err != nil {
		return fmt.Errorf("paths.tv_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SubtitleCacheDir) == "" {
		c.Paths.SubtitleCacheDir = defaultSubtitleCacheDir
	}
	if c.Paths.SubtitleCacheDir, err = expandPath(c.Paths.SubtitleCacheDir); err != nil {
		return fmt.Errorf("paths.subtitle_cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.LogDir, "engram.db")
	} else if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.MakeMKV = strings.TrimSpace(c.Tools.MakeMKV)
	if c.Tools.MakeMKV == "" {
		c.Tools.MakeMKV = defaultMakeMKVBinary
	}
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = defaultFFmpegBinary
	}
	c.Tools.Whisper = strings.TrimSpace(c.Tools.Whisper)
	if c.Tools.Whisper == "" {
		c.Tools.Whisper = defaultWhisperBinary
	}
	if strings.TrimSpace(c.Matcher.WhisperModel) == "" {
		c.Matcher.WhisperModel = defaultWhisperModel
	}
	if strings.TrimSpace(c.Matcher.Language) == "" {
		c.Matcher.Language = defaultMatchLanguage
	}
}

func (c *Config) normalizeTMDB() {
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	c.TMDB.BaseURL = strings.TrimSpace(c.TMDB.BaseURL)
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	if strings.TrimSpace(c.TMDB.Language) == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
}

func (c *Config) normalizeSubtitles() {
	c.Subtitles.OpenSubtitlesAPIKey = strings.TrimSpace(c.Subtitles.OpenSubtitlesAPIKey)
	c.Subtitles.AddicSevenAPIKey = strings.TrimSpace(c.Subtitles.AddicSevenAPIKey)
	if strings.TrimSpace(c.Subtitles.OpenSubtitlesUserAgent) == "" {
		c.Subtitles.OpenSubtitlesUserAgent = defaultUserAgent
	}
	if c.Subtitles.RequestsPerMinute <= 0 {
		c.Subtitles.RequestsPerMinute = 20
	}
}

func (c *Config) normalizeMonitor() {
	drives := make([]string, 0, len(c.Monitor.Drives))
	seen := map[string]struct{}{}
	for _, drive := range c.Monitor.Drives {
		drive = strings.TrimSpace(drive)
		if drive == "" {
			continue
		}
		if _, ok := seen[drive]; ok {
			continue
		}
		seen[drive] = struct{}{}
		drives = append(drives, drive)
	}
	if len(drives) == 0 {
		drives = []string{defaultOpticalDrive}
	}
	c.Monitor.Drives = drives
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 2.0
	}
}

func (c *Config) normalizeOrganizer() {
	c.Organizer.ConflictDefault = strings.ToLower(strings.TrimSpace(c.Organizer.ConflictDefault))
	if c.Organizer.ConflictDefault == "" {
		c.Organizer.ConflictDefault = defaultConflictDefault
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
