package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir       string `toml:"staging_dir"`
	MoviesDir        string `toml:"movies_dir"`
	TVDir            string `toml:"tv_dir"`
	SubtitleCacheDir string `toml:"subtitle_cache_dir"`
	LogDir           string `toml:"log_dir"`
	DatabasePath     string `toml:"database_path"`
	APIBind          string `toml:"api_bind"`
}

// Tools contains external binary locations. Bare names resolve via PATH.
type Tools struct {
	MakeMKV string `toml:"makemkv"`
	FFmpeg  string `toml:"ffmpeg"`
	Whisper string `toml:"whisper"`
}

// TMDB contains configuration for The Movie Database API.
type TMDB struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Language string `toml:"language"`
}

// Subtitles contains subtitle provider credentials and limits.
type Subtitles struct {
	OpenSubtitlesAPIKey    string `toml:"opensubtitles_api_key"`
	OpenSubtitlesUserAgent string `toml:"opensubtitles_user_agent"`
	AddicSevenAPIKey       string `toml:"addic7ed_api_key"`
	RequestsPerMinute      int    `toml:"requests_per_minute"`
}

// Analyst contains disc classification thresholds.
type Analyst struct {
	MovieMinDuration        int     `toml:"movie_min_duration"`
	TVMinDuration           int     `toml:"tv_min_duration"`
	TVMaxDuration           int     `toml:"tv_max_duration"`
	TVDurationVariance      int     `toml:"tv_duration_variance"`
	TVMinClusterSize        int     `toml:"tv_min_cluster_size"`
	MovieDominanceThreshold float64 `toml:"movie_dominance_threshold"`
}

// Ripping contains MakeMKV invocation and file readiness settings.
type Ripping struct {
	ScanTimeout      int     `toml:"scan_timeout"`
	RipTimeout       int     `toml:"rip_timeout"`
	FilePollInterval float64 `toml:"file_poll_interval"`
	StabilityChecks  int     `toml:"stability_checks"`
	FileReadyTimeout int     `toml:"file_ready_timeout"`
}

// Matcher contains episode matching tunables.
type Matcher struct {
	ChunkSeconds         int     `toml:"chunk_seconds"`
	ChunkCount           int     `toml:"chunk_count"`
	ChunkStartOffset     int     `toml:"chunk_start_offset"`
	MinConfidence        float64 `toml:"min_confidence"`
	MaxConcurrentMatches int     `toml:"max_concurrent_matches"`
	WhisperModel         string  `toml:"whisper_model"`
	Language             string  `toml:"language"`
}

// Monitor contains drive monitor settings.
type Monitor struct {
	Drives       []string `toml:"drives"`
	PollInterval float64  `toml:"poll_interval"`
}

// Organizer contains library filing behaviour.
type Organizer struct {
	ConflictDefault string `toml:"conflict_default"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Engram.
//
// Sections by subsystem:
//   - Paths: staging, library roots, subtitle cache, log dir, API bind
//   - Tools: makemkvcon and ffmpeg locations
//   - TMDB: content identification via The Movie Database
//   - Subtitles: provider credentials for the reference corpus
//   - Analyst: disc classification thresholds
//   - Ripping: MakeMKV timeouts and file readiness protocol
//   - Matcher: fingerprint chunking and vote confidence
//   - Monitor: optical drive polling
//   - Organizer: conflict resolution default
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Tools     Tools     `toml:"tools"`
	TMDB      TMDB      `toml:"tmdb"`
	Subtitles Subtitles `toml:"subtitles"`
	Analyst   Analyst   `toml:"analyst"`
	Ripping   Ripping   `toml:"ripping"`
	Matcher   Matcher   `toml:"matcher"`
	Monitor   Monitor   `toml:"monitor"`
	Organizer Organizer `toml:"organizer"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/engram/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("engram.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Library roots are created on a best-effort basis so the daemon can run
// when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.SubtitleCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.Paths.MoviesDir, c.Paths.TVDir} {
		if strings.TrimSpace(dir) != "" {
			// Best-effort to avoid failing startup when storage is offline.
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
