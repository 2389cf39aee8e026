package config

const (
	defaultStagingDir       = "~/.local/share/engram/staging"
	defaultMoviesDir        = "~/library/movies"
	defaultTVDir            = "~/library/tv"
	defaultSubtitleCacheDir = "~/.local/share/engram/cache/subtitles"
	defaultLogDir           = "~/.local/share/engram/logs"
	defaultAPIBind          = "127.0.0.1:7319"
	defaultMakeMKVBinary    = "makemkvcon"
	defaultFFmpegBinary     = "ffmpeg"
	defaultWhisperBinary    = "whisperx"
	defaultWhisperModel     = "small"
	defaultMatchLanguage    = "en"
	defaultTMDBBaseURL      = "https://api.themoviedb.org/3"
	defaultTMDBLanguage     = "en-US"
	defaultUserAgent        = "Engram/dev"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultConflictDefault  = "ask"
	defaultOpticalDrive     = "/dev/sr0"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:       defaultStagingDir,
			MoviesDir:        defaultMoviesDir,
			TVDir:            defaultTVDir,
			SubtitleCacheDir: defaultSubtitleCacheDir,
			LogDir:           defaultLogDir,
			APIBind:          defaultAPIBind,
		},
		Tools: Tools{
			MakeMKV: defaultMakeMKVBinary,
			FFmpeg:  defaultFFmpegBinary,
			Whisper: defaultWhisperBinary,
		},
		TMDB: TMDB{
			BaseURL:  defaultTMDBBaseURL,
			Language: defaultTMDBLanguage,
		},
		Subtitles: Subtitles{
			OpenSubtitlesUserAgent: defaultUserAgent,
			RequestsPerMinute:      20,
		},
		Analyst: Analyst{
			MovieMinDuration:        4800,
			TVMinDuration:           1080,
			TVMaxDuration:           4200,
			TVDurationVariance:      120,
			TVMinClusterSize:        3,
			MovieDominanceThreshold: 0.6,
		},
		Ripping: Ripping{
			ScanTimeout:      120,
			RipTimeout:       3600,
			FilePollInterval: 5.0,
			StabilityChecks:  3,
			FileReadyTimeout: 600,
		},
		Matcher: Matcher{
			ChunkSeconds:         60,
			ChunkCount:           3,
			ChunkStartOffset:     120,
			MinConfidence:        0.35,
			MaxConcurrentMatches: 2,
			WhisperModel:         defaultWhisperModel,
			Language:             defaultMatchLanguage,
		},
		Monitor: Monitor{
			Drives:       []string{defaultOpticalDrive},
			PollInterval: 2.0,
		},
		Organizer: Organizer{
			ConflictDefault: defaultConflictDefault,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
