package store

import (
	"time"

	"engram/internal/state"
)

// ContentType classifies what a disc holds.
type ContentType string

const (
	ContentTV      ContentType = "tv"
	ContentMovie   ContentType = "movie"
	ContentUnknown ContentType = "unknown"
)

// ParseContentType converts a stored string into a known ContentType.
func ParseContentType(value string) ContentType {
	switch ContentType(value) {
	case ContentTV, ContentMovie:
		return ContentType(value)
	default:
		return ContentUnknown
	}
}

// Job represents one disc insertion persisted in SQLite.
type Job struct {
	ID             int64
	Drive          string
	DiscLabel      string
	ContentType    ContentType
	DetectedTitle  string
	DetectedSeason int
	DetectedYear   int
	DiscNumber     int
	StagingDir     string
	State          state.JobState

	ProgressPercent    float64
	ProgressSpeed      string
	ProgressETASeconds int
	ProgressTitleIndex int
	ProgressTitleTotal int

	SubsDownloaded int
	SubsTotal      int
	SubsFailed     int

	ErrorMessage string
	ReviewReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return state.IsTerminalJob(j.State)
}

// Title represents one selectable track on a disc.
type Title struct {
	ID              int64
	JobID           int64
	TitleIndex      int
	DurationSeconds int
	ExpectedBytes   int64
	ActualBytes     int64
	ChapterCount    int
	Selected        bool
	OutputName      string
	Resolution      string
	Edition         string
	State           state.TitleState
	MatchedEpisode  string
	MatchConfidence float64
	MatchDetails    string
	ConflictChoice  string
	RippedPath      string
	OrganizedFrom   string
	OrganizedTo     string
	IsExtra         bool
	Skipped         bool
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Settings is the single-row configuration record. It is created on first
// run from config defaults and mutated only through the admin API. Reads
// return a copy, so a job holds an immutable snapshot for its lifetime.
type Settings struct {
	StagingDir       string
	MoviesDir        string
	TVDir            string
	SubtitleCacheDir string

	MakeMKVPath string
	FFmpegPath  string

	TMDBAPIKey          string
	OpenSubtitlesAPIKey string
	AddicSevenAPIKey    string

	TranscodingEnabled bool

	MovieMinDuration        int
	TVMinDuration           int
	TVMaxDuration           int
	TVDurationVariance      int
	TVMinClusterSize        int
	MovieDominanceThreshold float64

	FilePollInterval float64
	StabilityChecks  int
	FileReadyTimeout int

	MonitorPollInterval float64

	MatcherMinConfidence float64
	MaxConcurrentMatches int

	ConflictDefault string

	UpdatedAt time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Active    int
	Review    int
	Completed int
	Failed    int
}
