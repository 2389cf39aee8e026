package events

import "engram/internal/state"

// Event type tags carried in the envelope.
const (
	TypeDriveEvent       = "drive_event"
	TypeJobUpdate        = "job_update"
	TypeTitleUpdate      = "title_update"
	TypeTitlesDiscovered = "titles_discovered"
	TypeSubtitleEvent    = "subtitle_event"
)

// Message is a broadcastable record. Implementations are plain structs whose
// optional fields are omitted from JSON when unset, so a client merging
// updates via shallow overlay never has a set value clobbered by a default.
type Message interface {
	EventType() string
}

// Envelope wraps a message with its type tag for the push channel.
type Envelope struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Payload   Message `json:"payload"`
}

// DriveEvent reports a disc insertion or removal on one drive.
type DriveEvent struct {
	Drive       string `json:"drive_id"`
	Event       string `json:"event"`
	VolumeLabel string `json:"volume_label,omitempty"`
}

func (DriveEvent) EventType() string { return TypeDriveEvent }

// JobUpdate reports a job state change or progress tick.
type JobUpdate struct {
	JobID          int64          `json:"job_id"`
	State          state.JobState `json:"state"`
	DiscLabel      string         `json:"disc_label,omitempty"`
	ContentType    string         `json:"content_type,omitempty"`
	DetectedTitle  string         `json:"detected_title,omitempty"`
	DetectedSeason *int           `json:"detected_season,omitempty"`
	Percent        *float64       `json:"progress_percent,omitempty"`
	Speed          string         `json:"progress_speed,omitempty"`
	ETASeconds     *int           `json:"progress_eta_seconds,omitempty"`
	TitleIndex     *int           `json:"progress_title_index,omitempty"`
	TitleTotal     *int           `json:"progress_title_total,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ReviewReason   string         `json:"review_reason,omitempty"`
}

func (JobUpdate) EventType() string { return TypeJobUpdate }

// TitleUpdate reports a single title's state change.
type TitleUpdate struct {
	JobID           int64            `json:"job_id"`
	TitleID         int64            `json:"title_id"`
	State           state.TitleState `json:"state"`
	MatchedEpisode  string           `json:"matched_episode,omitempty"`
	MatchConfidence *float64         `json:"match_confidence,omitempty"`
	OrganizedTo     string           `json:"organized_to,omitempty"`
	Skipped         *bool            `json:"skipped,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

func (TitleUpdate) EventType() string { return TypeTitleUpdate }

// DiscoveredTitle summarizes one title for the discovery message.
type DiscoveredTitle struct {
	TitleID         int64  `json:"title_id"`
	TitleIndex      int    `json:"title_index"`
	DurationSeconds int    `json:"duration_seconds"`
	ChapterCount    int    `json:"chapter_count"`
	Selected        bool   `json:"selected"`
	IsExtra         bool   `json:"is_extra"`
	Resolution      string `json:"resolution,omitempty"`
}

// TitlesDiscovered carries the analyst's verdict for a scanned disc.
type TitlesDiscovered struct {
	JobID          int64             `json:"job_id"`
	Titles         []DiscoveredTitle `json:"titles"`
	ContentType    string            `json:"content_type"`
	DetectedTitle  string            `json:"detected_title,omitempty"`
	DetectedSeason *int              `json:"detected_season,omitempty"`
}

func (TitlesDiscovered) EventType() string { return TypeTitlesDiscovered }

// SubtitleEvent reports reference-corpus download progress for a job.
type SubtitleEvent struct {
	JobID       int64  `json:"job_id"`
	Status      string `json:"status"`
	Downloaded  int    `json:"downloaded"`
	Total       int    `json:"total"`
	FailedCount int    `json:"failed_count"`
}

func (SubtitleEvent) EventType() string { return TypeSubtitleEvent }

// Ptr returns a pointer to v, for populating optional message fields.
func Ptr[T any](v T) *T {
	return &v
}
