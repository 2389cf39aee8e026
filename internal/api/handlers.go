package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"engram/internal/logging"
	"engram/internal/manager"
	"engram/internal/organizer"
	"engram/internal/store"
)

type jobView struct {
	ID             int64  `json:"id"`
	Drive          string `json:"drive"`
	DiscLabel      string `json:"disc_label"`
	ContentType    string `json:"content_type"`
	DetectedTitle  string `json:"detected_title,omitempty"`
	DetectedSeason int    `json:"detected_season,omitempty"`
	DetectedYear   int    `json:"detected_year,omitempty"`
	DiscNumber     int    `json:"disc_number"`
	State          string `json:"state"`

	ProgressPercent    float64 `json:"progress_percent"`
	ProgressSpeed      string  `json:"progress_speed,omitempty"`
	ProgressETASeconds int     `json:"progress_eta_seconds"`
	ProgressTitleIndex int     `json:"progress_title_index"`
	ProgressTitleTotal int     `json:"progress_title_total"`

	SubsDownloaded int `json:"subs_downloaded"`
	SubsTotal      int `json:"subs_total"`
	SubsFailed     int `json:"subs_failed"`

	ErrorMessage string    `json:"error_message,omitempty"`
	ReviewReason string    `json:"review_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type titleView struct {
	ID              int64   `json:"id"`
	TitleIndex      int     `json:"title_index"`
	DurationSeconds int     `json:"duration_seconds"`
	ExpectedBytes   int64   `json:"expected_bytes"`
	ActualBytes     int64   `json:"actual_bytes,omitempty"`
	ChapterCount    int     `json:"chapter_count"`
	Selected        bool    `json:"selected"`
	Resolution      string  `json:"resolution,omitempty"`
	State           string  `json:"state"`
	MatchedEpisode  string  `json:"matched_episode,omitempty"`
	MatchConfidence float64 `json:"match_confidence,omitempty"`
	MatchDetails    string  `json:"match_details,omitempty"`
	ConflictChoice  string  `json:"conflict_choice,omitempty"`
	OrganizedTo     string  `json:"organized_to,omitempty"`
	IsExtra         bool    `json:"is_extra"`
	Skipped         bool    `json:"skipped,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

func viewJob(job *store.Job) jobView {
	return jobView{
		ID:                 job.ID,
		Drive:              job.Drive,
		DiscLabel:          job.DiscLabel,
		ContentType:        string(job.ContentType),
		DetectedTitle:      job.DetectedTitle,
		DetectedSeason:     job.DetectedSeason,
		DetectedYear:       job.DetectedYear,
		DiscNumber:         job.DiscNumber,
		State:              string(job.State),
		ProgressPercent:    job.ProgressPercent,
		ProgressSpeed:      job.ProgressSpeed,
		ProgressETASeconds: job.ProgressETASeconds,
		ProgressTitleIndex: job.ProgressTitleIndex,
		ProgressTitleTotal: job.ProgressTitleTotal,
		SubsDownloaded:     job.SubsDownloaded,
		SubsTotal:          job.SubsTotal,
		SubsFailed:         job.SubsFailed,
		ErrorMessage:       job.ErrorMessage,
		ReviewReason:       job.ReviewReason,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}
}

func viewTitle(title *store.Title) titleView {
	return titleView{
		ID:              title.ID,
		TitleIndex:      title.TitleIndex,
		DurationSeconds: title.DurationSeconds,
		ExpectedBytes:   title.ExpectedBytes,
		ActualBytes:     title.ActualBytes,
		ChapterCount:    title.ChapterCount,
		Selected:        title.Selected,
		Resolution:      title.Resolution,
		State:           string(title.State),
		MatchedEpisode:  title.MatchedEpisode,
		MatchConfidence: title.MatchConfidence,
		MatchDetails:    title.MatchDetails,
		ConflictChoice:  title.ConflictChoice,
		OrganizedTo:     title.OrganizedTo,
		IsExtra:         title.IsExtra,
		Skipped:         title.Skipped,
		ErrorMessage:    title.ErrorMessage,
	}
}

func jobID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	return id, nil
}

func (s *Server) getHealth(c echo.Context) error {
	summary, err := s.store.Health(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"total":     summary.Total,
		"active":    summary.Active,
		"review":    summary.Review,
		"completed": summary.Completed,
		"failed":    summary.Failed,
	})
}

func (s *Server) listJobs(c echo.Context) error {
	jobs, err := s.store.ListJobs(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]jobView, len(jobs))
	for i, job := range jobs {
		views[i] = viewJob(job)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getJob(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	titles, err := s.store.TitlesForJob(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	titleViews := make([]titleView, len(titles))
	for i, title := range titles {
		titleViews[i] = viewTitle(title)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"job":    viewJob(job),
		"titles": titleViews,
	})
}

func (s *Server) deleteJob(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if !job.IsTerminal() {
		return echo.NewHTTPError(http.StatusConflict, "job is still running; cancel it first")
	}
	if _, err := s.store.DeleteJob(ctx, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) cancelJob(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	if err := s.jobs.Cancel(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) resolveJob(c echo.Context) error {
	id, err := jobID(c)
	if err != nil {
		return err
	}
	var resolution manager.Resolution
	if err := c.Bind(&resolution); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job, err := s.jobs.ResolveReview(c.Request().Context(), id, resolution)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, viewJob(job))
}

type simulateRequest struct {
	Drive           string `json:"drive"`
	Label           string `json:"label"`
	ContentType     string `json:"content_type"`
	SimulateRipping bool   `json:"simulate_ripping"`
}

func (s *Server) simulateInsert(c echo.Context) error {
	var req simulateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Drive) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "drive is required")
	}
	job, err := s.jobs.SimulateInsert(req.Drive, req.Label, store.ParseContentType(req.ContentType), req.SimulateRipping)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusCreated, viewJob(job))
}

func (s *Server) detectTools(c echo.Context) error {
	statuses := s.checker.DetectTools(c.Request().Context(), s.cfg.Tools.MakeMKV, s.cfg.Tools.FFmpeg)
	return c.JSON(http.StatusOK, statuses)
}

type validateToolRequest struct {
	Path string `json:"path"`
}

func (s *Server) validateTool(c echo.Context) error {
	var req validateToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Path) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	return c.JSON(http.StatusOK, s.checker.ValidateTool(c.Request().Context(), req.Path))
}

type ejectRequest struct {
	Drive string `json:"drive"`
}

func (s *Server) ejectDrive(c echo.Context) error {
	var req ejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Drive) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "drive is required")
	}
	if err := s.eject(req.Drive); err != nil {
		s.logger.Error("eject failed",
			logging.String("drive", req.Drive),
			logging.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ejected"})
}

type settingsView struct {
	StagingDir       string `json:"staging_dir"`
	MoviesDir        string `json:"movies_dir"`
	TVDir            string `json:"tv_dir"`
	SubtitleCacheDir string `json:"subtitle_cache_dir"`

	MakeMKVPath string `json:"makemkv_path"`
	FFmpegPath  string `json:"ffmpeg_path"`

	TMDBAPIKey          string `json:"tmdb_api_key"`
	OpenSubtitlesAPIKey string `json:"opensubtitles_api_key"`
	AddicSevenAPIKey    string `json:"addic7ed_api_key"`

	TranscodingEnabled bool `json:"transcoding_enabled"`

	MovieMinDuration        int     `json:"movie_min_duration"`
	TVMinDuration           int     `json:"tv_min_duration"`
	TVMaxDuration           int     `json:"tv_max_duration"`
	TVDurationVariance      int     `json:"tv_duration_variance"`
	TVMinClusterSize        int     `json:"tv_min_cluster_size"`
	MovieDominanceThreshold float64 `json:"movie_dominance_threshold"`

	FilePollInterval float64 `json:"file_poll_interval"`
	StabilityChecks  int     `json:"stability_checks"`
	FileReadyTimeout int     `json:"file_ready_timeout"`

	MonitorPollInterval float64 `json:"monitor_poll_interval"`

	MatcherMinConfidence float64 `json:"matcher_min_confidence"`
	MaxConcurrentMatches int     `json:"max_concurrent_matches"`

	ConflictDefault string `json:"conflict_default"`
}

func viewSettings(settings *store.Settings) settingsView {
	return settingsView{
		StagingDir:              settings.StagingDir,
		MoviesDir:               settings.MoviesDir,
		TVDir:                   settings.TVDir,
		SubtitleCacheDir:        settings.SubtitleCacheDir,
		MakeMKVPath:             settings.MakeMKVPath,
		FFmpegPath:              settings.FFmpegPath,
		TMDBAPIKey:              settings.TMDBAPIKey,
		OpenSubtitlesAPIKey:     settings.OpenSubtitlesAPIKey,
		AddicSevenAPIKey:        settings.AddicSevenAPIKey,
		TranscodingEnabled:      settings.TranscodingEnabled,
		MovieMinDuration:        settings.MovieMinDuration,
		TVMinDuration:           settings.TVMinDuration,
		TVMaxDuration:           settings.TVMaxDuration,
		TVDurationVariance:      settings.TVDurationVariance,
		TVMinClusterSize:        settings.TVMinClusterSize,
		MovieDominanceThreshold: settings.MovieDominanceThreshold,
		FilePollInterval:        settings.FilePollInterval,
		StabilityChecks:         settings.StabilityChecks,
		FileReadyTimeout:        settings.FileReadyTimeout,
		MonitorPollInterval:     settings.MonitorPollInterval,
		MatcherMinConfidence:    settings.MatcherMinConfidence,
		MaxConcurrentMatches:    settings.MaxConcurrentMatches,
		ConflictDefault:         settings.ConflictDefault,
	}
}

func applySettings(settings *store.Settings, view settingsView) {
	settings.StagingDir = view.StagingDir
	settings.MoviesDir = view.MoviesDir
	settings.TVDir = view.TVDir
	settings.SubtitleCacheDir = view.SubtitleCacheDir
	settings.MakeMKVPath = view.MakeMKVPath
	settings.FFmpegPath = view.FFmpegPath
	settings.TMDBAPIKey = view.TMDBAPIKey
	settings.OpenSubtitlesAPIKey = view.OpenSubtitlesAPIKey
	settings.AddicSevenAPIKey = view.AddicSevenAPIKey
	settings.TranscodingEnabled = view.TranscodingEnabled
	settings.MovieMinDuration = view.MovieMinDuration
	settings.TVMinDuration = view.TVMinDuration
	settings.TVMaxDuration = view.TVMaxDuration
	settings.TVDurationVariance = view.TVDurationVariance
	settings.TVMinClusterSize = view.TVMinClusterSize
	settings.MovieDominanceThreshold = view.MovieDominanceThreshold
	settings.FilePollInterval = view.FilePollInterval
	settings.StabilityChecks = view.StabilityChecks
	settings.FileReadyTimeout = view.FileReadyTimeout
	settings.MonitorPollInterval = view.MonitorPollInterval
	settings.MatcherMinConfidence = view.MatcherMinConfidence
	settings.MaxConcurrentMatches = view.MaxConcurrentMatches
	settings.ConflictDefault = view.ConflictDefault
}

func (s *Server) getSettings(c echo.Context) error {
	settings, err := s.store.Settings(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, viewSettings(settings))
}

func (s *Server) updateSettings(c echo.Context) error {
	ctx := c.Request().Context()
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	view := viewSettings(settings)
	if err := c.Bind(&view); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, ok := organizer.ParseConflictPolicy(view.ConflictDefault); !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict_default")
	}

	applySettings(settings, view)
	if err := s.store.UpdateSettings(ctx, settings); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, viewSettings(settings))
}
