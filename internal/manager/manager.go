// Package manager orchestrates jobs: it turns drive insertions into jobs and
// drives each job through identification, ripping, matching, and organizing.
// At most one non-terminal job exists per drive; a job parked in review keeps
// its drive reserved until the user resolves or cancels it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"engram/internal/analyst"
	"engram/internal/config"
	"engram/internal/events"
	"engram/internal/logging"
	"engram/internal/matcher"
	"engram/internal/monitor"
	"engram/internal/ripping"
	"engram/internal/services"
	"engram/internal/state"
	"engram/internal/store"
	"engram/internal/subtitles"
	"engram/internal/tmdb"
)

// TitleMatcher pairs ripped titles with episode identities.
type TitleMatcher interface {
	MatchTitles(ctx context.Context, titles []matcher.TitleSource, corpus *subtitles.Corpus) ([]*matcher.TitleMatch, error)
}

// CorpusBuilder assembles the reference subtitle corpus for a season.
type CorpusBuilder interface {
	Build(ctx context.Context, show string, season, canonicalCount int, onProgress func(subtitles.Progress)) (*subtitles.Corpus, error)
}

// Deps are the collaborators a Manager drives. TMDB may be nil; the analyst
// then works from durations and the volume label alone.
type Deps struct {
	Store     *store.Store
	Events    *events.Broadcaster
	Tool      ripping.Tool
	Readiness ripping.ReadinessConfig
	Subtitles CorpusBuilder
	Matcher   TitleMatcher
	TMDB      tmdb.Searcher
	Logger    *slog.Logger
}

// Manager owns the per-drive job lifecycle.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	events    *events.Broadcaster
	tool      ripping.Tool
	readiness ripping.ReadinessConfig
	subtitles CorpusBuilder
	matcher   TitleMatcher
	tmdb      tmdb.Searcher
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	handles map[string]*jobHandle
	wg      sync.WaitGroup
}

// jobHandle tracks the job currently bound to a drive. cancel is nil while
// the job is parked in review and no goroutine is running it.
type jobHandle struct {
	jobID  int64
	tool   ripping.Tool
	cancel context.CancelFunc
}

// New creates a Manager. It does not start any background work.
func New(cfg *config.Config, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     deps.Store,
		events:    deps.Events,
		tool:      deps.Tool,
		readiness: deps.Readiness,
		subtitles: deps.Subtitles,
		matcher:   deps.Matcher,
		tmdb:      deps.TMDB,
		logger:    logging.NewComponentLogger(logger, "manager"),
	}
}

// Start prepares the manager for new jobs. Jobs left mid-flight by a previous
// process cannot be resumed; they are failed so the user can retry them.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("manager already running")
	}

	failed, err := m.store.FailRunningJobs(ctx, "daemon restarted during processing")
	if err != nil {
		return fmt.Errorf("fail orphaned jobs: %w", err)
	}
	if failed > 0 {
		m.logger.Warn("failed jobs orphaned by a previous run",
			logging.Int64("count", failed))
	}

	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.handles = make(map[string]*jobHandle)
	m.running = true
	return nil
}

// Stop cancels every running job and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// HandleDriveEvent reacts to monitor output. Insertions start jobs; removals
// are logged only, since the job pipeline owns the disc's fate.
func (m *Manager) HandleDriveEvent(event monitor.Event) {
	switch event.Kind {
	case monitor.EventInserted:
		if _, err := m.launch(event.Drive, event.Label, m.tool); err != nil {
			m.logger.Error("could not start job for inserted disc",
				logging.String("drive", event.Drive),
				logging.String("label", event.Label),
				logging.Error(err))
		}
	case monitor.EventRemoved:
		m.logger.Info("disc removed", logging.String("drive", event.Drive))
	}
}

// SimulateInsert behaves like a real insertion. With simulateRipping the job
// runs against a synthetic disc instead of the drive, so the full pipeline
// can be exercised without hardware.
func (m *Manager) SimulateInsert(drive, label string, contentType store.ContentType, simulateRipping bool) (*store.Job, error) {
	tool := m.tool
	if simulateRipping {
		tool = ripping.NewSimulator(simulatedTitles(contentType))
	}
	return m.launch(drive, label, tool)
}

// simulatedTitles fabricates a plausible title table for a simulated disc.
func simulatedTitles(contentType store.ContentType) []ripping.ScanTitle {
	if contentType == store.ContentTV {
		return []ripping.ScanTitle{
			{Index: 0, Name: "Episode 1", DurationSeconds: 2551, SizeBytes: 8 << 20, ChapterCount: 6, Resolution: "1920x1080"},
			{Index: 1, Name: "Episode 2", DurationSeconds: 2530, SizeBytes: 8 << 20, ChapterCount: 6, Resolution: "1920x1080"},
			{Index: 2, Name: "Episode 3", DurationSeconds: 2568, SizeBytes: 8 << 20, ChapterCount: 6, Resolution: "1920x1080"},
			{Index: 3, Name: "Bonus", DurationSeconds: 306, SizeBytes: 1 << 20, ChapterCount: 1, Resolution: "1920x1080"},
		}
	}
	return []ripping.ScanTitle{
		{Index: 0, Name: "Feature", DurationSeconds: 6600, SizeBytes: 24 << 20, ChapterCount: 24, Resolution: "1920x1080"},
		{Index: 1, Name: "Trailer", DurationSeconds: 142, SizeBytes: 1 << 20, ChapterCount: 1, Resolution: "1920x1080"},
	}
}

// launch creates a job for a drive and starts its pipeline goroutine. A
// drive with a non-terminal job, parked reviews included, refuses new jobs.
func (m *Manager) launch(drive, label string, tool ripping.Tool) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil, errors.New("manager is not running")
	}
	if handle, busy := m.handles[drive]; busy {
		return nil, fmt.Errorf("drive %s is busy with job %d", drive, handle.jobID)
	}
	if existing, err := m.store.ActiveJobForDrive(m.runCtx, drive); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("drive %s has unresolved job %d in state %s", drive, existing.ID, existing.State)
	}

	job, err := m.store.CreateJob(m.runCtx, drive, label)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(m.runCtx)
	m.handles[drive] = &jobHandle{jobID: job.ID, tool: tool, cancel: cancel}
	m.wg.Add(1)
	go m.runJob(jobCtx, job, tool)

	m.logger.Info("job started",
		logging.Int64("job_id", job.ID),
		logging.String("drive", drive),
		logging.String("label", label))
	return job, nil
}

// resume restarts the pipeline for a job coming back from review.
func (m *Manager) resume(job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return errors.New("manager is not running")
	}
	tool := m.tool
	handle := m.handles[job.Drive]
	if handle != nil && handle.jobID == job.ID && handle.tool != nil {
		tool = handle.tool
	}

	jobCtx, cancel := context.WithCancel(m.runCtx)
	m.handles[job.Drive] = &jobHandle{jobID: job.ID, tool: tool, cancel: cancel}
	m.wg.Add(1)
	go m.runJob(jobCtx, job, tool)
	return nil
}

// release drops the drive reservation. Parked jobs keep theirs: the disc is
// still in the tray and the drive must not accept new scans.
func (m *Manager) release(job *store.Job, parked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := m.handles[job.Drive]
	if handle == nil || handle.jobID != job.ID {
		return
	}
	if parked {
		handle.cancel = nil
		return
	}
	delete(m.handles, job.Drive)
}

// Cancel requests cooperative cancellation of a job. Running jobs are
// signalled and fail themselves; parked jobs are failed directly.
func (m *Manager) Cancel(ctx context.Context, jobID int64) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", jobID)
	}
	if job.IsTerminal() {
		return fmt.Errorf("job %d already finished in state %s", jobID, job.State)
	}

	m.mu.Lock()
	var cancel context.CancelFunc
	for _, handle := range m.handles {
		if handle.jobID == jobID && handle.cancel != nil {
			cancel = handle.cancel
			break
		}
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		return nil
	}
	// Parked or not yet started: no goroutine will observe the cancel.
	m.failJob(job, errors.New("cancelled by user"))
	m.release(job, false)
	return nil
}

// runJob drives one job through the pipeline and settles its terminal state.
func (m *Manager) runJob(ctx context.Context, job *store.Job, tool ripping.Tool) {
	defer m.wg.Done()

	settings, err := m.store.Settings(ctx)
	if err != nil {
		m.failJob(job, err)
		m.release(job, false)
		return
	}

	parked, err := m.runStages(ctx, job, tool, settings)
	if err != nil {
		parked = m.failJob(job, err)
	}
	m.release(job, parked)
}

// runStages executes the pipeline from the job's current state. It returns
// parked=true when the job stopped in REVIEW_NEEDED waiting for the user.
func (m *Manager) runStages(ctx context.Context, job *store.Job, tool ripping.Tool, settings *store.Settings) (parked bool, err error) {
	if job.State == state.JobIdle {
		proceed, identifyErr := m.identify(ctx, job, tool, settings)
		if identifyErr != nil {
			return false, identifyErr
		}
		if !proceed {
			return true, nil
		}
	}
	return m.runPipeline(ctx, job, tool, settings)
}

// failJob settles a job that cannot continue. Cancellation and hard errors
// go to FAILED; user-resolvable problems park the job in review instead.
// Returns true when the job was parked rather than failed.
func (m *Manager) failJob(job *store.Job, cause error) bool {
	// The job context may already be dead; persistence must not be.
	ctx := context.Background()

	message := strings.TrimSpace(cause.Error())
	cancelled := isCancelled(cause)
	switch {
	case cancelled:
		message = "cancelled by user"
	case errors.Is(cause, context.DeadlineExceeded):
		message = "operation timed out"
	}

	if !cancelled && needsReview(cause) {
		job.ReviewReason = message
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Error("persist review reason", logging.Int64("job_id", job.ID), logging.Error(err))
		}
		updated, err := m.store.TransitionJob(ctx, job.ID, state.JobReviewNeeded)
		if err == nil {
			*job = *updated
			m.publishJob(job)
			m.logger.Warn("job parked for review",
				logging.Int64("job_id", job.ID),
				logging.String("reason", message))
			return true
		}
		m.logger.Error("could not park job for review; failing it",
			logging.Int64("job_id", job.ID), logging.Error(err))
	}

	job.ErrorMessage = message
	if err := m.store.UpdateJob(ctx, job); err != nil {
		m.logger.Error("persist failure message", logging.Int64("job_id", job.ID), logging.Error(err))
	}
	updated, err := m.store.TransitionJob(ctx, job.ID, state.JobFailed)
	if err != nil {
		m.logger.Error("transition job to failed", logging.Int64("job_id", job.ID), logging.Error(err))
		return false
	}
	*job = *updated
	m.publishJob(job)
	m.logger.Error("job failed",
		logging.Int64("job_id", job.ID),
		logging.String("error", message))
	return false
}

func (m *Manager) publishJob(job *store.Job) {
	update := events.JobUpdate{
		JobID:        job.ID,
		State:        job.State,
		DiscLabel:    job.DiscLabel,
		ErrorMessage: job.ErrorMessage,
		ReviewReason: job.ReviewReason,
	}
	if job.ContentType != "" && job.ContentType != store.ContentUnknown {
		update.ContentType = string(job.ContentType)
	}
	if job.DetectedTitle != "" {
		update.DetectedTitle = job.DetectedTitle
	}
	if job.DetectedSeason > 0 {
		update.DetectedSeason = events.Ptr(job.DetectedSeason)
	}
	m.events.Publish(update)
}

func (m *Manager) publishTitle(title *store.Title) {
	update := events.TitleUpdate{
		JobID:        title.JobID,
		TitleID:      title.ID,
		State:        title.State,
		ErrorMessage: title.ErrorMessage,
	}
	if title.MatchedEpisode != "" {
		update.MatchedEpisode = title.MatchedEpisode
		update.MatchConfidence = events.Ptr(title.MatchConfidence)
	}
	if title.OrganizedTo != "" {
		update.OrganizedTo = title.OrganizedTo
	}
	if title.Skipped {
		update.Skipped = events.Ptr(true)
	}
	m.events.Publish(update)
}

// isCancelled matches deliberate aborts only. A deadline expiry is a
// timeout, not a cancellation, and keeps its own failure message.
func isCancelled(err error) bool {
	return services.IsCancelled(err) ||
		errors.Is(err, context.Canceled)
}

func needsReview(err error) bool {
	return services.NeedsReview(err)
}

// tmdbSignal asks TMDB to corroborate a parsed label. Any lookup failure
// degrades to no signal; identification never depends on the network.
func (m *Manager) tmdbSignal(ctx context.Context, parsed analyst.ParsedLabel) *analyst.TMDBSignal {
	if m.tmdb == nil || parsed.Name == "" {
		return nil
	}

	var (
		response *tmdb.Response
		content  store.ContentType
		err      error
	)
	if parsed.Season > 0 {
		content = store.ContentTV
		response, err = m.tmdb.SearchTV(ctx, parsed.Name, 0)
	} else {
		content = store.ContentMovie
		response, err = m.tmdb.SearchMovie(ctx, parsed.Name, 0)
	}
	if err != nil || response == nil || len(response.Results) == 0 {
		if err != nil {
			m.logger.Warn("tmdb lookup failed",
				logging.String("query", parsed.Name),
				logging.Error(err))
		}
		return nil
	}

	best := response.Results[0]
	confidence := 0.6
	if strings.EqualFold(best.DisplayName(), parsed.Name) {
		confidence = 0.85
	}
	return &analyst.TMDBSignal{
		ContentType: content,
		Confidence:  confidence,
		Name:        best.DisplayName(),
		ID:          best.ID,
	}
}
