package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"engram/internal/analyst"
	"engram/internal/events"
	"engram/internal/logging"
	"engram/internal/matcher"
	"engram/internal/organizer"
	"engram/internal/ripping"
	"engram/internal/services"
	"engram/internal/state"
	"engram/internal/store"
	"engram/internal/subtitles"
)

// identify scans the disc, classifies it, and persists the title table.
// It returns proceed=false when the job parked in review.
func (m *Manager) identify(ctx context.Context, job *store.Job, tool ripping.Tool, settings *store.Settings) (bool, error) {
	updated, err := m.store.TransitionJob(ctx, job.ID, state.JobIdentifying)
	if err != nil {
		return false, err
	}
	*job = *updated
	m.publishJob(job)

	scanned, err := tool.Scan(ctx, job.Drive)
	if err != nil {
		return false, err
	}

	infos := make([]analyst.TitleInfo, len(scanned))
	for i, title := range scanned {
		infos[i] = analyst.TitleInfo{
			Index:           title.Index,
			DurationSeconds: title.DurationSeconds,
			SizeBytes:       title.SizeBytes,
			ChapterCount:    title.ChapterCount,
			Name:            title.Name,
			Resolution:      title.Resolution,
		}
	}

	signal := m.tmdbSignal(ctx, analyst.ParseLabel(job.DiscLabel))
	verdict := analyst.New(analyst.ThresholdsFromSettings(settings), m.logger).
		Classify(infos, job.DiscLabel, signal)

	job.ContentType = verdict.ContentType
	job.DetectedTitle = verdict.DetectedName
	job.DetectedSeason = verdict.DetectedSeason
	job.DetectedYear = verdict.DetectedYear
	if verdict.DetectedDisc > 0 {
		job.DiscNumber = verdict.DetectedDisc
	}
	job.StagingDir = filepath.Join(settings.StagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(job.StagingDir, 0o755); err != nil {
		return false, services.Wrap(services.ErrConfiguration, "manager", "identify",
			"staging directory is not writable", err)
	}
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return false, err
	}

	titles := buildTitles(job, scanned, verdict, settings)
	if err := m.store.CreateTitles(ctx, job.ID, titles); err != nil {
		return false, err
	}
	m.publishDiscovery(job, titles)

	needsReview := verdict.NeedsReview
	reason := verdict.ReviewReason
	if !needsReview && job.ContentType == store.ContentMovie && job.DetectedTitle == "" {
		needsReview = true
		reason = fmt.Sprintf("Generic volume label %q; supply a name before organizing", job.DiscLabel)
	}
	if needsReview {
		job.ReviewReason = reason
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return false, err
		}
		updated, err := m.store.TransitionJob(ctx, job.ID, state.JobReviewNeeded)
		if err != nil {
			return false, err
		}
		*job = *updated
		m.publishJob(job)
		m.logger.Info("disc needs review before ripping",
			logging.Int64("job_id", job.ID),
			logging.String("reason", reason))
		return false, nil
	}

	updated, err = m.store.TransitionJob(ctx, job.ID, state.JobRipping)
	if err != nil {
		return false, err
	}
	*job = *updated
	m.publishJob(job)
	return true, nil
}

// buildTitles converts scan output into persisted titles with the selection
// the verdict implies. Play-all concatenations are never selected.
func buildTitles(job *store.Job, scanned []ripping.ScanTitle, verdict analyst.Result, settings *store.Settings) []*store.Title {
	titles := make([]*store.Title, 0, len(scanned))
	for _, scan := range scanned {
		title := &store.Title{
			JobID:           job.ID,
			TitleIndex:      scan.Index,
			DurationSeconds: scan.DurationSeconds,
			ExpectedBytes:   scan.SizeBytes,
			ChapterCount:    scan.ChapterCount,
			Resolution:      scan.Resolution,
		}

		playAll := slices.Contains(verdict.PlayAllIndices, scan.Index)
		switch verdict.ContentType {
		case store.ContentTV:
			switch {
			case playAll:
				// Ripping the concatenation would duplicate every episode.
			case slices.Contains(verdict.EpisodeIndices, scan.Index):
				title.Selected = true
			case scan.DurationSeconds > 0 && scan.DurationSeconds < settings.TVMinDuration:
				title.Selected = true
				title.IsExtra = true
			}
		case store.ContentMovie:
			if !verdict.NeedsReview && scan.DurationSeconds >= settings.MovieMinDuration {
				title.Selected = true
			}
		}
		titles = append(titles, title)
	}

	// An unambiguous movie rips exactly one title: the longest long one.
	if verdict.ContentType == store.ContentMovie && !verdict.NeedsReview {
		var best *store.Title
		for _, title := range titles {
			if title.Selected && (best == nil || title.DurationSeconds > best.DurationSeconds) {
				best = title
			}
		}
		for _, title := range titles {
			title.Selected = title == best
		}
	}
	return titles
}

func (m *Manager) publishDiscovery(job *store.Job, titles []*store.Title) {
	discovered := make([]events.DiscoveredTitle, len(titles))
	for i, title := range titles {
		discovered[i] = events.DiscoveredTitle{
			TitleID:         title.ID,
			TitleIndex:      title.TitleIndex,
			DurationSeconds: title.DurationSeconds,
			ChapterCount:    title.ChapterCount,
			Selected:        title.Selected,
			IsExtra:         title.IsExtra,
			Resolution:      title.Resolution,
		}
	}
	message := events.TitlesDiscovered{
		JobID:         job.ID,
		Titles:        discovered,
		ContentType:   string(job.ContentType),
		DetectedTitle: job.DetectedTitle,
	}
	if job.DetectedSeason > 0 {
		message.DetectedSeason = events.Ptr(job.DetectedSeason)
	}
	m.events.Publish(message)
}

// runPipeline executes RIPPING onward. Entered fresh from identify or again
// after a review resolution; stages with nothing left to do pass through.
func (m *Manager) runPipeline(ctx context.Context, job *store.Job, tool ripping.Tool, settings *store.Settings) (parked bool, err error) {
	titles, err := m.store.TitlesForJob(ctx, job.ID)
	if err != nil {
		return false, err
	}

	if hasPendingSelection(titles) {
		coordinator := ripping.NewCoordinator(m.store, m.events, tool, m.readiness, m.logger)
		if err := coordinator.Rip(ctx, job, titles); err != nil {
			return false, err
		}
		if titles, err = m.store.TitlesForJob(ctx, job.ID); err != nil {
			return false, err
		}
	}

	if countInState(titles, state.TitleMatching) > 0 {
		updated, err := m.store.TransitionJob(ctx, job.ID, state.JobMatching)
		if err != nil {
			return false, err
		}
		*job = *updated
		m.publishJob(job)

		if parked, err = m.matchStage(ctx, job, titles, settings); err != nil || parked {
			return parked, err
		}
		if titles, err = m.store.TitlesForJob(ctx, job.ID); err != nil {
			return false, err
		}
	}

	if countInState(titles, state.TitleMatched) == 0 {
		return false, errors.New("every selected title failed to rip")
	}

	updated, err := m.store.TransitionJob(ctx, job.ID, state.JobOrganizing)
	if err != nil {
		return false, err
	}
	*job = *updated
	m.publishJob(job)

	return m.organizeStage(ctx, job, titles, settings)
}

func hasPendingSelection(titles []*store.Title) bool {
	for _, title := range titles {
		if title.Selected && title.State == state.TitlePending {
			return true
		}
	}
	return false
}

func countInState(titles []*store.Title, want state.TitleState) int {
	count := 0
	for _, title := range titles {
		if title.State == want {
			count++
		}
	}
	return count
}

// matchStage pairs every title in MATCHING with an episode identity.
func (m *Manager) matchStage(ctx context.Context, job *store.Job, titles []*store.Title, settings *store.Settings) (parked bool, err error) {
	show := job.DetectedTitle
	if show == "" {
		show = job.DiscLabel
	}
	season := job.DetectedSeason
	if season <= 0 {
		season = 1
	}

	corpus, err := m.buildCorpus(ctx, job, show, season)
	if err != nil {
		return false, err
	}

	var sources []matcher.TitleSource
	for _, title := range titles {
		if title.State != state.TitleMatching {
			continue
		}
		sources = append(sources, matcher.TitleSource{
			TitleID:         title.ID,
			TitleIndex:      title.TitleIndex,
			Path:            title.RippedPath,
			DurationSeconds: title.DurationSeconds,
		})
	}

	matches, err := m.matcher.MatchTitles(ctx, sources, corpus)
	if err != nil {
		return false, err
	}

	review := 0
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		title, err := m.store.GetTitle(ctx, match.TitleID)
		if err != nil {
			return false, err
		}
		if details, marshalErr := json.Marshal(match); marshalErr == nil {
			title.MatchDetails = string(details)
		}

		next := state.TitleMatched
		if match.NeedsReview {
			next = state.TitleReview
			review++
		} else {
			title.MatchedEpisode = match.Episode
			title.MatchConfidence = match.Confidence
		}
		if err := m.store.UpdateTitle(ctx, title); err != nil {
			return false, err
		}
		updated, err := m.store.TransitionTitle(ctx, title.ID, next)
		if err != nil {
			return false, err
		}
		m.publishTitle(updated)
	}

	if review > 0 {
		job.ReviewReason = fmt.Sprintf("%d title(s) need a manual episode assignment", review)
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return false, err
		}
		updated, err := m.store.TransitionJob(ctx, job.ID, state.JobReviewNeeded)
		if err != nil {
			return false, err
		}
		*job = *updated
		m.publishJob(job)
		return true, nil
	}
	return false, nil
}

// buildCorpus assembles the reference subtitles, reporting progress as
// subtitle events and mirroring the counters onto the job row.
func (m *Manager) buildCorpus(ctx context.Context, job *store.Job, show string, season int) (*subtitles.Corpus, error) {
	canonical := m.canonicalEpisodeCount(ctx, show, season)

	onProgress := func(progress subtitles.Progress) {
		job.SubsDownloaded = progress.Downloaded
		job.SubsTotal = progress.Total
		job.SubsFailed = progress.Failed
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Warn("persist subtitle progress", logging.Error(err))
		}
		m.events.Publish(events.SubtitleEvent{
			JobID:       job.ID,
			Status:      "downloading",
			Downloaded:  progress.Downloaded,
			Total:       progress.Total,
			FailedCount: progress.Failed,
		})
	}

	corpus, err := m.subtitles.Build(ctx, show, season, canonical, onProgress)
	if err != nil {
		return nil, err
	}

	status := "ready"
	if len(corpus.Episodes) == 0 {
		status = "empty"
	} else if !corpus.Complete() {
		status = "partial"
		m.logger.Warn("reference corpus is incomplete; matching continues",
			logging.String("show", show),
			logging.Int("season", season),
			logging.Int("episodes", len(corpus.Episodes)),
			logging.Int("canonical", corpus.Canonical))
	}
	m.events.Publish(events.SubtitleEvent{
		JobID:       job.ID,
		Status:      status,
		Downloaded:  len(corpus.Episodes),
		Total:       job.SubsTotal,
		FailedCount: len(corpus.Failed),
	})
	return corpus, nil
}

// canonicalEpisodeCount asks TMDB how many episodes the season has. Zero
// means unknown and restricts the corpus to cache contents.
func (m *Manager) canonicalEpisodeCount(ctx context.Context, show string, season int) int {
	if m.tmdb == nil || show == "" {
		return 0
	}
	response, err := m.tmdb.SearchTV(ctx, show, 0)
	if err != nil || response == nil || len(response.Results) == 0 {
		return 0
	}
	payload, err := m.tmdb.GetSeason(ctx, response.Results[0].ID, season)
	if err != nil || payload == nil {
		return 0
	}
	return len(payload.Episodes)
}

// organizeStage files every matched title into the library.
func (m *Manager) organizeStage(ctx context.Context, job *store.Job, titles []*store.Title, settings *store.Settings) (parked bool, err error) {
	defaultPolicy, ok := organizer.ParseConflictPolicy(settings.ConflictDefault)
	if !ok {
		defaultPolicy = organizer.ConflictAsk
	}
	library := organizer.Library{MoviesRoot: settings.MoviesDir, TVRoot: settings.TVDir}
	org := organizer.New(defaultPolicy, m.logger)

	show := job.DetectedTitle
	if show == "" {
		show = job.DiscLabel
	}

	var completed, review int
	extraIndex := 0
	for _, title := range titles {
		if title.State != state.TitleMatched {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		dest := m.destinationFor(job, title, library, show, &extraIndex)
		policy := defaultPolicy
		if choice, ok := organizer.ParseConflictPolicy(title.ConflictChoice); ok {
			policy = choice
		}

		result, placeErr := org.Place(ctx, title.RippedPath, dest, policy)
		switch {
		case placeErr != nil:
			m.failTitle(ctx, title, placeErr)
		case result.NeedsReview:
			// Record the contested destination so the user can decide.
			title.OrganizedTo = result.Destination
			if err := m.store.UpdateTitle(ctx, title); err != nil {
				return false, err
			}
			if updated, err := m.store.TransitionTitle(ctx, title.ID, state.TitleReview); err == nil {
				m.publishTitle(updated)
			}
			review++
		default:
			title.OrganizedFrom = title.RippedPath
			title.OrganizedTo = result.Destination
			title.Skipped = result.Skipped
			if err := m.store.UpdateTitle(ctx, title); err != nil {
				return false, err
			}
			updated, err := m.store.TransitionTitle(ctx, title.ID, state.TitleCompleted)
			if err != nil {
				return false, err
			}
			m.publishTitle(updated)
			completed++
		}
	}

	if review > 0 {
		job.ReviewReason = fmt.Sprintf("%d destination conflict(s) need a decision", review)
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return false, err
		}
		updated, err := m.store.TransitionJob(ctx, job.ID, state.JobReviewNeeded)
		if err != nil {
			return false, err
		}
		*job = *updated
		m.publishJob(job)
		return true, nil
	}
	if completed == 0 {
		return false, services.Wrap(services.ErrOrganization, "manager", "organize",
			"no titles were organized", nil)
	}

	updated, err := m.store.TransitionJob(ctx, job.ID, state.JobCompleted)
	if err != nil {
		return false, err
	}
	*job = *updated
	m.publishJob(job)
	m.cleanStaging(job)
	m.logger.Info("job completed",
		logging.Int64("job_id", job.ID),
		logging.Int("titles", completed))
	return false, nil
}

// cleanStaging removes the job's staging directory. Nothing survives there
// after completion: moved titles are in the library and skipped ones are
// discarded at placement time.
func (m *Manager) cleanStaging(job *store.Job) {
	if job.StagingDir == "" {
		return
	}
	if err := os.RemoveAll(job.StagingDir); err != nil {
		m.logger.Warn("could not remove staging directory",
			logging.Int64("job_id", job.ID),
			logging.String("staging_dir", job.StagingDir),
			logging.Error(err))
	}
}

// destinationFor computes the library path for one title.
func (m *Manager) destinationFor(job *store.Job, title *store.Title, library organizer.Library, show string, extraIndex *int) string {
	if job.ContentType == store.ContentTV {
		if title.IsExtra || title.MatchedEpisode == "" {
			*extraIndex++
			season := job.DetectedSeason
			if season <= 0 {
				season = 1
			}
			disc := job.DiscNumber
			if disc <= 0 {
				disc = 1
			}
			return library.ExtraPath(show, season, disc, *extraIndex)
		}
		return library.EpisodePath(show, title.MatchedEpisode)
	}

	name := job.DetectedTitle
	if name == "" {
		name = strings.TrimSpace(job.DiscLabel)
	}
	return library.MoviePath(name, job.DetectedYear)
}

func (m *Manager) failTitle(ctx context.Context, title *store.Title, cause error) {
	title.ErrorMessage = cause.Error()
	if err := m.store.UpdateTitle(ctx, title); err != nil {
		m.logger.Error("persist title failure", logging.Int64("title_id", title.ID), logging.Error(err))
	}
	updated, err := m.store.TransitionTitle(ctx, title.ID, state.TitleFailed)
	if err != nil {
		m.logger.Error("transition title to failed", logging.Int64("title_id", title.ID), logging.Error(err))
		return
	}
	m.publishTitle(updated)
	m.logger.Error("title failed during organizing",
		logging.Int64("title_id", updated.ID),
		logging.Error(cause))
}
