package manager

import (
	"context"
	"fmt"
	"strings"

	"engram/internal/logging"
	"engram/internal/organizer"
	"engram/internal/state"
	"engram/internal/store"
	"engram/internal/subtitles"
)

// Resolution carries the user's answers for a job parked in REVIEW_NEEDED.
// Every field is optional; only what the review asked for needs filling.
type Resolution struct {
	// ContentType overrides the analyst's verdict ("tv" or "movie").
	ContentType string `json:"content_type,omitempty"`
	// Name and Year supply or correct the detected identity.
	Name string `json:"name,omitempty"`
	Year int    `json:"year,omitempty"`
	// Season corrects the detected season for a TV disc.
	Season int `json:"season,omitempty"`
	// SelectedTitleIndex picks the one title to rip for an ambiguous movie.
	SelectedTitleIndex *int `json:"selected_title_index,omitempty"`
	// EpisodeAssignments maps a title id to its episode code (SxxEyy).
	EpisodeAssignments map[int64]string `json:"episode_assignments,omitempty"`
	// ConflictChoices maps a title id to a conflict policy.
	ConflictChoices map[int64]string `json:"conflict_choices,omitempty"`
}

// ResolveReview applies user decisions to a parked job and resumes its
// pipeline. The job must be in REVIEW_NEEDED.
func (m *Manager) ResolveReview(ctx context.Context, jobID int64, resolution Resolution) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d not found", jobID)
	}
	if job.State != state.JobReviewNeeded {
		return nil, fmt.Errorf("job %d is in state %s, not %s", jobID, job.State, state.JobReviewNeeded)
	}

	if resolution.ContentType != "" {
		job.ContentType = store.ParseContentType(resolution.ContentType)
	}
	if name := strings.TrimSpace(resolution.Name); name != "" {
		job.DetectedTitle = name
		if job.ContentType == store.ContentUnknown {
			job.ContentType = store.ContentMovie
		}
	}
	if resolution.Year > 0 {
		job.DetectedYear = resolution.Year
	}
	if resolution.Season > 0 {
		job.DetectedSeason = resolution.Season
	}

	titles, err := m.store.TitlesForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if resolution.SelectedTitleIndex != nil {
		if err := m.applyTitlePick(ctx, titles, *resolution.SelectedTitleIndex); err != nil {
			return nil, err
		}
	}
	if err := m.applyEpisodeAssignments(ctx, titles, resolution.EpisodeAssignments); err != nil {
		return nil, err
	}
	if err := m.applyConflictChoices(ctx, titles, resolution.ConflictChoices); err != nil {
		return nil, err
	}

	job.ReviewReason = ""
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	updated, err := m.store.TransitionJob(ctx, job.ID, state.JobRipping)
	if err != nil {
		return nil, err
	}
	*job = *updated
	m.publishJob(job)

	if err := m.resume(job); err != nil {
		return nil, err
	}
	m.logger.Info("review resolved; job resumed",
		logging.Int64("job_id", job.ID))
	return job, nil
}

// applyTitlePick selects exactly one pending title for ripping.
func (m *Manager) applyTitlePick(ctx context.Context, titles []*store.Title, index int) error {
	var picked *store.Title
	for _, title := range titles {
		if title.TitleIndex == index {
			picked = title
			break
		}
	}
	if picked == nil {
		return fmt.Errorf("no title with index %d on this disc", index)
	}
	if picked.State != state.TitlePending {
		return fmt.Errorf("title %d is already %s", index, picked.State)
	}

	for _, title := range titles {
		selected := title == picked
		if title.Selected == selected || title.State != state.TitlePending {
			continue
		}
		title.Selected = selected
		if err := m.store.UpdateTitle(ctx, title); err != nil {
			return err
		}
	}
	picked.Selected = true
	return m.store.UpdateTitle(ctx, picked)
}

// applyEpisodeAssignments resolves titles parked in review to episodes.
func (m *Manager) applyEpisodeAssignments(ctx context.Context, titles []*store.Title, assignments map[int64]string) error {
	for titleID, code := range assignments {
		season, episode, ok := subtitles.SplitEpisodeCode(code)
		if !ok {
			return fmt.Errorf("invalid episode code %q for title %d", code, titleID)
		}

		title := findTitle(titles, titleID)
		if title == nil {
			return fmt.Errorf("title %d does not belong to this job", titleID)
		}
		if title.State != state.TitleReview {
			return fmt.Errorf("title %d is in state %s, not review", titleID, title.State)
		}

		title.MatchedEpisode = subtitles.FormatEpisode(season, episode)
		title.MatchConfidence = 1.0
		if err := m.store.UpdateTitle(ctx, title); err != nil {
			return err
		}
		updated, err := m.store.TransitionTitle(ctx, title.ID, state.TitleMatched)
		if err != nil {
			return err
		}
		*title = *updated
		m.publishTitle(title)
	}
	return nil
}

// applyConflictChoices records per-title conflict policies and sends titles
// parked on a destination conflict back through organizing.
func (m *Manager) applyConflictChoices(ctx context.Context, titles []*store.Title, choices map[int64]string) error {
	for titleID, choice := range choices {
		policy, ok := organizer.ParseConflictPolicy(choice)
		if !ok || policy == organizer.ConflictAsk {
			return fmt.Errorf("invalid conflict choice %q for title %d", choice, titleID)
		}

		title := findTitle(titles, titleID)
		if title == nil {
			return fmt.Errorf("title %d does not belong to this job", titleID)
		}

		title.ConflictChoice = string(policy)
		if err := m.store.UpdateTitle(ctx, title); err != nil {
			return err
		}
		if title.State == state.TitleReview {
			updated, err := m.store.TransitionTitle(ctx, title.ID, state.TitleMatched)
			if err != nil {
				return err
			}
			*title = *updated
			m.publishTitle(title)
		}
	}
	return nil
}

func findTitle(titles []*store.Title, id int64) *store.Title {
	for _, title := range titles {
		if title.ID == id {
			return title
		}
	}
	return nil
}
