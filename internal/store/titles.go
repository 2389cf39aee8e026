package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engram/internal/state"
)

const titleColumns = "id, job_id, title_index, duration_seconds, expected_bytes, actual_bytes, chapter_count, selected, output_name, resolution, edition, state, matched_episode, match_confidence, match_details, conflict_choice, ripped_path, organized_from, organized_to, is_extra, skipped, error_message, created_at, updated_at"

// CreateTitles inserts the discovered titles for a job in one transaction.
func (s *Store) CreateTitles(ctx context.Context, jobID int64, titles []*Title) error {
	if len(titles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin titles tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := timestamp(time.Now())
	for _, title := range titles {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO titles (
                job_id, title_index, duration_seconds, expected_bytes, chapter_count,
                selected, output_name, resolution, edition, state, is_extra, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID,
			title.TitleIndex,
			title.DurationSeconds,
			title.ExpectedBytes,
			title.ChapterCount,
			boolToInt(title.Selected),
			nullableString(title.OutputName),
			nullableString(title.Resolution),
			nullableString(title.Edition),
			state.TitlePending,
			boolToInt(title.IsExtra),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert title %d: %w", title.TitleIndex, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("title insert id: %w", err)
		}
		title.ID = id
		title.JobID = jobID
		title.State = state.TitlePending
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit titles: %w", err)
	}
	return nil
}

// GetTitle fetches a title by identifier. Returns nil when absent.
func (s *Store) GetTitle(ctx context.Context, id int64) (*Title, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+titleColumns+` FROM titles WHERE id = ?`, id)
	title, err := scanTitle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// TitlesForJob returns all titles of a job ordered by disc index.
func (s *Store) TitlesForJob(ctx context.Context, jobID int64) ([]*Title, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+titleColumns+` FROM titles WHERE job_id = ? ORDER BY title_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("titles for job: %w", err)
	}
	defer rows.Close()

	var titles []*Title
	for rows.Next() {
		title, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// UpdateTitle persists changes to an existing title. The state column is not
// touched; use TransitionTitle for state changes.
func (s *Store) UpdateTitle(ctx context.Context, title *Title) error {
	if title == nil {
		return errors.New("title is nil")
	}
	title.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE titles
         SET duration_seconds = ?, expected_bytes = ?, actual_bytes = ?, chapter_count = ?,
             selected = ?, output_name = ?, resolution = ?, edition = ?, matched_episode = ?,
             match_confidence = ?, match_details = ?, conflict_choice = ?, ripped_path = ?,
             organized_from = ?, organized_to = ?, is_extra = ?, skipped = ?, error_message = ?,
             updated_at = ?
         WHERE id = ?`,
		title.DurationSeconds,
		title.ExpectedBytes,
		title.ActualBytes,
		title.ChapterCount,
		boolToInt(title.Selected),
		nullableString(title.OutputName),
		nullableString(title.Resolution),
		nullableString(title.Edition),
		nullableString(title.MatchedEpisode),
		title.MatchConfidence,
		nullableString(title.MatchDetails),
		nullableString(title.ConflictChoice),
		nullableString(title.RippedPath),
		nullableString(title.OrganizedFrom),
		nullableString(title.OrganizedTo),
		boolToInt(title.IsExtra),
		boolToInt(title.Skipped),
		nullableString(title.ErrorMessage),
		timestamp(title.UpdatedAt),
		title.ID,
	)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// TransitionTitle validates and commits a title state change. On an invalid
// transition the row is untouched and state.ErrInvalidTransition is returned.
func (s *Store) TransitionTitle(ctx context.Context, id int64, to state.TitleState) (*Title, error) {
	title, err := s.GetTitle(ctx, id)
	if err != nil {
		return nil, err
	}
	if title == nil {
		return nil, fmt.Errorf("title %d not found", id)
	}
	if err := state.ValidateTitle(title.State, to); err != nil {
		return title, err
	}
	if title.State == to {
		return title, nil
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE titles SET state = ?, updated_at = ? WHERE id = ?`,
		to, timestamp(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("transition title: %w", err)
	}
	title.State = to
	title.UpdatedAt = now
	return title, nil
}

func scanTitle(scanner interface{ Scan(dest ...any) error }) (*Title, error) {
	var (
		id           int64
		jobID        int64
		titleIndex   int
		duration     int
		expected     int64
		actual       sql.NullInt64
		chapters     int
		selected     int
		outputName   sql.NullString
		resolution   sql.NullString
		edition      sql.NullString
		stateStr     string
		episode      sql.NullString
		confidence   sql.NullFloat64
		details      sql.NullString
		conflict     sql.NullString
		rippedPath   sql.NullString
		fromPath     sql.NullString
		toPath       sql.NullString
		isExtra      int
		skipped      int
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id, &jobID, &titleIndex, &duration, &expected, &actual, &chapters,
		&selected, &outputName, &resolution, &edition, &stateStr, &episode,
		&confidence, &details, &conflict, &rippedPath, &fromPath, &toPath,
		&isExtra, &skipped, &errorMessage, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	titleState, ok := state.ParseTitleState(stateStr)
	if !ok {
		return nil, fmt.Errorf("title %d has unknown state %q", id, stateStr)
	}

	title := &Title{
		ID:              id,
		JobID:           jobID,
		TitleIndex:      titleIndex,
		DurationSeconds: duration,
		ExpectedBytes:   expected,
		ActualBytes:     actual.Int64,
		ChapterCount:    chapters,
		Selected:        selected != 0,
		OutputName:      outputName.String,
		Resolution:      resolution.String,
		Edition:         edition.String,
		State:           titleState,
		MatchedEpisode:  episode.String,
		MatchConfidence: confidence.Float64,
		MatchDetails:    details.String,
		ConflictChoice:  conflict.String,
		RippedPath:      rippedPath.String,
		OrganizedFrom:   fromPath.String,
		OrganizedTo:     toPath.String,
		IsExtra:         isExtra != 0,
		Skipped:         skipped != 0,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		title.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		title.UpdatedAt = updated
	}
	return title, nil
}
