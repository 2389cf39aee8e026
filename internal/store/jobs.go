package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engram/internal/state"
)

const jobColumns = "id, drive, disc_label, content_type, detected_title, detected_season, detected_year, disc_number, staging_dir, state, progress_percent, progress_speed, progress_eta_seconds, progress_title_index, progress_title_total, subs_downloaded, subs_total, subs_failed, error_message, review_reason, created_at, updated_at"

// CreateJob inserts a new job for a disc insertion.
func (s *Store) CreateJob(ctx context.Context, drive, discLabel string) (*Job, error) {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (drive, disc_label, content_type, state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		drive,
		nullableString(discLabel),
		ContentUnknown,
		state.JobIdle,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time, optionally filtered by state.
func (s *Store) ListJobs(ctx context.Context, states ...state.JobState) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, st := range states {
			args[i] = st
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveJobForDrive returns the non-terminal job bound to a drive, if any.
// Review counts here: the disc is still in the tray until the user resolves.
func (s *Store) ActiveJobForDrive(ctx context.Context, drive string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE drive = ? AND state NOT IN (?, ?) ORDER BY id DESC LIMIT 1`,
		drive, state.JobCompleted, state.JobFailed,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for drive: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job. The state column is not
// touched; use TransitionJob for state changes.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET disc_label = ?, content_type = ?, detected_title = ?, detected_season = ?,
             detected_year = ?, disc_number = ?, staging_dir = ?, progress_percent = ?,
             progress_speed = ?, progress_eta_seconds = ?, progress_title_index = ?,
             progress_title_total = ?, subs_downloaded = ?, subs_total = ?, subs_failed = ?,
             error_message = ?, review_reason = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(job.DiscLabel),
		job.ContentType,
		nullableString(job.DetectedTitle),
		nullableInt(job.DetectedSeason),
		nullableInt(job.DetectedYear),
		job.DiscNumber,
		nullableString(job.StagingDir),
		job.ProgressPercent,
		nullableString(job.ProgressSpeed),
		job.ProgressETASeconds,
		job.ProgressTitleIndex,
		job.ProgressTitleTotal,
		job.SubsDownloaded,
		job.SubsTotal,
		job.SubsFailed,
		nullableString(job.ErrorMessage),
		nullableString(job.ReviewReason),
		timestamp(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// TransitionJob validates and commits a job state change. On an invalid
// transition the row is untouched and state.ErrInvalidTransition is
// returned. The caller broadcasts after the commit succeeds.
func (s *Store) TransitionJob(ctx context.Context, id int64, to state.JobState) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err := state.ValidateJob(job.State, to); err != nil {
		return job, err
	}
	if job.State == to {
		return job, nil
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, timestamp(now), id, job.State,
	)
	if err != nil {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Lost a race with a concurrent transition; re-validate against the
		// fresh row so the caller sees the actual refusal.
		fresh, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, fmt.Errorf("job %d not found", id)
		}
		if err := state.ValidateJob(fresh.State, to); err != nil {
			return fresh, err
		}
		return s.TransitionJob(ctx, id, to)
	}
	job.State = to
	job.UpdatedAt = now
	return job, nil
}

// DeleteJob removes a job; titles cascade.
func (s *Store) DeleteJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FailRunningJobs marks jobs left in active states by a previous run as
// failed. Called once at startup before the monitor starts.
func (s *Store) FailRunningJobs(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, error_message = ?, updated_at = ?
         WHERE state IN (?, ?, ?, ?)`,
		state.JobFailed,
		message,
		timestamp(time.Now()),
		state.JobIdentifying,
		state.JobRipping,
		state.JobMatching,
		state.JobOrganizing,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return res.RowsAffected()
}

// Health returns aggregated job counts for diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var stateStr string
		var count int
		if err := rows.Scan(&stateStr, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		st, _ := state.ParseJobState(stateStr)
		switch {
		case st == state.JobCompleted:
			health.Completed += count
		case st == state.JobFailed:
			health.Failed += count
		case st == state.JobReviewNeeded:
			health.Review += count
		case state.IsActiveJob(st):
			health.Active += count
		}
	}
	return health, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            int64
		drive         string
		discLabel     sql.NullString
		contentType   string
		detectedTitle sql.NullString
		season        sql.NullInt64
		year          sql.NullInt64
		discNumber    int
		stagingDir    sql.NullString
		stateStr      string
		percent       sql.NullFloat64
		speed         sql.NullString
		eta           sql.NullInt64
		titleIndex    sql.NullInt64
		titleTotal    sql.NullInt64
		subsDone      sql.NullInt64
		subsTotal     sql.NullInt64
		subsFailed    sql.NullInt64
		errorMessage  sql.NullString
		reviewReason  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id, &drive, &discLabel, &contentType, &detectedTitle, &season, &year,
		&discNumber, &stagingDir, &stateStr, &percent, &speed, &eta,
		&titleIndex, &titleTotal, &subsDone, &subsTotal, &subsFailed,
		&errorMessage, &reviewReason, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	jobState, ok := state.ParseJobState(stateStr)
	if !ok {
		return nil, fmt.Errorf("job %d has unknown state %q", id, stateStr)
	}

	job := &Job{
		ID:                 id,
		Drive:              drive,
		DiscLabel:          discLabel.String,
		ContentType:        ParseContentType(contentType),
		DetectedTitle:      detectedTitle.String,
		DetectedSeason:     int(season.Int64),
		DetectedYear:       int(year.Int64),
		DiscNumber:         discNumber,
		StagingDir:         stagingDir.String,
		State:              jobState,
		ProgressPercent:    percent.Float64,
		ProgressSpeed:      speed.String,
		ProgressETASeconds: int(eta.Int64),
		ProgressTitleIndex: int(titleIndex.Int64),
		ProgressTitleTotal: int(titleTotal.Int64),
		SubsDownloaded:     int(subsDone.Int64),
		SubsTotal:          int(subsTotal.Int64),
		SubsFailed:         int(subsFailed.Int64),
		ErrorMessage:       errorMessage.String,
		ReviewReason:       reviewReason.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
