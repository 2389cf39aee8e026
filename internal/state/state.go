// Package state defines the job and title lifecycles and validates
// transitions against them. Every persisted state change in the daemon goes
// through these tables; callers present (current, target) and get a yes/no.
package state

import (
	"errors"
	"fmt"
	"strings"
)

// JobState is the lifecycle state of a disc job.
type JobState string

const (
	JobIdle         JobState = "idle"
	JobIdentifying  JobState = "identifying"
	JobReviewNeeded JobState = "review_needed"
	JobRipping      JobState = "ripping"
	JobMatching     JobState = "matching"
	JobOrganizing   JobState = "organizing"
	JobCompleted    JobState = "completed"
	JobFailed       JobState = "failed"
)

// TitleState is the lifecycle state of a single disc title.
type TitleState string

const (
	TitlePending   TitleState = "pending"
	TitleRipping   TitleState = "ripping"
	TitleMatching  TitleState = "matching"
	TitleMatched   TitleState = "matched"
	TitleReview    TitleState = "review"
	TitleCompleted TitleState = "completed"
	TitleFailed    TitleState = "failed"
)

// ErrInvalidTransition is returned when a requested transition is not in the
// table. The entity keeps its prior state.
var ErrInvalidTransition = errors.New("invalid state transition")

var jobTransitions = map[JobState][]JobState{
	JobIdle:         {JobIdentifying, JobFailed},
	JobIdentifying:  {JobRipping, JobReviewNeeded, JobFailed},
	JobReviewNeeded: {JobRipping, JobCompleted, JobFailed},
	JobRipping:      {JobMatching, JobOrganizing, JobReviewNeeded, JobCompleted, JobFailed},
	JobMatching:     {JobOrganizing, JobReviewNeeded, JobCompleted, JobFailed},
	JobOrganizing:   {JobReviewNeeded, JobCompleted, JobFailed},
	JobCompleted:    {},
	JobFailed:       {},
}

var titleTransitions = map[TitleState][]TitleState{
	TitlePending:   {TitleRipping, TitleFailed},
	TitleRipping:   {TitleMatching, TitleMatched, TitleFailed},
	TitleMatching:  {TitleMatched, TitleReview, TitleFailed},
	TitleMatched:   {TitleCompleted, TitleReview, TitleFailed},
	TitleReview:    {TitleMatched, TitleCompleted, TitleFailed},
	TitleCompleted: {},
	TitleFailed:    {},
}

// ValidateJob reports whether a job may move from one state to another.
// Same-state transitions are idempotent and always permitted.
func ValidateJob(from, to JobState) error {
	if from == to {
		return nil
	}
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateTitle reports whether a title may move from one state to another.
// Same-state transitions are idempotent and always permitted.
func ValidateTitle(from, to TitleState) error {
	if from == to {
		return nil
	}
	for _, allowed := range titleTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: title %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminalJob reports whether a job state has no outgoing transitions.
func IsTerminalJob(s JobState) bool {
	return s == JobCompleted || s == JobFailed
}

// IsTerminalTitle reports whether a title state has no outgoing transitions.
func IsTerminalTitle(s TitleState) bool {
	return s == TitleCompleted || s == TitleFailed
}

// IsActiveJob reports whether a job occupies its drive. Review does not count
// as active: the disc stays in the tray but no machinery is running.
func IsActiveJob(s JobState) bool {
	switch s {
	case JobIdentifying, JobRipping, JobMatching, JobOrganizing:
		return true
	default:
		return false
	}
}

// ParseJobState converts a stored string into a known JobState.
func ParseJobState(value string) (JobState, bool) {
	normalized := JobState(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := jobTransitions[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// ParseTitleState converts a stored string into a known TitleState.
func ParseTitleState(value string) (TitleState, bool) {
	normalized := TitleState(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := titleTransitions[normalized]; ok {
		return normalized, true
	}
	return "", false
}
