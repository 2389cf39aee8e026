package ripping

import (
	"context"
	"fmt"
	"log/slog"

	"engram/internal/events"
	"engram/internal/logging"
	"engram/internal/state"
	"engram/internal/store"
)

// Coordinator runs the rip stage for one job: it drives the Tool over the
// selected titles, persists per-title and job progress, and broadcasts
// updates after each commit.
type Coordinator struct {
	store     *store.Store
	events    *events.Broadcaster
	tool      Tool
	readiness ReadinessConfig
	logger    *slog.Logger
}

// NewCoordinator wires the rip stage.
func NewCoordinator(st *store.Store, broadcaster *events.Broadcaster, tool Tool, readiness ReadinessConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:     st,
		events:    broadcaster,
		tool:      tool,
		readiness: readiness,
		logger:    logging.NewComponentLogger(logger, "ripping"),
	}
}

// Rip extracts every selected pending title of a job into its staging
// directory. A single title failing does not abort the stage; the Tool
// reports fatal only when it fails with no title finished. Callers inspect
// title states afterwards to decide the job's next stage.
func (c *Coordinator) Rip(ctx context.Context, job *store.Job, titles []*store.Title) error {
	byIndex := make(map[int]*store.Title)
	var targets []RipTarget
	for _, title := range titles {
		if !title.Selected || title.State != state.TitlePending {
			continue
		}
		byIndex[title.TitleIndex] = title
		targets = append(targets, RipTarget{
			Index:         title.TitleIndex,
			ExpectedBytes: title.ExpectedBytes,
			OutputName:    title.OutputName,
		})
	}
	if len(targets) == 0 {
		return fmt.Errorf("job %d has no selected titles to rip", job.ID)
	}

	progress := &ripProgress{
		coordinator: c,
		job:         job,
		byIndex:     byIndex,
		total:       len(targets),
		speed:       NewSpeedCalculator(),
	}

	job.ProgressTitleTotal = len(targets)
	job.ProgressTitleIndex = 0
	job.ProgressPercent = 0
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	ripErr := c.tool.Rip(ctx, job.Drive, targets, job.StagingDir, func(event Event) {
		progress.handle(ctx, event)
	})
	if ripErr != nil {
		return ripErr
	}
	if progress.storeErr != nil {
		return progress.storeErr
	}

	c.logger.Info("rip stage finished",
		logging.Int64("job", job.ID),
		logging.Int("titles", progress.finished),
		logging.Int("failed", progress.total-progress.finished))
	return nil
}

// ripProgress carries the mutable stage state across event callbacks. The
// Tool delivers events from a single goroutine, so no locking is needed.
type ripProgress struct {
	coordinator *Coordinator
	job         *store.Job
	byIndex     map[int]*store.Title
	total       int
	position    int
	finished    int
	speed       *SpeedCalculator
	storeErr    error
}

func (p *ripProgress) handle(ctx context.Context, event Event) {
	title, ok := p.byIndex[event.TitleIndex]
	if !ok {
		return
	}
	c := p.coordinator

	switch event.Kind {
	case EventTitleStarted:
		p.position++
		p.speed.Reset()
		updated, err := c.store.TransitionTitle(ctx, title.ID, state.TitleRipping)
		if err != nil {
			p.fail(err)
			return
		}
		*title = *updated
		p.job.ProgressTitleIndex = p.position
		if err := c.store.UpdateJob(ctx, p.job); err != nil {
			p.fail(err)
			return
		}
		c.publishTitle(title)
		c.publishJobProgress(p)

	case EventBytesWritten:
		if !p.speed.Record(event.CumulativeBytes) {
			return
		}
		p.job.ProgressPercent = p.overallPercent(event)
		p.job.ProgressSpeed = p.speed.Speed()
		p.job.ProgressETASeconds = p.speed.ETASeconds(event.ExpectedBytes - event.CumulativeBytes)
		if err := c.store.UpdateJob(ctx, p.job); err != nil {
			p.fail(err)
			return
		}
		c.publishJobProgress(p)

	case EventTitleFinished:
		size, err := WaitFileReady(ctx, event.OutputPath, title.ExpectedBytes, c.readiness)
		if err != nil {
			c.logger.Warn("rip output never stabilized",
				logging.Int64("title", title.ID),
				logging.String("path", event.OutputPath),
				logging.Error(err))
			p.failTitle(ctx, title, err)
			return
		}
		title.RippedPath = event.OutputPath
		title.ActualBytes = size
		if err := c.store.UpdateTitle(ctx, title); err != nil {
			p.fail(err)
			return
		}
		updated, err := c.store.TransitionTitle(ctx, title.ID, p.nextState(title))
		if err != nil {
			p.fail(err)
			return
		}
		*title = *updated
		p.finished++
		c.publishTitle(title)

	case EventTitleFailed:
		p.failTitle(ctx, title, fmt.Errorf("%s", event.Message))

	case EventFatal:
		// The Tool returns the error; the caller fails the job.
		c.logger.Error("rip aborted",
			logging.Int64("job", p.job.ID),
			logging.String("message", event.Message))
	}
}

// nextState routes a finished title: TV episodes go to matching, movies and
// extras skip straight to matched.
func (p *ripProgress) nextState(title *store.Title) state.TitleState {
	if p.job.ContentType == store.ContentTV && !title.IsExtra {
		return state.TitleMatching
	}
	return state.TitleMatched
}

// overallPercent folds finished titles and the active title's fraction into
// one stage-wide number.
func (p *ripProgress) overallPercent(event Event) float64 {
	fraction := 0.0
	if event.ExpectedBytes > 0 {
		fraction = float64(event.CumulativeBytes) / float64(event.ExpectedBytes)
		if fraction > 1 {
			fraction = 1
		}
	}
	return (float64(p.finished) + fraction) / float64(p.total) * 100
}

func (p *ripProgress) failTitle(ctx context.Context, title *store.Title, cause error) {
	title.ErrorMessage = cause.Error()
	if err := p.coordinator.store.UpdateTitle(ctx, title); err != nil {
		p.fail(err)
		return
	}
	updated, err := p.coordinator.store.TransitionTitle(ctx, title.ID, state.TitleFailed)
	if err != nil {
		p.fail(err)
		return
	}
	*title = *updated
	p.coordinator.publishTitle(title)
}

func (p *ripProgress) fail(err error) {
	if p.storeErr == nil {
		p.storeErr = err
	}
	p.coordinator.logger.Error("rip bookkeeping failed",
		logging.Int64("job", p.job.ID),
		logging.Error(err))
}

func (c *Coordinator) publishTitle(title *store.Title) {
	if c.events == nil {
		return
	}
	c.events.Publish(events.TitleUpdate{
		JobID:        title.JobID,
		TitleID:      title.ID,
		State:        title.State,
		ErrorMessage: title.ErrorMessage,
	})
}

func (c *Coordinator) publishJobProgress(p *ripProgress) {
	if c.events == nil {
		return
	}
	update := events.JobUpdate{
		JobID:      p.job.ID,
		State:      p.job.State,
		Percent:    events.Ptr(p.job.ProgressPercent),
		TitleIndex: events.Ptr(p.job.ProgressTitleIndex),
		TitleTotal: events.Ptr(p.job.ProgressTitleTotal),
		Speed:      p.job.ProgressSpeed,
	}
	if p.job.ProgressETASeconds >= 0 {
		update.ETASeconds = events.Ptr(p.job.ProgressETASeconds)
	}
	c.events.Publish(update)
}
