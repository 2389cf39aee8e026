package ripping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Simulator implements Tool without touching hardware. It serves demo mode
// and tests: Scan returns a fixed title list, Rip writes real files of the
// expected size and replays the same event stream the MakeMKV client emits.
type Simulator struct {
	titles    []ScanTitle
	stepDelay time.Duration
	steps     int
	failIndex map[int]error
}

var _ Tool = (*Simulator)(nil)

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithStepDelay adds a pause between progress events.
func WithStepDelay(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.stepDelay = d }
}

// WithTitleFailure makes ripping the given title index fail.
func WithTitleFailure(titleIndex int, err error) SimulatorOption {
	return func(s *Simulator) { s.failIndex[titleIndex] = err }
}

// NewSimulator creates a Simulator announcing the given titles.
func NewSimulator(titles []ScanTitle, opts ...SimulatorOption) *Simulator {
	sim := &Simulator{
		titles:    titles,
		steps:     4,
		failIndex: make(map[int]error),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

// Scan returns the configured titles.
func (s *Simulator) Scan(ctx context.Context, drive string) ([]ScanTitle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ScanTitle, len(s.titles))
	copy(out, s.titles)
	return out, nil
}

// Rip writes one file per target, sized to match the scan, emitting the
// usual event sequence.
func (s *Simulator) Rip(ctx context.Context, drive string, targets []RipTarget, destDir string, onEvent func(Event)) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	emit := func(event Event) {
		if onEvent != nil {
			onEvent(event)
		}
	}

	finished := 0
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(Event{Kind: EventTitleStarted, TitleIndex: target.Index, ExpectedBytes: target.ExpectedBytes})

		if err, ok := s.failIndex[target.Index]; ok {
			if finished == 0 {
				emit(Event{Kind: EventFatal, TitleIndex: target.Index, Message: err.Error()})
				return fmt.Errorf("simulated rip failed before any title finished: %w", err)
			}
			emit(Event{Kind: EventTitleFailed, TitleIndex: target.Index, Message: err.Error()})
			continue
		}

		for step := 1; step <= s.steps; step++ {
			if s.stepDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.stepDelay):
				}
			}
			emit(Event{
				Kind:            EventBytesWritten,
				TitleIndex:      target.Index,
				ExpectedBytes:   target.ExpectedBytes,
				CumulativeBytes: target.ExpectedBytes * int64(step) / int64(s.steps),
			})
		}

		name := target.OutputName
		if name == "" {
			name = fmt.Sprintf("title_t%02d.mkv", target.Index)
		}
		path := filepath.Join(destDir, name)
		if err := writeSized(path, target.ExpectedBytes); err != nil {
			return err
		}
		finished++
		emit(Event{Kind: EventTitleFinished, TitleIndex: target.Index, OutputPath: path})
	}
	return nil
}

func writeSized(path string, size int64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create simulated output: %w", err)
	}
	defer file.Close()
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			return fmt.Errorf("size simulated output: %w", err)
		}
	}
	return nil
}
