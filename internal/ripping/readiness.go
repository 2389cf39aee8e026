package ripping

import (
	"context"
	"fmt"
	"os"
	"time"
)

// sizeTolerance is the fraction by which a finished file may deviate from
// the size the scan predicted.
const sizeTolerance = 0.01

// ReadinessConfig controls the file readiness poll.
type ReadinessConfig struct {
	PollInterval    time.Duration
	StabilityChecks int
	Timeout         time.Duration
}

// DefaultReadiness mirrors the configuration defaults.
func DefaultReadiness() ReadinessConfig {
	return ReadinessConfig{
		PollInterval:    5 * time.Second,
		StabilityChecks: 3,
		Timeout:         10 * time.Minute,
	}
}

// WaitFileReady polls a rip output until its size stops changing and, when
// expectedBytes is known, lands within the tolerance band. MakeMKV reports a
// title finished while the filesystem may still be flushing, so callers must
// not hand the file to later stages before this returns. The final size is
// returned.
func WaitFileReady(ctx context.Context, path string, expectedBytes int64, cfg ReadinessConfig) (int64, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StabilityChecks <= 0 {
		cfg.StabilityChecks = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var lastSize int64 = -1
	stable := 0
	for {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			stable = 0
			lastSize = -1
		case info.Size() == lastSize && withinTolerance(info.Size(), expectedBytes):
			stable++
			if stable >= cfg.StabilityChecks {
				return info.Size(), nil
			}
		default:
			stable = 1
			if !withinTolerance(info.Size(), expectedBytes) {
				stable = 0
			}
			lastSize = info.Size()
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("file %s not stable after %s (last size %d, expected %d)",
				path, cfg.Timeout, lastSize, expectedBytes)
		case <-ticker.C:
		}
	}
}

// withinTolerance checks a size against the predicted size. An unknown
// prediction accepts any non-empty file.
func withinTolerance(size, expected int64) bool {
	if expected <= 0 {
		return size > 0
	}
	low := float64(expected) * (1 - sizeTolerance)
	high := float64(expected) * (1 + sizeTolerance)
	return float64(size) >= low && float64(size) <= high
}
