package ripping

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// speedDebounce limits how often progress samples are accepted.
	speedDebounce = 500 * time.Millisecond
	// speedHistory bounds the sample window the rate is computed over.
	speedHistory = 20
)

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedCalculator turns cumulative byte counts into a throughput estimate
// and an ETA. Samples arriving faster than the debounce interval are
// rejected so a chatty tool does not produce a jittery rate.
type SpeedCalculator struct {
	mu      sync.Mutex
	samples []speedSample
	now     func() time.Time
}

// NewSpeedCalculator creates a calculator using the wall clock.
func NewSpeedCalculator() *SpeedCalculator {
	return &SpeedCalculator{now: time.Now}
}

// Record accepts a cumulative byte count. It reports whether the sample was
// taken; debounced samples return false and leave the rate unchanged.
func (s *SpeedCalculator) Record(cumulativeBytes int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n := len(s.samples); n > 0 {
		last := s.samples[n-1]
		if now.Sub(last.at) < speedDebounce {
			return false
		}
		// A new title restarts the counter; drop the stale window.
		if cumulativeBytes < last.bytes {
			s.samples = s.samples[:0]
		}
	}
	s.samples = append(s.samples, speedSample{at: now, bytes: cumulativeBytes})
	if len(s.samples) > speedHistory {
		s.samples = s.samples[len(s.samples)-speedHistory:]
	}
	return true
}

// Reset clears the sample window, for reuse across titles.
func (s *SpeedCalculator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
}

// BytesPerSecond returns the throughput over the current window, or 0 while
// fewer than two samples exist.
func (s *SpeedCalculator) BytesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *SpeedCalculator) rateLocked() float64 {
	if len(s.samples) < 2 {
		return 0
	}
	first := s.samples[0]
	last := s.samples[len(s.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := last.bytes - first.bytes
	if delta <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

// Speed returns a humanized rate such as "24 MB/s", or empty while the rate
// is unknown.
func (s *SpeedCalculator) Speed() string {
	rate := s.BytesPerSecond()
	if rate <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(rate)) + "/s"
}

// ETASeconds estimates seconds until remainingBytes are written. The result
// never goes negative; -1 means no estimate is available yet.
func (s *SpeedCalculator) ETASeconds(remainingBytes int64) int {
	rate := s.BytesPerSecond()
	if rate <= 0 {
		return -1
	}
	if remainingBytes <= 0 {
		return 0
	}
	return int(float64(remainingBytes) / rate)
}
