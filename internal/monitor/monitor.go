// Package monitor watches optical drives and turns media changes into
// ordered insertion and removal events.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"engram/internal/events"
	"engram/internal/logging"
)

// Event kinds.
const (
	EventInserted = "inserted"
	EventRemoved  = "removed"
)

// Event is one drive state change. Per drive, events are strictly ordered;
// across drives they may interleave.
type Event struct {
	Drive string
	Kind  string
	Label string
}

// Prober reports whether a drive currently holds readable media.
type Prober interface {
	Probe(ctx context.Context, drive string) (present bool, label string, err error)
}

// Monitor polls a fixed set of drives and emits events on state changes.
// All drives are probed from a single loop, so per-drive ordering holds by
// construction.
type Monitor struct {
	drives      []string
	interval    time.Duration
	prober      Prober
	handler     func(Event)
	broadcaster *events.Broadcaster
	logger      *slog.Logger

	pollNow chan struct{}
	present map[string]bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Monitor. The handler receives every event synchronously
// from the poll loop; the broadcaster, when non-nil, gets a DriveEvent per
// change.
func New(drives []string, interval time.Duration, prober Prober, handler func(Event), broadcaster *events.Broadcaster, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		drives:      drives,
		interval:    interval,
		prober:      prober,
		handler:     handler,
		broadcaster: broadcaster,
		logger:      logging.NewComponentLogger(logger, "drive-monitor"),
		pollNow:     make(chan struct{}, 1),
		present:     make(map[string]bool),
	}
}

// Start establishes the per-drive baseline, emitting a synthetic inserted
// event for media already in a tray, then begins polling.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.poll(runCtx)

	m.wg.Add(1)
	go m.loop(runCtx)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// TriggerPoll requests an immediate poll, used by the netlink accelerator.
// It never blocks; a pending trigger is enough.
func (m *Monitor) TriggerPoll() {
	select {
	case m.pollNow <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		case <-m.pollNow:
			m.poll(ctx)
		}
	}
}

// poll probes every drive once. A probe failure keeps the drive's last
// known state; monitoring continues.
func (m *Monitor) poll(ctx context.Context) {
	for _, drive := range m.drives {
		if ctx.Err() != nil {
			return
		}
		present, label, err := m.prober.Probe(ctx, drive)
		if err != nil {
			m.logger.Error("drive probe failed",
				logging.String("drive", drive),
				logging.Error(err))
			continue
		}

		was := m.present[drive]
		if present == was {
			continue
		}
		m.present[drive] = present

		event := Event{Drive: drive, Kind: EventRemoved}
		if present {
			event = Event{Drive: drive, Kind: EventInserted, Label: label}
		}
		m.emit(event)
	}
}

func (m *Monitor) emit(event Event) {
	m.logger.Info("drive event",
		logging.String("drive", event.Drive),
		logging.String("event", event.Kind),
		logging.String("label", event.Label))
	if m.broadcaster != nil {
		m.broadcaster.Publish(events.DriveEvent{
			Drive:       event.Drive,
			Event:       event.Kind,
			VolumeLabel: event.Label,
		})
	}
	if m.handler != nil {
		m.handler(event)
	}
}
