package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"engram/internal/logging"
)

// NetlinkAccelerator subscribes to udev media-change events and triggers an
// immediate poll, so insertions are picked up without waiting out the poll
// interval. It is purely an accelerator: the poll loop stays the source of
// truth and the daemon works without netlink access.
type NetlinkAccelerator struct {
	monitor *Monitor
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewNetlinkAccelerator wires the accelerator to a monitor.
func NewNetlinkAccelerator(monitor *Monitor, logger *slog.Logger) *NetlinkAccelerator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NetlinkAccelerator{
		monitor: monitor,
		logger:  logging.NewComponentLogger(logger, "netlink"),
	}
}

// Start connects to the udev netlink socket. Failure to connect is logged
// and swallowed; polling covers for it.
func (a *NetlinkAccelerator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		a.logger.Warn("netlink unavailable; relying on polling alone",
			logging.Error(err))
		return nil
	}

	a.conn = conn
	a.quit = make(chan struct{})
	a.running = true

	quit := a.quit
	go a.listen(ctx, conn, quit)

	a.logger.Info("netlink accelerator started")
	return nil
}

// Stop closes the netlink subscription.
func (a *NetlinkAccelerator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	close(a.quit)
	a.quit = nil
	_ = a.conn.Close()
	a.conn = nil
	a.running = false
}

func (a *NetlinkAccelerator) listen(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, mediaChangeMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			a.logger.Debug("media change event",
				logging.String("device", deviceName(uevent)),
				logging.String("action", string(uevent.Action)))
			a.monitor.TriggerPoll()
		case err := <-errs:
			a.logger.Warn("netlink read error", logging.Error(err))
		}
	}
}

// mediaChangeMatcher matches optical media changes:
// SUBSYSTEM=block, ID_CDROM=1, ID_CDROM_MEDIA=1, ACTION=change|add.
func mediaChangeMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":      "block",
			"ID_CDROM":       "1",
			"ID_CDROM_MEDIA": "1",
		},
	})
	return rules
}

func deviceName(uevent netlink.UEvent) string {
	if name := uevent.Env["DEVNAME"]; name != "" {
		return name
	}
	parts := strings.Split(uevent.Env["DEVPATH"], "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return ""
	}
	return "/dev/" + parts[len(parts)-1]
}
