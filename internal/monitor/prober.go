package monitor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// LsblkProber detects media by asking lsblk for the drive's label and
// filesystem. A non-zero exit means no readable disc, which is the common
// empty-tray case, not an error.
type LsblkProber struct {
	timeout time.Duration
}

// NewLsblkProber creates a prober. A zero timeout defaults to five seconds
// so a wedged drive cannot stall the poll loop.
func NewLsblkProber(timeout time.Duration) *LsblkProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LsblkProber{timeout: timeout}
}

// Probe reports media presence and the volume label.
func (p *LsblkProber) Probe(ctx context.Context, drive string) (bool, string, error) {
	if strings.TrimSpace(drive) == "" {
		return false, "", errors.New("drive path is empty")
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "lsblk", "-P", "-o", "LABEL,FSTYPE", drive)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || probeCtx.Err() != nil {
			return false, "", nil
		}
		return false, "", fmt.Errorf("lsblk %s: %w", drive, err)
	}

	label, fstype := parseLsblkOutput(string(output))
	if label == "" && fstype == "" {
		return false, "", nil
	}
	return true, label, nil
}

// parseLsblkOutput reads the first LABEL="..." FSTYPE="..." line.
func parseLsblkOutput(output string) (label, fstype string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pairs := parseKeyValueLine(line)
		if len(pairs) == 0 {
			continue
		}
		return pairs["LABEL"], pairs["FSTYPE"]
	}
	return "", ""
}

func parseKeyValueLine(line string) map[string]string {
	pairs := make(map[string]string)
	for _, field := range strings.Fields(line) {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			continue
		}
		pairs[strings.TrimSpace(parts[0])] = strings.Trim(strings.TrimSpace(parts[1]), "\"")
	}
	return pairs
}
