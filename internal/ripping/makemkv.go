// Package ripping wraps the external MakeMKV binary: disc scans, title
// extraction with a streamed event protocol, file-readiness checks, and
// progress accounting.
package ripping

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"engram/internal/services"
)

// MakeMKV attribute ids carried on TINFO lines.
const (
	attrName         = 2
	attrChapterCount = 8
	attrDuration     = 9
	attrSizeText     = 10
	attrSizeBytes    = 11
	attrResolution   = 19
)

// Tool abstracts the external ripper so the coordinator can be driven by a
// simulator in tests and demo mode.
type Tool interface {
	Scan(ctx context.Context, drive string) ([]ScanTitle, error)
	Rip(ctx context.Context, drive string, targets []RipTarget, destDir string, onEvent func(Event)) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Client drives makemkvcon in robot mode.
type Client struct {
	binary      string
	scanTimeout time.Duration
	ripTimeout  time.Duration
	exec        Executor
}

var _ Tool = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor, for tests.
func WithExecutor(executor Executor) Option {
	return func(c *Client) {
		if executor != nil {
			c.exec = executor
		}
	}
}

// NewClient constructs a MakeMKV client. Timeouts are in seconds; zero
// disables them.
func NewClient(binary string, scanTimeoutSeconds, ripTimeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("makemkv binary required")
	}
	client := &Client{
		binary:      binary,
		scanTimeout: time.Duration(scanTimeoutSeconds) * time.Second,
		ripTimeout:  time.Duration(ripTimeoutSeconds) * time.Second,
		exec:        commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Scan runs makemkvcon in info mode and parses its TINFO records.
func (c *Client) Scan(ctx context.Context, drive string) ([]ScanTitle, error) {
	scanCtx := ctx
	if c.scanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, c.scanTimeout)
		defer cancel()
	}

	var lines []string
	args := []string{"--robot", "info", "dev:" + drive}
	if err := c.exec.Run(scanCtx, c.binary, args, func(line string) {
		lines = append(lines, line)
	}); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ripping", "scan disc",
			"MakeMKV scan failed; check the drive and disc readability", err)
	}

	titles, err := parseScanOutput(lines)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ripping", "parse scan output",
			"MakeMKV scan output could not be parsed", err)
	}
	return titles, nil
}

// Rip extracts the targeted titles one at a time, streaming events. It
// returns an error only for fatal failures: a tool failure before any title
// finished. Later per-title failures surface as EventTitleFailed and the
// rip continues.
func (c *Client) Rip(ctx context.Context, drive string, targets []RipTarget, destDir string, onEvent func(Event)) error {
	if destDir == "" {
		return errors.New("destination directory required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	emit := func(event Event) {
		if onEvent != nil {
			onEvent(event)
		}
	}

	ripCtx := ctx
	if c.ripTimeout > 0 {
		var cancel context.CancelFunc
		ripCtx, cancel = context.WithTimeout(ctx, c.ripTimeout)
		defer cancel()
	}

	finished := 0
	for _, target := range targets {
		if err := ripCtx.Err(); err != nil {
			return err
		}
		emit(Event{Kind: EventTitleStarted, TitleIndex: target.Index, ExpectedBytes: target.ExpectedBytes})

		path, err := c.ripOne(ripCtx, drive, target, destDir, emit)
		if err != nil {
			if finished == 0 {
				emit(Event{Kind: EventFatal, TitleIndex: target.Index, Message: err.Error()})
				return services.Wrap(services.ErrExternalTool, "ripping", "rip title",
					"MakeMKV rip failed before any title finished", err)
			}
			emit(Event{Kind: EventTitleFailed, TitleIndex: target.Index, Message: err.Error()})
			continue
		}
		finished++
		emit(Event{Kind: EventTitleFinished, TitleIndex: target.Index, OutputPath: path})
	}
	return nil
}

func (c *Client) ripOne(ctx context.Context, drive string, target RipTarget, destDir string, emit func(Event)) (string, error) {
	before, err := mkvFiles(destDir)
	if err != nil {
		return "", err
	}

	args := []string{"--robot", "--progress=-same", "mkv", "dev:" + drive, strconv.Itoa(target.Index), destDir}
	runErr := c.exec.Run(ctx, c.binary, args, func(line string) {
		if current, max, ok := parseProgressLine(line); ok && max > 0 {
			cumulative := int64(float64(target.ExpectedBytes) * (current / max))
			emit(Event{
				Kind:            EventBytesWritten,
				TitleIndex:      target.Index,
				ExpectedBytes:   target.ExpectedBytes,
				CumulativeBytes: cumulative,
			})
		}
	})
	if runErr != nil {
		return "", fmt.Errorf("makemkv rip title %d: %w", target.Index, runErr)
	}

	path, err := findRipOutput(destDir, target.Index, before)
	if err != nil {
		return "", err
	}
	if target.OutputName != "" {
		renamed := filepath.Join(destDir, target.OutputName)
		if renamed != path {
			if err := os.Rename(path, renamed); err != nil {
				return "", fmt.Errorf("rename rip output: %w", err)
			}
			path = renamed
		}
	}
	return path, nil
}

// parseScanOutput assembles titles from robot-mode TINFO records.
func parseScanOutput(lines []string) ([]ScanTitle, error) {
	sawRecord := false
	byIndex := make(map[int]*ScanTitle)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "TINFO:") {
			continue
		}
		sawRecord = true
		payload := strings.TrimPrefix(trimmed, "TINFO:")
		parts := strings.SplitN(payload, ",", 4)
		if len(parts) < 4 {
			continue
		}
		titleIndex, errIndex := strconv.Atoi(strings.TrimSpace(parts[0]))
		attrID, errAttr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errIndex != nil || errAttr != nil {
			continue
		}
		value := strings.Trim(strings.TrimSpace(parts[3]), "\"")

		title, ok := byIndex[titleIndex]
		if !ok {
			title = &ScanTitle{Index: titleIndex}
			byIndex[titleIndex] = title
		}
		switch attrID {
		case attrName:
			title.Name = value
		case attrChapterCount:
			if chapters, err := strconv.Atoi(value); err == nil {
				title.ChapterCount = chapters
			}
		case attrDuration:
			title.DurationSeconds = parseClockDuration(value)
		case attrSizeBytes:
			if size, err := strconv.ParseInt(value, 10, 64); err == nil {
				title.SizeBytes = size
			}
		case attrResolution:
			title.Resolution = value
		case attrSizeText:
			// Informational only; attrSizeBytes is authoritative.
		}
	}

	if !sawRecord {
		return nil, errors.New("no TINFO records in scan output")
	}

	indices := make([]int, 0, len(byIndex))
	for index := range byIndex {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	titles := make([]ScanTitle, 0, len(indices))
	for _, index := range indices {
		titles = append(titles, *byIndex[index])
	}
	return titles, nil
}

// parseClockDuration converts "h:mm:ss" to seconds.
func parseClockDuration(value string) int {
	segments := strings.Split(strings.Trim(value, "\""), ":")
	if len(segments) != 3 {
		return 0
	}
	hours, errH := strconv.Atoi(segments[0])
	minutes, errM := strconv.Atoi(segments[1])
	seconds, errS := strconv.Atoi(segments[2])
	if errH != nil || errM != nil || errS != nil {
		return 0
	}
	return hours*3600 + minutes*60 + seconds
}

// parseProgressLine reads robot-mode PRGV lines: PRGV:current,total,max.
func parseProgressLine(line string) (current, max float64, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "PRGV:") {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimPrefix(trimmed, "PRGV:"), ",")
	if len(parts) < 3 {
		return 0, 0, false
	}
	total, errTotal := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	maximum, errMax := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if errTotal != nil || errMax != nil || maximum <= 0 {
		return 0, 0, false
	}
	return total, maximum, true
}

func mkvFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("read rip destination: %w", err)
	}
	found := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".mkv") {
			continue
		}
		found[entry.Name()] = true
	}
	return found, nil
}

// findRipOutput locates the file a rip produced: title_tNN.mkv when
// present, otherwise the single new .mkv in the destination.
func findRipOutput(destDir string, titleIndex int, before map[string]bool) (string, error) {
	expected := fmt.Sprintf("title_t%02d.mkv", titleIndex)
	if _, err := os.Stat(filepath.Join(destDir, expected)); err == nil {
		return filepath.Join(destDir, expected), nil
	}

	after, err := mkvFiles(destDir)
	if err != nil {
		return "", err
	}
	var fresh []string
	for name := range after {
		if !before[name] {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) == 0 {
		return "", errors.New("makemkv produced no output file; check disc for read errors")
	}
	sort.Strings(fresh)
	return filepath.Join(destDir, fresh[0]), nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
