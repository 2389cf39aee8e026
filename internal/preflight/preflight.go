// Package preflight verifies the external environment before jobs run: the
// MakeMKV and ffmpeg binaries and the directories the daemon writes to.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"engram/internal/config"
)

// ToolStatus reports the availability of one external binary.
type ToolStatus struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Found   bool   `json:"found"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result reports one environment check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CommandRunner abstracts tool invocation for tests.
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Checker runs tool detection.
type Checker struct {
	run CommandRunner
}

// NewChecker creates a Checker using real command execution.
func NewChecker() *Checker {
	return &Checker{run: execRunner{}}
}

// NewCheckerWithRunner injects a runner, for tests.
func NewCheckerWithRunner(runner CommandRunner) *Checker {
	return &Checker{run: runner}
}

var (
	makemkvVersionPattern = regexp.MustCompile(`MakeMKV v([0-9][0-9.]*)`)
	ffmpegVersionPattern  = regexp.MustCompile(`ffmpeg version (\S+)`)
)

// DetectTools probes both external binaries from their configured paths.
func (c *Checker) DetectTools(ctx context.Context, makemkvPath, ffmpegPath string) []ToolStatus {
	return []ToolStatus{
		c.CheckMakeMKV(ctx, makemkvPath),
		c.CheckFFmpeg(ctx, ffmpegPath),
	}
}

// CheckMakeMKV resolves and probes makemkvcon. MakeMKV has no version flag;
// the version is parsed from the banner of a trivial invocation.
func (c *Checker) CheckMakeMKV(ctx context.Context, path string) ToolStatus {
	status := ToolStatus{Name: "makemkv", Path: strings.TrimSpace(path)}
	if status.Path == "" {
		status.Path = "makemkvcon"
	}

	resolved, err := exec.LookPath(status.Path)
	if err != nil {
		status.Error = fmt.Sprintf("binary %q not found", status.Path)
		return status
	}
	status.Path = resolved
	status.Found = true

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// info disc:9999 addresses no drive and exits immediately after the
	// banner.
	output, _ := c.run.Output(probeCtx, resolved, "--robot", "info", "disc:9999")
	if match := makemkvVersionPattern.FindSubmatch(output); match != nil {
		status.Version = string(match[1])
	} else {
		status.Error = "version banner not recognized; binary may be broken"
	}
	return status
}

// CheckFFmpeg resolves and probes ffmpeg via -version.
func (c *Checker) CheckFFmpeg(ctx context.Context, path string) ToolStatus {
	status := ToolStatus{Name: "ffmpeg", Path: strings.TrimSpace(path)}
	if status.Path == "" {
		status.Path = "ffmpeg"
	}

	resolved, err := exec.LookPath(status.Path)
	if err != nil {
		status.Error = fmt.Sprintf("binary %q not found", status.Path)
		return status
	}
	status.Path = resolved
	status.Found = true

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	output, runErr := c.run.Output(probeCtx, resolved, "-version")
	if match := ffmpegVersionPattern.FindSubmatch(output); match != nil {
		status.Version = string(match[1])
		return status
	}
	if runErr != nil {
		status.Error = fmt.Sprintf("version probe failed: %v", runErr)
	} else {
		status.Error = "version output not recognized; binary may be broken"
	}
	return status
}

// ValidateTool probes an arbitrary binary path and classifies it by name.
func (c *Checker) ValidateTool(ctx context.Context, path string) ToolStatus {
	base := strings.ToLower(strings.TrimSpace(path))
	if strings.Contains(base, "ffmpeg") {
		return c.CheckFFmpeg(ctx, path)
	}
	return c.CheckMakeMKV(ctx, path)
}

// CheckDirectoryAccess verifies a directory exists and is fully accessible.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// RunAll executes the environment checks for a configuration.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	checker := NewChecker()

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Movie library", cfg.Paths.MoviesDir),
		CheckDirectoryAccess("TV library", cfg.Paths.TVDir),
		CheckDirectoryAccess("Subtitle cache", cfg.Paths.SubtitleCacheDir),
	}
	for _, tool := range checker.DetectTools(ctx, cfg.Tools.MakeMKV, cfg.Tools.FFmpeg) {
		result := Result{Name: tool.Name, Passed: tool.Found && tool.Error == ""}
		switch {
		case tool.Error != "":
			result.Detail = tool.Error
		case tool.Version != "":
			result.Detail = fmt.Sprintf("%s (version %s)", tool.Path, tool.Version)
		default:
			result.Detail = tool.Path
		}
		results = append(results, result)
	}
	return results
}
