package ripping

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const scanOutput = `MSG:1005,0,1,"MakeMKV v1.17.5 linux(x64-release) started","%1 started","MakeMKV v1.17.5"
TCOUNT:3
TINFO:0,2,0,"Episode 1"
TINFO:0,8,0,"6"
TINFO:0,9,0,"0:42:31"
TINFO:0,10,0,"2.1 GB"
TINFO:0,11,0,"2254857830"
TINFO:0,19,0,"1920x1080"
TINFO:1,2,0,"Episode 2"
TINFO:1,9,0,"0:43:05"
TINFO:1,11,0,"2301210000"
TINFO:2,2,0,"Play All"
TINFO:2,9,0,"2:51:12"
TINFO:2,11,0,"9100000000"
`

type scriptedExecutor struct {
	calls   [][]string
	scripts []func(destDir string, onStdout func(string)) error
}

func (e *scriptedExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.calls = append(e.calls, args)
	if len(e.scripts) == 0 {
		return nil
	}
	script := e.scripts[0]
	e.scripts = e.scripts[1:]
	destDir := args[len(args)-1]
	return script(destDir, onStdout)
}

func emitLines(output string) func(string, func(string)) error {
	return func(_ string, onStdout func(string)) error {
		for _, line := range strings.Split(output, "\n") {
			onStdout(line)
		}
		return nil
	}
}

func TestParseScanOutput(t *testing.T) {
	titles, err := parseScanOutput(strings.Split(scanOutput, "\n"))
	if err != nil {
		t.Fatalf("parseScanOutput failed: %v", err)
	}
	if len(titles) != 3 {
		t.Fatalf("title count = %d, want 3", len(titles))
	}
	first := titles[0]
	if first.Index != 0 || first.Name != "Episode 1" || first.ChapterCount != 6 {
		t.Fatalf("first title = %+v", first)
	}
	if first.DurationSeconds != 42*60+31 {
		t.Fatalf("duration = %d, want %d", first.DurationSeconds, 42*60+31)
	}
	if first.SizeBytes != 2254857830 {
		t.Fatalf("size = %d", first.SizeBytes)
	}
	if first.Resolution != "1920x1080" {
		t.Fatalf("resolution = %q", first.Resolution)
	}
	if titles[2].DurationSeconds != 2*3600+51*60+12 {
		t.Fatalf("play-all duration = %d", titles[2].DurationSeconds)
	}
}

func TestParseScanOutputNoRecords(t *testing.T) {
	if _, err := parseScanOutput([]string{"MSG:2010,0,0", "DRV:0,2,999"}); err == nil {
		t.Fatal("expected error for output without TINFO records")
	}
}

func TestParseClockDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"0:42:31", 2551},
		{"2:00:00", 7200},
		{"\"1:02:03\"", 3723},
		{"42:31", 0},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := parseClockDuration(tc.in); got != tc.want {
			t.Errorf("parseClockDuration(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseProgressLine(t *testing.T) {
	current, max, ok := parseProgressLine("PRGV:12000,32768,65536")
	if !ok || current != 32768 || max != 65536 {
		t.Fatalf("parseProgressLine = (%f, %f, %v)", current, max, ok)
	}
	if _, _, ok := parseProgressLine("PRGC:0,1,\"Saving title"); ok {
		t.Fatal("non-PRGV line accepted")
	}
	if _, _, ok := parseProgressLine("PRGV:1,2,0"); ok {
		t.Fatal("zero max accepted")
	}
}

func TestClientScan(t *testing.T) {
	executor := &scriptedExecutor{scripts: []func(string, func(string)) error{emitLines(scanOutput)}}
	client, err := NewClient("makemkvcon", 120, 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	titles, err := client.Scan(context.Background(), "/dev/sr0")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(titles) != 3 {
		t.Fatalf("title count = %d, want 3", len(titles))
	}
	want := []string{"--robot", "info", "dev:/dev/sr0"}
	if len(executor.calls) != 1 || strings.Join(executor.calls[0], " ") != strings.Join(want, " ") {
		t.Fatalf("scan args = %v, want %v", executor.calls, want)
	}
}

func TestClientRipEmitsEventStream(t *testing.T) {
	destDir := t.TempDir()
	rip := func(destDir string, onStdout func(string)) error {
		onStdout("PRGV:0,16384,65536")
		onStdout("PRGV:0,65536,65536")
		return os.WriteFile(filepath.Join(destDir, "title_t00.mkv"), []byte("payload"), 0o644)
	}
	executor := &scriptedExecutor{scripts: []func(string, func(string)) error{rip}}
	client, err := NewClient("makemkvcon", 0, 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var seen []Event
	targets := []RipTarget{{Index: 0, ExpectedBytes: 1000}}
	if err := client.Rip(context.Background(), "/dev/sr0", targets, destDir, func(e Event) {
		seen = append(seen, e)
	}); err != nil {
		t.Fatalf("Rip failed: %v", err)
	}

	kinds := make([]EventKind, 0, len(seen))
	for _, e := range seen {
		kinds = append(kinds, e.Kind)
	}
	wantKinds := []EventKind{EventTitleStarted, EventBytesWritten, EventBytesWritten, EventTitleFinished}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("event kinds = %v, want %v", kinds, wantKinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, wantKinds)
		}
	}
	if seen[1].CumulativeBytes != 250 {
		t.Fatalf("first progress bytes = %d, want 250", seen[1].CumulativeBytes)
	}
	if seen[3].OutputPath != filepath.Join(destDir, "title_t00.mkv") {
		t.Fatalf("output path = %q", seen[3].OutputPath)
	}
}

func TestClientRipFatalWhenFirstTitleFails(t *testing.T) {
	executor := &scriptedExecutor{scripts: []func(string, func(string)) error{
		func(string, func(string)) error { return errors.New("disc read error") },
	}}
	client, err := NewClient("makemkvcon", 0, 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var fatals int
	targets := []RipTarget{{Index: 0, ExpectedBytes: 100}, {Index: 1, ExpectedBytes: 100}}
	err = client.Rip(context.Background(), "/dev/sr0", targets, t.TempDir(), func(e Event) {
		if e.Kind == EventFatal {
			fatals++
		}
	})
	if err == nil {
		t.Fatal("expected fatal error when the first title fails")
	}
	if fatals != 1 {
		t.Fatalf("fatal events = %d, want 1", fatals)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("rip continued after fatal: %d calls", len(executor.calls))
	}
}

func TestClientRipIsolatesLaterTitleFailures(t *testing.T) {
	destDir := t.TempDir()
	ok := func(destDir string, onStdout func(string)) error {
		return os.WriteFile(filepath.Join(destDir, "title_t00.mkv"), []byte("payload"), 0o644)
	}
	boom := func(string, func(string)) error { return errors.New("read error at sector 12345") }
	executor := &scriptedExecutor{scripts: []func(string, func(string)) error{ok, boom}}
	client, err := NewClient("makemkvcon", 0, 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var finished, failed int
	targets := []RipTarget{{Index: 0, ExpectedBytes: 100}, {Index: 1, ExpectedBytes: 100}}
	if err := client.Rip(context.Background(), "/dev/sr0", targets, destDir, func(e Event) {
		switch e.Kind {
		case EventTitleFinished:
			finished++
		case EventTitleFailed:
			failed++
		}
	}); err != nil {
		t.Fatalf("per-title failure must not abort the rip: %v", err)
	}
	if finished != 1 || failed != 1 {
		t.Fatalf("finished/failed = %d/%d, want 1/1", finished, failed)
	}
}

func TestClientRipRenamesOutput(t *testing.T) {
	destDir := t.TempDir()
	executor := &scriptedExecutor{scripts: []func(string, func(string)) error{
		func(destDir string, _ func(string)) error {
			return os.WriteFile(filepath.Join(destDir, "title_t03.mkv"), []byte("payload"), 0o644)
		},
	}}
	client, err := NewClient("makemkvcon", 0, 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var outputPath string
	targets := []RipTarget{{Index: 3, ExpectedBytes: 100, OutputName: "episode_03.mkv"}}
	if err := client.Rip(context.Background(), "/dev/sr0", targets, destDir, func(e Event) {
		if e.Kind == EventTitleFinished {
			outputPath = e.OutputPath
		}
	}); err != nil {
		t.Fatalf("Rip failed: %v", err)
	}
	if outputPath != filepath.Join(destDir, "episode_03.mkv") {
		t.Fatalf("output path = %q", outputPath)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("renamed output missing: %v", err)
	}
}
