package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type scriptedRunner struct {
	output map[string]string
}

func (r scriptedRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return []byte(r.output[filepath.Base(name)]), nil
}

// fakeBinary drops an executable file on disk so exec.LookPath resolves it.
func fakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestCheckMakeMKVParsesBanner(t *testing.T) {
	dir := t.TempDir()
	binary := fakeBinary(t, dir, "makemkvcon")
	checker := NewCheckerWithRunner(scriptedRunner{output: map[string]string{
		"makemkvcon": `MSG:1005,0,1,"MakeMKV v1.17.5 linux(x64-release) started","%1 started","MakeMKV v1.17.5"`,
	}})

	status := checker.CheckMakeMKV(context.Background(), binary)
	if !status.Found || status.Version != "1.17.5" || status.Error != "" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCheckMakeMKVMissingBinary(t *testing.T) {
	checker := NewCheckerWithRunner(scriptedRunner{})
	status := checker.CheckMakeMKV(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if status.Found || status.Error == "" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCheckFFmpegParsesVersion(t *testing.T) {
	dir := t.TempDir()
	binary := fakeBinary(t, dir, "ffmpeg")
	checker := NewCheckerWithRunner(scriptedRunner{output: map[string]string{
		"ffmpeg": "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers",
	}})

	status := checker.CheckFFmpeg(context.Background(), binary)
	if !status.Found || status.Version != "6.1.1" || status.Error != "" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCheckFFmpegBrokenBinary(t *testing.T) {
	dir := t.TempDir()
	binary := fakeBinary(t, dir, "ffmpeg")
	checker := NewCheckerWithRunner(scriptedRunner{output: map[string]string{
		"ffmpeg": "segmentation fault",
	}})

	status := checker.CheckFFmpeg(context.Background(), binary)
	if !status.Found {
		t.Fatalf("broken binary should still be found: %+v", status)
	}
	if status.Error == "" {
		t.Fatal("broken binary reported no error")
	}
}

func TestValidateToolClassifiesByName(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := fakeBinary(t, dir, "ffmpeg")
	checker := NewCheckerWithRunner(scriptedRunner{output: map[string]string{
		"ffmpeg": "ffmpeg version 7.0",
	}})

	status := checker.ValidateTool(context.Background(), ffmpeg)
	if status.Name != "ffmpeg" || status.Version != "7.0" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	ok := CheckDirectoryAccess("Staging directory", dir)
	if !ok.Passed {
		t.Fatalf("writable dir failed: %+v", ok)
	}

	missing := CheckDirectoryAccess("Staging directory", filepath.Join(dir, "absent"))
	if missing.Passed || !strings.Contains(missing.Detail, "does not exist") {
		t.Fatalf("missing dir result = %+v", missing)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	notDir := CheckDirectoryAccess("Staging directory", file)
	if notDir.Passed {
		t.Fatalf("file accepted as directory: %+v", notDir)
	}
}
