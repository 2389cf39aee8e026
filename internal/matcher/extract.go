// Package matcher pairs ripped TV titles with canonical episode codes by
// transcribing audio chunks and scoring them against reference subtitles.
package matcher

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"engram/internal/services"
)

// Chunk is one audio slice of a title.
type Chunk struct {
	Index        int `json:"index"`
	StartSeconds int `json:"start_seconds"`
	SpanSeconds  int `json:"span_seconds"`
}

// PlanChunks spreads chunkCount slices of chunkSeconds each across a title,
// starting at startOffset to skip recaps and cold opens. Titles too short
// for the offset get a single chunk from the start.
func PlanChunks(durationSeconds, chunkSeconds, chunkCount, startOffset int) []Chunk {
	if durationSeconds <= 0 || chunkSeconds <= 0 || chunkCount <= 0 {
		return nil
	}
	if durationSeconds <= chunkSeconds {
		return []Chunk{{Index: 0, StartSeconds: 0, SpanSeconds: durationSeconds}}
	}

	usableStart := startOffset
	if usableStart+chunkSeconds > durationSeconds {
		usableStart = 0
	}
	lastStart := durationSeconds - chunkSeconds

	if chunkCount == 1 || usableStart >= lastStart {
		return []Chunk{{Index: 0, StartSeconds: usableStart, SpanSeconds: chunkSeconds}}
	}

	step := (lastStart - usableStart) / (chunkCount - 1)
	chunks := make([]Chunk, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		chunks = append(chunks, Chunk{
			Index:        i,
			StartSeconds: usableStart + i*step,
			SpanSeconds:  chunkSeconds,
		})
	}
	return chunks
}

// ChunkExtractor pulls one audio chunk out of a video file.
type ChunkExtractor interface {
	Extract(ctx context.Context, inputPath string, chunk Chunk, destPath string) error
}

// FFmpegExtractor extracts mono 16 kHz wav chunks, the input format speech
// models expect.
type FFmpegExtractor struct {
	binary string
}

// NewFFmpegExtractor creates an extractor using the given ffmpeg binary.
func NewFFmpegExtractor(binary string) *FFmpegExtractor {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegExtractor{binary: binary}
}

// Extract writes one chunk as wav. Seeking happens before the input flag so
// ffmpeg skips decoding everything ahead of the chunk.
func (e *FFmpegExtractor) Extract(ctx context.Context, inputPath string, chunk Chunk, destPath string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.Itoa(chunk.StartSeconds),
		"-t", strconv.Itoa(chunk.SpanSeconds),
		"-i", inputPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-y", destPath,
	}
	cmd := exec.CommandContext(ctx, e.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrExternalTool, "matcher", "extract audio chunk",
			fmt.Sprintf("ffmpeg failed at offset %ds", chunk.StartSeconds), fmt.Errorf("%s", detail))
	}
	return nil
}

// Transcriber converts an audio file to plain text. Implementations block
// for the duration of the CPU/GPU call.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
