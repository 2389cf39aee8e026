package matcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"engram/internal/services"
)

// WhisperTranscriber shells out to a whisperx-compatible CLI. The tool
// writes a plain-text transcript next to its other outputs; Transcribe
// points it at a scratch directory and reads the .txt back.
type WhisperTranscriber struct {
	binary   string
	model    string
	language string
}

// NewWhisperTranscriber creates a transcriber using the given binary,
// model name, and ISO 639-1 language code. Empty values fall back to the
// repository defaults.
func NewWhisperTranscriber(binary, model, language string) *WhisperTranscriber {
	if strings.TrimSpace(binary) == "" {
		binary = "whisperx"
	}
	if strings.TrimSpace(model) == "" {
		model = "small"
	}
	if strings.TrimSpace(language) == "" {
		language = "en"
	}
	return &WhisperTranscriber{binary: binary, model: model, language: language}
}

// Transcribe converts one audio chunk to text. The output directory lives
// under the chunk's parent so everything is cleaned up with the staging dir.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outputDir, err := os.MkdirTemp(filepath.Dir(audioPath), "transcript-")
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "matcher", "transcribe",
			"cannot create transcript directory", err)
	}
	defer os.RemoveAll(outputDir)

	args := []string{
		audioPath,
		"--model", t.model,
		"--language", t.language,
		"--output_format", "txt",
		"--output_dir", outputDir,
	}
	cmd := exec.CommandContext(ctx, t.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return "", services.Wrap(services.ErrExternalTool, "matcher", "transcribe",
			fmt.Sprintf("%s failed on %s", filepath.Base(t.binary), filepath.Base(audioPath)),
			fmt.Errorf("%s", detail))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	transcriptPath := filepath.Join(outputDir, stem+".txt")
	text, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "matcher", "transcribe",
			"transcript file missing after transcription", err)
	}
	return string(text), nil
}
