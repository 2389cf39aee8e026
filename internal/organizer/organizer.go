package organizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"engram/internal/logging"
	"engram/internal/services"
)

// ConflictPolicy decides what happens when the destination already exists.
type ConflictPolicy string

const (
	// ConflictAsk defers to the user: the title goes to review with the
	// candidate destination recorded.
	ConflictAsk ConflictPolicy = "ask"
	// ConflictOverwrite replaces the existing file.
	ConflictOverwrite ConflictPolicy = "overwrite"
	// ConflictRename appends " (2)", " (3)", ... to the stem.
	ConflictRename ConflictPolicy = "rename"
	// ConflictSkip leaves the existing file and marks the title skipped.
	ConflictSkip ConflictPolicy = "skip"
)

// ParseConflictPolicy normalizes a stored policy string.
func ParseConflictPolicy(value string) (ConflictPolicy, bool) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case ConflictAsk:
		return ConflictAsk, true
	case ConflictOverwrite:
		return ConflictOverwrite, true
	case ConflictRename:
		return ConflictRename, true
	case ConflictSkip:
		return ConflictSkip, true
	default:
		return "", false
	}
}

// Result reports where one file ended up.
type Result struct {
	Destination  string
	Moved        bool
	Skipped      bool
	NeedsReview  bool
	ReviewReason string
}

// Organizer performs conflict-aware library moves.
type Organizer struct {
	defaultPolicy ConflictPolicy
	logger        *slog.Logger
}

// New creates an Organizer with the settings-level default policy.
func New(defaultPolicy ConflictPolicy, logger *slog.Logger) *Organizer {
	if defaultPolicy == "" {
		defaultPolicy = ConflictAsk
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Organizer{
		defaultPolicy: defaultPolicy,
		logger:        logging.NewComponentLogger(logger, "organizer"),
	}
}

// Place moves src to dest, applying the conflict policy when dest already
// exists. A per-title policy overrides the default; pass empty to use the
// default. On any move failure the source file is preserved.
func (o *Organizer) Place(ctx context.Context, src, dest string, policy ConflictPolicy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = o.defaultPolicy
	}
	if _, err := os.Stat(src); err != nil {
		return nil, services.Wrap(services.ErrOrganization, "organizer", "stat source",
			"Source file missing; was the rip interrupted?", err)
	}

	if _, err := os.Stat(dest); err == nil {
		switch policy {
		case ConflictAsk:
			return &Result{
				Destination:  dest,
				NeedsReview:  true,
				ReviewReason: fmt.Sprintf("Destination already exists: %s", dest),
			}, nil
		case ConflictSkip:
			// The library copy wins; the staged rip has no further use.
			if err := os.Remove(src); err != nil {
				return nil, services.Wrap(services.ErrOrganization, "organizer", "discard skipped source",
					"Could not remove the staged file", err)
			}
			o.logger.Info("skipping existing destination",
				logging.String("destination", dest),
				logging.String("discarded", src))
			return &Result{Destination: dest, Skipped: true}, nil
		case ConflictRename:
			renamed, renameErr := nextFreePath(dest)
			if renameErr != nil {
				return nil, services.Wrap(services.ErrOrganization, "organizer", "allocate renamed destination",
					"Could not find a free destination name", renameErr)
			}
			dest = renamed
		case ConflictOverwrite:
			// moveFile replaces the destination.
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrOrganization, "organizer", "stat destination",
			"Destination is not accessible", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, services.Wrap(services.ErrOrganization, "organizer", "create destination directory",
			"Could not create the library directory", err)
	}
	if err := moveFile(src, dest); err != nil {
		return nil, services.Wrap(services.ErrOrganization, "organizer", "move into library",
			fmt.Sprintf("Failed to move %s", filepath.Base(src)), err)
	}

	o.logger.Info("organized file",
		logging.String("source", src),
		logging.String("destination", dest))
	return &Result{Destination: dest, Moved: true}, nil
}

// nextFreePath appends " (2)", " (3)", ... to the stem until the name is
// free.
func nextFreePath(path string) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for counter := 2; counter < 1000; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, counter, ext)
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", fmt.Errorf("no free name near %s", path)
}

// moveFile renames within a device and falls back to copy-then-delete
// across filesystems.
func moveFile(src, dest string) error {
	renameErr := os.Rename(src, dest)
	if renameErr == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(renameErr, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return renameErr
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}
