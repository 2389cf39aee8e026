package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the failure taxonomy. Stage errors wrap exactly one
// of these so callers can classify without string matching.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrMatching      = errors.New("matching error")
	ErrConfiguration = errors.New("configuration error")
	ErrOrganization  = errors.New("organization error")
	ErrSubtitle      = errors.New("subtitle error")
	ErrStore         = errors.New("store error")
	ErrCancelled     = errors.New("cancelled")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCancelled reports whether an error represents cooperative cancellation,
// either via the sentinel or a context error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// NeedsReview reports whether a failure should route the affected entity to
// review rather than a hard failure. Configuration and matching problems are
// user-resolvable; everything else is terminal.
func NeedsReview(err error) bool {
	return errors.Is(err, ErrMatching) || errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
