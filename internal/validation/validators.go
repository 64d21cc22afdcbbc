// Package validation provides input validation shared across the core.
// It has no internal dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// idSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate identifiers that end up embedded in file paths.
var idSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateTaskID validates that a task ID is non-empty and contains no path
// separators, preventing path traversal when the ID is used to build the
// per-task directory under the workspace sandbox.
func ValidateTaskID(id string) error {
	if id == "" {
		return errors.New("task ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid task ID %q: contains path separators", id)
	}
	return nil
}

// ValidateTransactionID validates that a transaction ID is safe for use in a
// snapshot-store subdirectory name.
func ValidateTransactionID(id string) error {
	if id == "" {
		return errors.New("transaction ID cannot be empty")
	}
	if !idSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid transaction ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateFileIdentityID validates an opaque file-lineage identity ID.
func ValidateFileIdentityID(id string) error {
	if id == "" {
		return errors.New("file identity ID cannot be empty")
	}
	if !idSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid file identity ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateCheckpointName validates a checkpoint/tag name used by task(action=checkpoint).
func ValidateCheckpointName(name string) error {
	if name == "" {
		return errors.New("checkpoint name cannot be empty")
	}
	if !idSafeRegex.MatchString(name) {
		return fmt.Errorf("invalid checkpoint name %q: must be alphanumeric with underscores/hyphens only", name)
	}
	return nil
}
