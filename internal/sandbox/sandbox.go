// Package sandbox implements C1: rejecting any path that escapes the
// configured workspace roots or names protected infrastructure.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Error is a security-taxonomy violation: a path escape or a protected path.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Path, e.Reason)
}

// protectedBasenames names infrastructure files the core refuses to touch
// regardless of which root they resolve under.
var protectedBasenames = map[string]bool{
	".git":       true,
	".hg":        true,
	".svn":       true,
	"gradlew":    true,
	"gradlew.bat": true,
	"mvnw":       true,
	"mvnw.cmd":   true,
}

// Sandbox resolves and validates paths against a fixed set of workspace
// roots, established at server start.
type Sandbox struct {
	roots        []string
	extraGlobs   []string
	metadataName string
}

// New creates a Sandbox over the given absolute, normalized workspace roots.
// metadataName is the sandbox's own infrastructure directory (e.g.
// ".fsedit"), which is always protected irrespective of extraGlobs.
func New(roots []string, metadataName string, extraGlobs []string) (*Sandbox, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox: at least one workspace root is required")
	}
	normalized := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolving root %q: %w", r, err)
		}
		normalized = append(normalized, filepath.Clean(abs))
	}
	return &Sandbox{roots: normalized, extraGlobs: extraGlobs, metadataName: metadataName}, nil
}

// Resolve sanitizes input against the workspace roots, rejecting escapes and
// protected paths. mustExist, when true, additionally requires that the
// resolved path exist relative to one of the roots (checked by the caller via
// os.Stat since Sandbox itself performs no I/O beyond path resolution).
func (s *Sandbox) Resolve(input string) (string, error) {
	if input == "" {
		return "", &Error{Path: input, Reason: "empty path"}
	}

	for _, root := range s.roots {
		var candidate string
		var err error
		if filepath.IsAbs(input) {
			rel, relErr := filepath.Rel(root, filepath.Clean(input))
			if relErr != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			candidate, err = securejoin.SecureJoin(root, rel)
		} else {
			candidate, err = securejoin.SecureJoin(root, input)
		}
		if err != nil {
			continue
		}
		if err := s.checkProtected(root, candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}

	return "", &Error{Path: input, Reason: "resolves outside all configured workspace roots"}
}

// checkProtected rejects paths naming version-control metadata, build
// wrapper scripts, or the sandbox's own metadata directory.
func (s *Sandbox) checkProtected(root, resolved string) error {
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return &Error{Path: resolved, Reason: "cannot compute relative path"}
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts {
		if protectedBasenames[part] {
			return &Error{Path: resolved, Reason: "protected infrastructure path: " + part}
		}
		if s.metadataName != "" && part == s.metadataName {
			return &Error{Path: resolved, Reason: "sandbox metadata directory is not addressable"}
		}
	}
	for _, pattern := range s.extraGlobs {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return &Error{Path: resolved, Reason: "matches protected pattern: " + pattern}
		}
	}
	return nil
}

// Roots returns the configured workspace roots.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Contains reports whether resolved falls under any configured root, without
// re-running protected-path checks. Used by components (e.g. C10 search)
// that already hold a path produced by Resolve.
func (s *Sandbox) Contains(resolved string) bool {
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, resolved)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}
