// Package vcsprobe is a read-only adapter over a workspace's git state,
// used only to decide whether a recovery hint is worth emitting and to
// word it usefully. It never executes or stages anything.
package vcsprobe

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Probe inspects a workspace root for version control.
type Probe struct {
	repo *git.Repository
}

// Open opens root as a git repository. A non-nil, false-ok Probe is
// returned (rather than an error) when root isn't a git worktree, since
// "no VCS" is an expected, non-fatal outcome for most workspaces.
func Open(root string) (*Probe, bool) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, false
	}
	return &Probe{repo: repo}, true
}

// RecoveryHint describes a single path's status for a PARTIAL or STUCK
// transaction, phrased as a suggestion the agent can relay to the user.
// The core surfaces these hints; it never runs the commands itself.
type RecoveryHint struct {
	Path       string
	Suggestion string
}

// Hints builds one recovery suggestion per path, based on that path's
// current worktree status. Best-effort: any probe failure yields no hints
// rather than an error, since recovery hints are advisory.
func (p *Probe) Hints(paths []string) []RecoveryHint {
	if p == nil {
		return nil
	}
	wt, err := p.repo.Worktree()
	if err != nil {
		return nil
	}
	status, err := wt.Status()
	if err != nil {
		return nil
	}

	var hints []RecoveryHint
	for _, path := range paths {
		rel := p.relativize(path, wt.Filesystem.Root())
		st, tracked := status[rel]
		hints = append(hints, RecoveryHint{Path: path, Suggestion: suggestionFor(rel, st, tracked)})
	}
	return hints
}

func (p *Probe) relativize(path, root string) string {
	rel := strings.TrimPrefix(path, root)
	return strings.TrimPrefix(rel, "/")
}

func suggestionFor(rel string, st *git.FileStatus, tracked bool) string {
	if !tracked {
		return fmt.Sprintf("%s is untracked; inspect it manually before deciding whether to keep it", rel)
	}
	switch st.Worktree {
	case git.Modified:
		return fmt.Sprintf("git diff -- %s to inspect the unresolved change, then git checkout -- %s to discard it if safe", rel, rel)
	case git.Deleted:
		return fmt.Sprintf("git checkout -- %s to restore it from the last commit", rel)
	case git.Untracked:
		return fmt.Sprintf("%s is untracked; inspect it manually before deciding whether to keep it", rel)
	default:
		return fmt.Sprintf("git status -- %s to inspect its current state", rel)
	}
}
