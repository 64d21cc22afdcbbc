// Package diffutil renders unified diffs between two versions of a file's
// content, backing the file.compare tool action and dry-run edit previews.
package diffutil

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Unified returns a unified-style diff of before vs after, labeled with
// path on both the "---" and "+++" headers.
func Unified(path, before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)

	beforeLine, afterLine := 1, 1
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			beforeLine += len(lines)
			afterLine += len(lines)
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				fmt.Fprintf(&b, "-%d: %s\n", beforeLine, l)
				beforeLine++
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				fmt.Fprintf(&b, "+%d: %s\n", afterLine, l)
				afterLine++
			}
		}
	}
	return b.String()
}

// LineDelta returns the net line-count change from before to after,
// recorded as a PathStat for the journal's diff-stat table.
func LineDelta(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
