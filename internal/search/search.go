// Package search implements C10: list, glob find, literal/regex grep, and
// directory-structure operations over a task's workspace, minting access
// tokens for every match range so a following edit needs no extra read.
package search

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/alitto/pond"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/registry"
	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/token"
)

// Mode selects grep's pattern semantics.
type Mode string

const (
	ModeLiteral Mode = "literal"
	ModeRegex   Mode = "regex"
)

// Engine runs search operations against one task's sandboxed workspace.
type Engine struct {
	Box      *sandbox.Sandbox
	Registry *registry.Registry
	Workers  int
}

const defaultWorkers = 8

func (e *Engine) workerCount() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return defaultWorkers
}

// Match is one coalesced contiguous range of match-or-context lines within
// a file, along with the token minted for that exact range.
type Match struct {
	Path  string
	Start int
	End   int
	Text  string
	Token string
}

// GrepOptions configures a grep pass.
type GrepOptions struct {
	Pattern    string
	Mode       Mode
	Before     int
	After      int
	MaxResults int // 0 means unbounded
}

// List returns every regular file under dir (relative to a sandbox root),
// sorted, honoring the sandbox's protected-path and extra-glob exclusions.
func (e *Engine) List(dir string) ([]string, error) {
	resolved, err := e.Box.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, path)
		return nil
	})
	sort.Strings(out)
	return out, err
}

// Find returns every file under dir whose basename matches glob.
func (e *Engine) Find(dir, glob string) ([]string, error) {
	resolved, err := e.Box.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr
		}
		if ok, _ := filepath.Match(glob, d.Name()); ok {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// Structure returns a flattened tree listing (directories and files) under
// dir, sorted, for the `file.search` structure action.
func (e *Engine) Structure(dir string) ([]string, error) {
	resolved, err := e.Box.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		out = append(out, path)
		return nil
	})
	sort.Strings(out)
	return out, err
}

// Grep searches every file returned by List(dir) in parallel (bounded by
// Engine.Workers), coalescing adjacent match/context lines per file into
// contiguous ranges and minting an access token for each.
func (e *Engine) Grep(dir string, opts GrepOptions) ([]Match, error) {
	files, err := e.List(dir)
	if err != nil {
		return nil, err
	}

	var matcher func(string) bool
	if opts.Mode == ModeRegex {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, err
		}
		matcher = re.MatchString
	} else {
		matcher = func(l string) bool { return strings.Contains(l, opts.Pattern) }
	}

	pool := pond.New(e.workerCount(), len(files), pond.MinWorkers(1))
	defer pool.StopAndWait()

	var mu sync.Mutex
	var all []Match
	matchedFiles := 0

	for _, f := range files {
		f := f
		mu.Lock()
		if opts.MaxResults > 0 && matchedFiles >= opts.MaxResults {
			mu.Unlock()
			break
		}
		mu.Unlock()

		pool.Submit(func() {
			matches := e.grepFile(f, matcher, opts.Before, opts.After)
			if len(matches) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if opts.MaxResults > 0 && matchedFiles >= opts.MaxResults {
				return
			}
			matchedFiles++
			all = append(all, matches...)
		})
	}

	pool.StopAndWait()
	sort.Slice(all, func(i, j int) bool {
		if all[i].Path != all[j].Path {
			return all[i].Path < all[j].Path
		}
		return all[i].Start < all[j].Start
	})
	return all, nil
}

// grepFile is swallowed-error per file: a single unreadable file never
// fails the overall grep, per the batch-continues propagation policy.
func (e *Engine) grepFile(path string, matcher func(string) bool, before, after int) []Match {
	f, err := os.Open(path) //nolint:gosec // path already sandbox-resolved
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil {
		return nil
	}

	hit := make([]bool, len(lines))
	for i, l := range lines {
		if matcher(l) {
			hit[i] = true
		}
	}

	included := make([]bool, len(lines))
	for i, h := range hit {
		if !h {
			continue
		}
		for j := max0(i-before, 0); j <= min0(i+after, len(lines)-1); j++ {
			included[j] = true
		}
	}

	var matches []Match
	i := 0
	fileCRC := changetracker.CRC32C([]byte(strings.Join(lines, "\n")))
	for i < len(included) {
		if !included[i] {
			i++
			continue
		}
		start := i
		for i < len(included) && included[i] {
			i++
		}
		end := i - 1
		rangeLines := lines[start : end+1]
		text := strings.Join(rangeLines, "\n")
		tok := e.Registry.RegisterAccess(path, start+1, end+1, lines, len(lines), fileCRC)
		matches = append(matches, Match{Path: path, Start: start + 1, End: end + 1, Text: text, Token: token.Encode(tok)})
	}
	return matches
}

func max0(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min0(a, b int) int {
	if a < b {
		return a
	}
	return b
}
