package api

import (
	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/search"
	"github.com/nefrols/fsedit/internal/task"
)

// SearchAction is one of the `file.search` verbs.
type SearchAction string

const (
	SearchList      SearchAction = "list"
	SearchFind      SearchAction = "find"
	SearchGrep      SearchAction = "grep"
	SearchStructure SearchAction = "structure"
)

// SearchRequest is the `file.search` tool's input.
type SearchRequest struct {
	Action     SearchAction
	Path       string
	Pattern    string
	IsRegex    bool
	MaxResults int
	Before     int
	After      int
}

// SearchMatch mirrors search.Match for the tool boundary.
type SearchMatch struct {
	Path  string
	Start int
	End   int
	Text  string
	Token string
}

// SearchResponse is the `file.search` tool's output.
type SearchResponse struct {
	Paths   []string
	Matches []SearchMatch
}

// HandleSearch implements `file.search`.
func HandleSearch(t *task.Task, req SearchRequest) (SearchResponse, error) {
	dir, err := t.Box.Resolve(req.Path)
	if err != nil {
		return SearchResponse{}, &errs.SandboxError{Path: req.Path, Reason: err.Error(), Err: err}
	}

	eng := &search.Engine{Box: t.Box, Registry: t.Registry}

	switch req.Action {
	case SearchList:
		paths, err := eng.List(dir)
		if err != nil {
			return SearchResponse{}, &errs.ResourceError{Detail: "listing", Err: err}
		}
		return SearchResponse{Paths: paths}, nil

	case SearchFind:
		paths, err := eng.Find(dir, req.Pattern)
		if err != nil {
			return SearchResponse{}, &errs.ResourceError{Detail: "finding", Err: err}
		}
		return SearchResponse{Paths: paths}, nil

	case SearchStructure:
		paths, err := eng.Structure(dir)
		if err != nil {
			return SearchResponse{}, &errs.ResourceError{Detail: "walking structure", Err: err}
		}
		return SearchResponse{Paths: paths}, nil

	case SearchGrep:
		mode := search.ModeLiteral
		if req.IsRegex {
			mode = search.ModeRegex
		}
		matches, err := eng.Grep(dir, search.GrepOptions{
			Pattern:    req.Pattern,
			Mode:       mode,
			Before:     req.Before,
			After:      req.After,
			MaxResults: req.MaxResults,
		})
		if err != nil {
			return SearchResponse{}, &errs.AddressingError{Path: req.Path, Detail: err.Error(), Err: err}
		}
		out := make([]SearchMatch, len(matches))
		for i, m := range matches {
			out[i] = SearchMatch{Path: m.Path, Start: m.Start, End: m.End, Text: m.Text, Token: m.Token}
		}
		return SearchResponse{Matches: out}, nil

	default:
		return SearchResponse{}, &errs.AddressingError{Path: req.Path, Detail: "unknown search action"}
	}
}
