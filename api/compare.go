package api

import (
	"os"

	"github.com/nefrols/fsedit/internal/charset"
	"github.com/nefrols/fsedit/internal/diffutil"
	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/task"
)

// CompareRequest is the `file.compare` tool's input.
type CompareRequest struct {
	Path1 string
	Path2 string
}

// CompareResponse is the `file.compare` tool's output.
type CompareResponse struct {
	Diff         string
	LinesAdded   int
	LinesRemoved int
}

// HandleCompare implements `file.compare`: a read-only unified diff between
// two files in the sandbox, no transaction and no token required.
func HandleCompare(t *task.Task, req CompareRequest) (CompareResponse, error) {
	before, err := readText(t, req.Path1)
	if err != nil {
		return CompareResponse{}, err
	}
	after, err := readText(t, req.Path2)
	if err != nil {
		return CompareResponse{}, err
	}

	added, removed := diffutil.LineDelta(before, after)
	return CompareResponse{
		Diff:         diffutil.Unified(req.Path2, before, after),
		LinesAdded:   added,
		LinesRemoved: removed,
	}, nil
}

func readText(t *task.Task, path string) (string, error) {
	resolved, err := t.Box.Resolve(path)
	if err != nil {
		return "", &errs.SandboxError{Path: path, Reason: err.Error(), Err: err}
	}
	raw, err := os.ReadFile(resolved) //nolint:gosec // sandbox-resolved path
	if err != nil {
		return "", &errs.ResourceError{Detail: "reading " + path, Err: err}
	}
	text, _ := charset.Detect(raw, "")
	return text, nil
}
