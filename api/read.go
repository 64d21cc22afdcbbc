package api

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/charset"
	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/task"
	"github.com/nefrols/fsedit/internal/token"
)

// LineRange is an inclusive, 1-based line span requested by a read.
type LineRange struct {
	Start int
	End   int
}

// ReadRequest is the `file.read` tool's input.
type ReadRequest struct {
	Path          string
	StartLine     int // 0 means unset
	Line          int // single-line convenience form
	Ranges        []LineRange
	AnchorPattern string
	Token         string
	Force         bool
}

// ReadRange is one range of the response, paired with the token minted for
// exactly that span.
type ReadRange struct {
	Start int
	End   int
	Text  string
	Token string
}

// ReadResponse is the `file.read` tool's output.
type ReadResponse struct {
	Path      string
	Ranges    []ReadRange
	LineCount int
}

// HandleRead implements `file.read`: resolves the requested range(s)
// against the current file content, mints an access token for each, and
// records a fresh external-change baseline.
func HandleRead(t *task.Task, req ReadRequest) (ReadResponse, error) {
	resolved, err := t.Box.Resolve(req.Path)
	if err != nil {
		return ReadResponse{}, &errs.SandboxError{Path: req.Path, Reason: err.Error(), Err: err}
	}

	raw, err := os.ReadFile(resolved) //nolint:gosec // sandbox-resolved path
	if err != nil {
		return ReadResponse{}, &errs.ResourceError{Detail: fmt.Sprintf("reading %s", req.Path), Err: err}
	}

	text, charsetName := charset.Detect(raw, "")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	ranges := req.Ranges
	if len(ranges) == 0 {
		start, end := 1, len(lines)
		switch {
		case req.AnchorPattern != "":
			re, err := regexp.Compile(req.AnchorPattern)
			if err != nil {
				return ReadResponse{}, &errs.AddressingError{Path: req.Path, Detail: err.Error(), Err: err}
			}
			found := -1
			for i, l := range lines {
				if re.MatchString(l) {
					found = i + 1
					break
				}
			}
			if found == -1 {
				return ReadResponse{}, &errs.AddressingError{Path: req.Path, Detail: "anchor pattern matched no line"}
			}
			start, end = found, found
		case req.Line != 0:
			start, end = req.Line, req.Line
		case req.StartLine != 0:
			start, end = req.StartLine, req.StartLine
		}
		ranges = []LineRange{{Start: start, End: end}}
	}

	fileCRC := changetracker.CRC32C(raw)
	var out []ReadRange
	for _, r := range ranges {
		start, end := r.Start, r.End
		if start < 1 {
			start = 1
		}
		if end > len(lines) {
			end = len(lines)
		}
		if end < start {
			return ReadResponse{}, &errs.AddressingError{Path: req.Path, Detail: fmt.Sprintf("range %d-%d is out of bounds", r.Start, r.End)}
		}
		tok := t.Registry.RegisterAccess(resolved, start, end, lines, len(lines), fileCRC)
		out = append(out, ReadRange{Start: start, End: end, Text: strings.Join(lines[start-1:end], "\n"), Token: token.Encode(tok)})
	}

	if _, ok := t.Lineage.GetFileID(resolved); !ok {
		t.Lineage.RegisterFile(resolved)
	}
	t.Lineage.UpdateCRC(resolved, fileCRC)
	t.Changes.RecordSnapshot(resolved, text, charsetName, len(lines))

	return ReadResponse{Path: req.Path, Ranges: out, LineCount: len(lines)}, nil
}
