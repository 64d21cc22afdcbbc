// Package editor implements C9: line-addressed, batch-capable,
// fuzzy-validated file mutation, the primary producer of transactions.
package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nefrols/fsedit/internal/changetracker"
	"github.com/nefrols/fsedit/internal/charset"
	"github.com/nefrols/fsedit/internal/diffutil"
	"github.com/nefrols/fsedit/internal/errs"
	"github.com/nefrols/fsedit/internal/lineage"
	"github.com/nefrols/fsedit/internal/logging"
	"github.com/nefrols/fsedit/internal/registry"
	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/snapshot"
	"github.com/nefrols/fsedit/internal/token"
	"github.com/nefrols/fsedit/internal/txn"
)

// Operation is one of the four per-span edit verbs.
type Operation string

const (
	OpReplace      Operation = "replace"
	OpInsertBefore Operation = "insert_before"
	OpInsertAfter  Operation = "insert_after"
	OpDelete       Operation = "delete"
)

// Op is one addressed mutation within a file, either the sole operation of
// a single-file edit or one entry of a same-file batch.
type Op struct {
	StartLine         int
	EndLine           int // 0 means "same as StartLine"
	Content           string
	Operation         Operation // defaults to OpReplace
	ExpectedContent   string
	IgnoreIndentation bool
	AutoIndent        bool
	AnchorPattern     string
}

// FileEdit is one file's worth of work: either a single top-level Op (when
// Operations is empty) or a same-file batch. Setting both Content and
// Operations is a caller error (content must be per-op).
type FileEdit struct {
	Path  string
	Token string

	Op // embedded top-level single-op fields

	Operations []Op
}

// normalize returns the Ops to apply, rejecting a FileEdit that mixes a
// top-level Content with an Operations batch.
func (f FileEdit) normalize() ([]Op, error) {
	hasTopLevel := f.Content != "" || f.StartLine != 0 || f.AnchorPattern != ""
	if hasTopLevel && len(f.Operations) > 0 {
		return nil, &errs.AddressingError{Path: f.Path, Detail: "top-level content and operations are mutually exclusive"}
	}
	if len(f.Operations) > 0 {
		return f.Operations, nil
	}
	return []Op{f.Op}, nil
}

// Request is a multi-file batch applied under one outer transaction; any
// failure rolls back every file. DryRun computes the same per-file unified
// diffs without touching disk, the transaction manager, snapshots, the
// access registry, or lineage — a DryRun Request and the otherwise-identical
// non-DryRun Request that follows it must report equal diffs.
type Request struct {
	Description string
	Edits       []FileEdit
	DryRun      bool
}

// FileResult is the per-file outcome of a Request. Diff is populated on
// every call, dry-run or not, so the two can be compared.
type FileResult struct {
	Path            string
	Token           string
	Diff            string
	LinesAdded      int
	LinesRemoved    int
	CharsetSwitched bool
}

// Result is the full outcome of Apply.
type Result struct {
	TransactionID string
	Files         []FileResult
}

// Engine applies edit Requests against a single task's workspace,
// coordinating the sandbox, access registry, external-change tracker, file
// lineage, transaction manager, and snapshot stores.
type Engine struct {
	Box            *sandbox.Sandbox
	Registry       *registry.Registry
	Changes        *changetracker.Tracker
	Lineage        *lineage.Tracker
	Txn            *txn.Manager
	Snapshots      *snapshot.Store
	AfterSnapshots *snapshot.Store
	MaxFileBytes   int64
}

const defaultMaxFileBytes = 32 * 1024 * 1024

// Apply runs req under one outer transaction. Any per-file error rolls back
// every file touched so far and no journal entry is written. When
// req.DryRun is set, no transaction is opened and no file is touched: each
// edit is resolved and diffed against the current on-disk content only.
func (e *Engine) Apply(req Request) (Result, error) {
	if req.DryRun {
		var fileResults []FileResult
		for _, fe := range req.Edits {
			fr, _, err := e.applyFile(fe, true)
			if err != nil {
				return Result{}, err
			}
			fileResults = append(fileResults, fr)
		}
		return Result{Files: fileResults}, nil
	}

	tx := e.Txn.Begin(req.Description)

	var fileResults []FileResult
	var stats []txn.PathStat

	for _, fe := range req.Edits {
		fr, stat, err := e.applyFile(fe, false)
		if err != nil {
			e.rollback()
			return Result{}, err
		}
		fileResults = append(fileResults, fr)
		stats = append(stats, stat)
	}

	evicted, err := e.Txn.Commit(stats)
	if err != nil {
		return Result{}, &errs.TransactionalError{Detail: "commit failed", Err: err}
	}
	for _, txID := range evicted {
		e.Snapshots.Forget(txID) //nolint:errcheck // best-effort ring eviction
		if e.AfterSnapshots != nil {
			e.AfterSnapshots.Forget(txID) //nolint:errcheck
		}
	}

	txID := tx.ID
	logCtx := logging.WithComponent(logging.WithTxn(context.Background(), txID), "editor")
	logging.Info(logCtx, "edit committed", "files", len(fileResults))
	return Result{TransactionID: txID, Files: fileResults}, nil
}

func (e *Engine) rollback() {
	tx := e.Txn.Abort(txn.StatusRolledBack)
	if tx == nil {
		return
	}
	for path, wasNone := range tx.Snapshots {
		data, isNone, err := e.Snapshots.Get(tx.ID, path)
		if err != nil {
			continue
		}
		if wasNone || isNone {
			os.Remove(path) //nolint:errcheck
			continue
		}
		os.WriteFile(path, data, 0o600) //nolint:errcheck
	}
	e.Snapshots.Forget(tx.ID) //nolint:errcheck
}

func (e *Engine) applyFile(fe FileEdit, dryRun bool) (FileResult, txn.PathStat, error) {
	resolved, err := e.Box.Resolve(fe.Path)
	if err != nil {
		return FileResult{}, txn.PathStat{}, &errs.SandboxError{Path: fe.Path, Reason: err.Error(), Err: err}
	}

	ops, err := fe.normalize()
	if err != nil {
		return FileResult{}, txn.PathStat{}, err
	}

	createdInTask := e.Registry.IsCreatedInTask(resolved)

	var raw []byte
	var exists bool
	if info, statErr := os.Stat(resolved); statErr == nil {
		exists = true
		limit := e.MaxFileBytes
		if limit <= 0 {
			limit = defaultMaxFileBytes
		}
		if info.Size() > limit {
			return FileResult{}, txn.PathStat{}, &errs.ResourceError{Detail: fmt.Sprintf("%s exceeds the maximum editable file size", fe.Path)}
		}
		raw, err = os.ReadFile(resolved)
		if err != nil {
			return FileResult{}, txn.PathStat{}, &errs.ResourceError{Detail: "reading file", Err: err}
		}
	} else if !createdInTask {
		return FileResult{}, txn.PathStat{}, &errs.AddressingError{Path: fe.Path, Detail: "file does not exist", Err: statErr}
	}

	text, charsetName := charset.Detect(raw, "")
	lineSep := "\n"
	if strings.Contains(text, "\r\n") {
		lineSep = "\r\n"
	}
	lines := splitLines(text, lineSep)

	resolvedOps, err := resolveAddressing(lines, ops)
	if err != nil {
		return FileResult{}, txn.PathStat{}, &errs.AddressingError{Path: fe.Path, Detail: err.Error(), Err: err}
	}

	unionStart, unionEnd := unionRange(resolvedOps)

	if !createdInTask {
		if err := e.gateToken(fe, resolved, text, lines, unionStart, unionEnd); err != nil {
			return FileResult{}, txn.PathStat{}, err
		}
	}

	sort.SliceStable(resolvedOps, func(i, j int) bool { return resolvedOps[i].start > resolvedOps[j].start })

	if !dryRun {
		if err := e.Txn.MarkBackedUp(resolved, !exists); err != nil {
			return FileResult{}, txn.PathStat{}, &errs.TransactionalError{Detail: "marking backup", Err: err}
		}
		if exists {
			if err := e.Snapshots.Put(e.currentTxID(), resolved, raw, false); err != nil {
				return FileResult{}, txn.PathStat{}, &errs.ResourceError{Detail: "snapshotting pre-image", Err: err}
			}
		} else {
			e.Snapshots.Put(e.currentTxID(), resolved, nil, true) //nolint:errcheck
			e.Registry.MarkCreatedInTask(resolved)
			e.Txn.MarkCreated(resolved) //nolint:errcheck
		}
	}

	charsetSwitched := false
	for _, ro := range resolvedOps {
		lines, err = applyOp(lines, ro)
		if err != nil {
			return FileResult{}, txn.PathStat{}, &errs.AddressingError{Path: fe.Path, Detail: err.Error(), Err: err}
		}
	}

	newText := strings.Join(lines, lineSep)
	encoded, ok := charset.Encode(newText, charsetName)
	if !ok {
		encoded = []byte(newText)
		charsetName = charset.UTF8
		charsetSwitched = true
	}

	diff := diffutil.Unified(fe.Path, text, newText)

	added, removed := 0, 0
	for _, ro := range resolvedOps {
		switch ro.op.Operation {
		case OpDelete:
			removed += ro.end - ro.start + 1
		case OpInsertBefore, OpInsertAfter:
			added += strings.Count(ro.op.Content, "\n") + 1
		default:
			added += strings.Count(ro.op.Content, "\n") + 1
			removed += ro.end - ro.start + 1
		}
	}

	if dryRun {
		return FileResult{
			Path:            fe.Path,
			Diff:            diff,
			LinesAdded:      added,
			LinesRemoved:    removed,
			CharsetSwitched: charsetSwitched,
		}, txn.PathStat{}, nil
	}

	if err := writeFileAtomic(resolved, encoded); err != nil {
		return FileResult{}, txn.PathStat{}, &errs.ResourceError{Detail: "writing file", Err: err}
	}

	if e.AfterSnapshots != nil {
		e.AfterSnapshots.Put(e.currentTxID(), resolved, encoded, false) //nolint:errcheck
	}

	fileCRC := changetracker.CRC32C(encoded)
	successorEnd := min(unionStart+(unionEnd-unionStart), len(lines))
	if successorEnd < unionStart {
		successorEnd = min(unionStart, len(lines))
	}
	newTok := e.Registry.RegisterAccess(resolved, min(unionStart, len(lines)), successorEnd, lines, len(lines), fileCRC)
	lineDelta := len(lines) - len(splitLines(text, lineSep))
	e.Registry.UpdateAfterEdit(resolved, unionStart, unionEnd, lineDelta, lines, len(lines))

	if _, ok := e.Lineage.GetFileID(resolved); !ok {
		e.Lineage.RegisterFile(resolved)
	}
	e.Lineage.UpdateCRC(resolved, fileCRC)
	e.Changes.RecordSnapshot(resolved, newText, charsetName, len(lines))
	e.Changes.MarkTouchedByTransaction(resolved)

	return FileResult{
			Path:            fe.Path,
			Token:           token.Encode(newTok),
			Diff:            diff,
			LinesAdded:      added,
			LinesRemoved:    removed,
			CharsetSwitched: charsetSwitched,
		}, txn.PathStat{TxID: e.currentTxID(), Path: resolved, LinesAdded: added, LinesRemoved: removed},
		nil
}

func (e *Engine) currentTxID() string {
	tx, _ := e.Txn.Current()
	if tx == nil {
		return ""
	}
	return tx.ID
}

func (e *Engine) gateToken(fe FileEdit, resolved, currentText string, lines []string, start, end int) error {
	if fe.Token == "" {
		return &errs.AuthorizationError{Path: fe.Path, Detail: "a token is required to edit an existing file"}
	}
	tok, err := token.Decode(fe.Token, resolved, e.Lineage)
	if err != nil {
		return &errs.AuthorizationError{Path: fe.Path, Detail: err.Error(), Err: err}
	}

	rangeText := rangeTextOf(lines, tok.Start, tok.End)
	result := token.Validate(tok, rangeText, len(lines))
	if !result.Valid {
		var extDetail string
		if ev, ok := e.Changes.CheckForExternalChange(resolved, currentText, "", len(lines)); ok {
			extDetail = fmt.Sprintf("; external change detected (crc %x -> %x)", ev.Previous.CRC32C, ev.Current.CRC32C)
		}
		return &errs.AuthorizationError{
			Path:        fe.Path,
			Detail:      result.Reason.Error() + extDetail,
			ExpectedCRC: tok.RangeCRC,
			ActualCRC:   token.ComputeRangeCRC(rangeText),
			Err:         result.Reason,
		}
	}

	if !e.Registry.Covers(resolved, tok, start, end) {
		return &errs.AuthorizationError{Path: fe.Path, Detail: fmt.Sprintf("token does not cover lines %d-%d", start, end)}
	}
	return nil
}

func rangeTextOf(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < start {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func splitLines(text, sep string) []string {
	if text == "" {
		return []string{""}
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}

type resolvedOp struct {
	start, end int
	op         Op
}

// resolveAddressing turns each Op's anchorPattern-or-absolute addressing
// into concrete 1-based line numbers against the current line vector.
func resolveAddressing(lines []string, ops []Op) ([]resolvedOp, error) {
	out := make([]resolvedOp, 0, len(ops))
	for _, op := range ops {
		start, end := op.StartLine, op.EndLine
		if op.AnchorPattern != "" {
			re, err := regexp.Compile(op.AnchorPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid anchor pattern %q: %w", op.AnchorPattern, err)
			}
			anchorLine := -1
			for i, l := range lines {
				if re.MatchString(l) {
					anchorLine = i + 1
					break
				}
			}
			if anchorLine == -1 {
				return nil, fmt.Errorf("anchor pattern %q matched no line", op.AnchorPattern)
			}
			start = anchorLine + op.StartLine
			if end == 0 {
				end = start
			} else {
				end = anchorLine + op.EndLine
			}
		} else if end == 0 {
			end = start
		}

		switch op.Operation {
		case OpInsertBefore:
			end = start - 1
		case OpInsertAfter:
			start = end + 1
			end = start - 1
		}

		if start < 1 || start > len(lines)+1 {
			return nil, fmt.Errorf("start line %d out of bounds (file has %d lines)", start, len(lines))
		}
		if end < start-1 || end > len(lines) {
			return nil, fmt.Errorf("end line %d out of bounds (file has %d lines)", end, len(lines))
		}

		out = append(out, resolvedOp{start: start, end: end, op: op})
	}
	return out, nil
}

func unionRange(ops []resolvedOp) (int, int) {
	if len(ops) == 0 {
		return 1, 1
	}
	start, end := ops[0].start, ops[0].end
	for _, o := range ops[1:] {
		if o.start < start {
			start = o.start
		}
		if o.end > end {
			end = o.end
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

// applyOp splices one resolved operation into lines, honoring expectedContent
// fuzzy validation and opt-in auto-indent.
func applyOp(lines []string, ro resolvedOp) ([]string, error) {
	op := ro.op

	if op.ExpectedContent != "" && op.Operation != OpInsertBefore && op.Operation != OpInsertAfter {
		actual := rangeTextOf(lines, ro.start, ro.end)
		if !fuzzyEqual(actual, op.ExpectedContent, op.IgnoreIndentation) {
			return nil, &errs.ContentExpectationError{Expected: op.ExpectedContent, Actual: actual}
		}
	}

	var newLines []string
	if op.Operation == OpDelete {
		newLines = nil
	} else {
		newLines = strings.Split(strings.ReplaceAll(op.Content, "\r\n", "\n"), "\n")
		if op.AutoIndent {
			prefix := indentOf(lines, ro.start)
			for i, l := range newLines {
				if strings.TrimSpace(l) != "" {
					newLines[i] = prefix + l
				}
			}
		}
	}

	before := append([]string(nil), lines[:ro.start-1]...)
	var after []string
	if ro.end < len(lines) {
		after = append([]string(nil), lines[ro.end:]...)
	}
	result := append(before, newLines...)
	result = append(result, after...)
	return result, nil
}

func indentOf(lines []string, start int) string {
	if start-2 < 0 || start-2 >= len(lines) {
		return ""
	}
	above := lines[start-2]
	trimmed := strings.TrimLeft(above, " \t")
	return above[:len(above)-len(trimmed)]
}

// fuzzyEqual compares actual against expected after normalizing line
// endings, trailing whitespace, and trailing blank lines, optionally also
// stripping leading whitespace. This normalization is for comparison only
// and must never be applied to content actually written to disk.
func fuzzyEqual(actual, expected string, dropLeading bool) bool {
	return normalize(actual, dropLeading) == normalize(expected, dropLeading)
}

func normalize(s string, dropLeading bool) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		l = strings.TrimRight(l, " \t")
		if dropLeading {
			l = strings.TrimLeft(l, " \t")
		}
		lines[i] = l
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp := path + ".fsedit-tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
