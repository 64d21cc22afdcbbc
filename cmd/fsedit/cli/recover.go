package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/lineage"
	"github.com/nefrols/fsedit/internal/sandbox"
	"github.com/nefrols/fsedit/internal/snapshot"
	"github.com/nefrols/fsedit/internal/txn"
	"github.com/nefrols/fsedit/internal/undo"
	"github.com/nefrols/fsedit/internal/vcsprobe"
)

func newRecoverCmd() *cobra.Command {
	var tasksRoot, workDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resolve transactions left STUCK by a smart-undo",
		Long: `Scan every task's journal for transactions in the STUCK state
(a smart-undo that could not fully restore its files) and, for each,
show the recovery hints and offer to retry the restore, mark it resolved
without further changes, or leave it for later.

Use --force to retry every stuck transaction without prompting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolving working directory: %w", err)
				}
				workDir = wd
			}
			return runRecover(cmd, tasksRoot, workDir, force)
		},
	}

	cmd.Flags().StringVar(&tasksRoot, "tasks-root", defaultTasksRoot(), "directory holding per-task state")
	cmd.Flags().StringVar(&workDir, "workdir", "", "workspace root the stuck transactions apply to (defaults to cwd)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "retry every stuck transaction without prompting")

	return cmd
}

func runRecover(cmd *cobra.Command, tasksRoot, workDir string, force bool) error {
	w := cmd.OutOrStdout()

	settings, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	box, err := sandbox.New([]string{workDir}, ".fsedit", settings.ProtectedPathPatterns)
	if err != nil {
		return fmt.Errorf("opening sandbox: %w", err)
	}

	var probe *vcsprobe.Probe
	if p, ok := vcsprobe.Open(workDir); ok {
		probe = p
	}

	entries, err := os.ReadDir(tasksRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "no tasks recorded; nothing to recover.")
			return nil
		}
		return fmt.Errorf("reading tasks root: %w", err)
	}

	found := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		taskDir := filepath.Join(tasksRoot, e.Name())
		n, err := recoverTaskDir(cmd, taskDir, box, probe, force)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "task %s: %v\n", e.Name(), err)
			continue
		}
		found += n
	}

	if found == 0 {
		fmt.Fprintln(w, "no stuck transactions found.")
	}
	return nil
}

func recoverTaskDir(cmd *cobra.Command, taskDir string, box *sandbox.Sandbox, probe *vcsprobe.Probe, force bool) (int, error) {
	journalPath := filepath.Join(taskDir, "journal.db")
	if _, err := os.Stat(journalPath); err != nil {
		return 0, nil
	}

	journal, err := txn.OpenJournal(journalPath)
	if err != nil {
		return 0, fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	store, err := snapshot.New(filepath.Join(taskDir, "snapshots-before"), false, config.DefaultSnapshotCompressionThreshold, 64)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot store: %w", err)
	}

	entries, err := journal.ListEntries()
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}

	tracker := lineage.New()
	w := cmd.OutOrStdout()

	count := 0
	for _, e := range entries {
		if e.Status != txn.StatusStuck {
			continue
		}
		count++

		fmt.Fprintf(w, "\nStuck transaction %s (%s)\n", e.ID, e.Description)
		for _, p := range e.Paths {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		for _, h := range probeHints(probe, e.Paths) {
			fmt.Fprintf(w, "  hint: %s: %s\n", h.Path, h.Suggestion)
		}

		action := "retry"
		if !force {
			action, err = promptRecoveryAction(e.ID)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return count, nil
				}
				return count, fmt.Errorf("prompt failed: %w", err)
			}
		}

		switch action {
		case "retry":
			snaps := make(map[string]bool, len(e.Paths))
			for _, p := range e.Paths {
				snaps[p] = false
			}
			tx := &txn.Transaction{ID: e.ID, Description: e.Description, Status: e.Status, Snapshots: snaps, Timestamp: e.CreatedAt}
			result, err := undo.SmartUndo(tx, store, tracker, box, probe, workspaceRoot(box))
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "  -> retry failed: %v\n", err)
				continue
			}
			if result.Outcome == undo.OutcomeStuck {
				fmt.Fprintln(w, "  -> still stuck")
				continue
			}
			journal.UpdateStatus(e.ID, txn.StatusRolledBack) //nolint:errcheck
			fmt.Fprintf(w, "  -> resolved (%s)\n", result.Outcome)

		case "resolve":
			journal.UpdateStatus(e.ID, txn.StatusRolledBack) //nolint:errcheck
			fmt.Fprintln(w, "  -> marked resolved, no further changes made")

		case "skip":
			fmt.Fprintln(w, "  -> skipped")
		}
	}

	return count, nil
}

func workspaceRoot(box *sandbox.Sandbox) string {
	roots := box.Roots()
	if len(roots) == 0 {
		return ""
	}
	return roots[0]
}

func probeHints(probe *vcsprobe.Probe, paths []string) []vcsprobe.RecoveryHint {
	if probe == nil {
		return nil
	}
	return probe.Hints(paths)
}

func promptRecoveryAction(txID string) (string, error) {
	var action string

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Recover transaction %s?", txID)).
				Options(
					huh.NewOption("Retry restore", "retry"),
					huh.NewOption("Mark resolved (no changes)", "resolve"),
					huh.NewOption("Skip for now", "skip"),
				).
				Value(&action),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}
	return action, nil
}
