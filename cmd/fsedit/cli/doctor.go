package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/txn"
)

func newDoctorCmd() *cobra.Command {
	var tasksRoot, workDir string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose a workspace's fsedit state",
		Long: `Report on the tasks recorded under a workspace's task store:
journal schema version, snapshot storage size, and any transaction left
in the STUCK state by a smart-undo that couldn't fully resolve.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolving working directory: %w", err)
				}
				workDir = wd
			}
			return runDoctor(cmd, tasksRoot, workDir)
		},
	}

	cmd.Flags().StringVar(&tasksRoot, "tasks-root", defaultTasksRoot(), "directory holding per-task state")
	cmd.Flags().StringVar(&workDir, "workdir", "", "workspace root to load settings from (defaults to cwd)")

	return cmd
}

func defaultTasksRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".fsedit", "tasks")
	}
	return filepath.Join(wd, ".fsedit", "tasks")
}

func runDoctor(cmd *cobra.Command, tasksRoot, workDir string) error {
	w := cmd.OutOrStdout()

	settings, err := config.Load(workDir)
	if err != nil {
		fmt.Fprintf(w, "settings: could not load (%v), using defaults\n", err)
	} else {
		fmt.Fprintf(w, "journal ring size: %d\n", settingsOrDefault(settings.JournalRingSize, config.DefaultJournalRingSize))
		fmt.Fprintf(w, "search workers: %d\n", settingsOrDefault(settings.SearchWorkers, config.DefaultSearchWorkers))
	}

	entries, err := os.ReadDir(tasksRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(w, "no tasks recorded under %s\n", tasksRoot)
			return nil
		}
		return fmt.Errorf("reading tasks root: %w", err)
	}

	var totalStuck int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		taskDir := filepath.Join(tasksRoot, e.Name())
		journalPath := filepath.Join(taskDir, "journal.db")
		if _, err := os.Stat(journalPath); err != nil {
			continue
		}

		journal, err := txn.OpenJournal(journalPath)
		if err != nil {
			fmt.Fprintf(w, "task %s: could not open journal: %v\n", e.Name(), err)
			continue
		}

		version, _ := journal.SchemaVersion()
		stuck, _ := journal.CountByStatus(txn.StatusStuck)
		size := dirSize(filepath.Join(taskDir, "snapshots-before")) + dirSize(filepath.Join(taskDir, "snapshots-after"))
		journal.Close()

		totalStuck += stuck
		fmt.Fprintf(w, "task %s: schema v%d, snapshots %s, stuck transactions %d\n", e.Name(), version, humanBytes(size), stuck)
	}

	if totalStuck > 0 {
		fmt.Fprintf(w, "\n%d stuck transaction(s) found. Run `fsedit recover` to resolve them.\n", totalStuck)
	}

	return nil
}

func settingsOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for d := n / unit; d >= unit; d /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
