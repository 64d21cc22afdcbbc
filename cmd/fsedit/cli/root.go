package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// SilentError wraps an error that a command has already reported to the
// user, so main doesn't print it a second time.
type SilentError struct {
	Err error
}

func (e *SilentError) Error() string { return e.Err.Error() }
func (e *SilentError) Unwrap() error { return e.Err }

// Version information, overridable at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewRootCmd builds the fsedit CLI: a thin operational shell around the
// in-process core (api.Handle*) for recovery and diagnostics. Agents talk
// to the core directly; this binary is for a human sitting at the
// workspace when something needs a closer look.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsedit",
		Short:         "Transactional file-mutation core for coding assistants",
		Long:          "fsedit hosts the access-token, transaction, and smart-undo core used by an agent's file tools.\n\nMost of its surface is a library (see the api package); this binary covers the parts a human runs by hand: recovering stuck transactions and diagnosing a workspace.",
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fsedit %s (%s)\n", Version, Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
