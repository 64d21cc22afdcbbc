package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// NewAccessibleForm wraps huh groups with accessible mode whenever the
// ACCESSIBLE environment variable is set or stdout isn't a real terminal,
// so piped/CI/screen-reader invocations fall back to plain text prompts
// instead of the TUI.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...)
	if os.Getenv("ACCESSIBLE") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		form = form.WithAccessible(true)
	}
	return form
}
