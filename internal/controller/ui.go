// Package controller renders patch reports and module inspections.
package controller

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// UI defines how run results reach the user.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	// DisplayReport prints the outcome of a patch run. err is the run error, if any.
	DisplayReport(ctx context.Context, report *m.PatchReport, err error) error
	// DisplayInspections prints one method table per inspected module.
	DisplayInspections(ctx context.Context, inspections []m.Inspection) error
	// BrowseInspections lets the user page through inspections. Non-interactive
	// implementations print them instead.
	BrowseInspections(ctx context.Context, inspections []m.Inspection) error
}

// NewUI returns a TUI when stdout is a terminal and a SimpleUI otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd, cmd.InOrStdin())
	}

	return NewSimpleUI(cmd, false)
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
