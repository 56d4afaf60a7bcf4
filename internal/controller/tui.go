package controller

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

const (
	defaultTableHeight = 20
	// chromeLines is the number of lines the header and footer take.
	chromeLines = 6
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	footerStyle = lipgloss.NewStyle().Faint(true)
)

// TUI implements UI with colored output and a Bubble Tea method browser.
type TUI struct {
	*SimpleUI

	input io.Reader
}

// NewTUI creates a new TUI reading keys from input.
func NewTUI(cmd *cobra.Command, input io.Reader) *TUI {
	return &TUI{SimpleUI: NewSimpleUI(cmd, true), input: input}
}

// BrowseInspections opens a scrollable method table. q or esc quits.
func (p *TUI) BrowseInspections(ctx context.Context, inspections []m.Inspection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	program := tea.NewProgram(
		newBrowserModel(inspections),
		tea.WithContext(ctx),
		tea.WithInput(p.input),
		tea.WithOutput(p.cmd.OutOrStdout()),
		tea.WithAltScreen(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("method browser: %w", err)
	}

	return nil
}

// browserRow is one method with the module it belongs to.
type browserRow struct {
	module string
	method m.MethodInfo
}

// browserModel is the Bubble Tea model of the method browser.
type browserModel struct {
	rows        []browserRow
	table       table.Model
	matchedOnly bool
	quitting    bool
}

func newBrowserModel(inspections []m.Inspection) browserModel {
	var rows []browserRow

	for _, inspection := range inspections {
		for _, method := range inspection.Methods {
			rows = append(rows, browserRow{module: inspection.Name, method: method})
		}
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Assembly", Width: 20},
			{Title: "Method", Width: 48},
			{Title: "Returns", Width: 18},
			{Title: "Body", Width: 6},
			{Title: "Match", Width: 5},
		}),
		table.WithFocused(true),
		table.WithHeight(defaultTableHeight),
	)

	bm := browserModel{rows: rows, table: t}
	bm.table.SetRows(bm.visibleRows())

	return bm
}

func (bm browserModel) visibleRows() []table.Row {
	rows := make([]table.Row, 0, len(bm.rows))

	for _, r := range bm.rows {
		if bm.matchedOnly && !r.method.Matched {
			continue
		}

		cells := methodRow(r.method)
		rows = append(rows, table.Row{r.module, cells[0], cells[2], cells[3], cells[4]})
	}

	return rows
}

func (bm browserModel) Init() tea.Cmd {
	return nil
}

func (bm browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		bm.table.SetHeight(max(msg.Height-chromeLines, 1))
		return bm, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			bm.quitting = true
			return bm, tea.Quit

		case "m":
			bm.matchedOnly = !bm.matchedOnly
			bm.table.SetRows(bm.visibleRows())
			bm.table.GotoTop()

			return bm, nil
		}
	}

	var cmd tea.Cmd
	bm.table, cmd = bm.table.Update(msg)

	return bm, cmd
}

func (bm browserModel) View() string {
	if bm.quitting {
		return ""
	}

	var b strings.Builder

	filter := "all methods"
	if bm.matchedOnly {
		filter = "matched methods"
	}

	b.WriteString(titleStyle.Render(fmt.Sprintf("ilpatch inspect: %d of %d %s", len(bm.table.Rows()), len(bm.rows), filter)))
	b.WriteString("\n\n")
	b.WriteString(bm.table.View())
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render("↑/↓ move • m toggle matched • q quit"))
	b.WriteString("\n")

	return b.String()
}
