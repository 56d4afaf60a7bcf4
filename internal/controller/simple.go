package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

const (
	runIDLength   = 8
	checkMark     = "+"
	relocatedMark = "~"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command

	ok   *color.Color
	warn *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewSimpleUI creates a new SimpleUI. Colors are only emitted when colors is set.
func NewSimpleUI(cmd *cobra.Command, colors bool) *SimpleUI {
	s := &SimpleUI{
		cmd:  cmd,
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}

	for _, c := range []*color.Color{s.ok, s.warn, s.fail, s.dim} {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return s
}

// DisplayReport prints a panel with every target and the methods patched in it.
func (s *SimpleUI) DisplayReport(ctx context.Context, report *m.PatchReport, runErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if report == nil {
		if runErr != nil {
			s.printf("%s %v\n", s.fail.Sprint("patch failed:"), runErr)
		}

		return nil
	}

	s.printf("%s\n", renderPanel(s.reportLines(report)))

	for _, target := range report.Targets {
		if target.Diff != "" {
			s.printf("%s\n", target.Diff)
		}
	}

	if runErr != nil {
		s.printf("%s %v\n", s.fail.Sprint("patch failed:"), runErr)
	}

	return nil
}

func (s *SimpleUI) reportLines(report *m.PatchReport) []string {
	title := "ilpatch run " + shortID(report.RunID)
	if report.DryRun {
		title += " (dry run)"
	}

	lines := []string{title, ""}

	for _, target := range report.Targets {
		lines = append(lines, s.targetLines(target)...)
	}

	total := len(report.Methods())
	lines = append(lines, "", fmt.Sprintf("%d method(s) patched in %d target(s)", total, len(report.Targets)))

	return lines
}

func (s *SimpleUI) targetLines(target m.TargetReport) []string {
	switch {
	case target.Skipped != "":
		return []string{fmt.Sprintf("%s %s", s.warn.Sprint("skipped"), target.Path), "  " + s.dim.Sprint(target.Skipped)}
	case target.Error != "":
		return []string{fmt.Sprintf("%s %s", s.fail.Sprint("failed"), target.Path), "  " + target.Error}
	case len(target.Methods) == 0:
		return []string{fmt.Sprintf("%s %s", s.dim.Sprint("unchanged"), target.Path)}
	}

	header := fmt.Sprintf("%s %s", s.ok.Sprint("patched"), target.Path)
	if target.Kind != "" {
		header += s.dim.Sprintf(" [%s, %s]", target.Kind, humanize.Bytes(uint64(target.Size)))
	}

	lines := []string{header}

	relocated := map[string]bool{}
	for _, name := range target.Relocated {
		relocated[name] = true
	}

	for _, name := range target.Methods {
		mark := checkMark
		if relocated[name] {
			mark = relocatedMark
		}

		lines = append(lines, fmt.Sprintf("  %s %s", s.ok.Sprint(mark), name))
	}

	if target.Backup != "" {
		lines = append(lines, s.dim.Sprintf("  backup %s", target.Backup))
	}

	if target.CertificateDropped {
		lines = append(lines, s.warn.Sprint("  signature removed"))
	}

	return lines
}

func renderPanel(lines []string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func shortID(id string) string {
	if len(id) > runIDLength {
		return id[:runIDLength]
	}

	return id
}

// DisplayInspections prints one table per module.
func (s *SimpleUI) DisplayInspections(ctx context.Context, inspections []m.Inspection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, inspection := range inspections {
		s.printf("%s (%s, %s, %s)\n", inspection.Path, inspection.Name, inspection.Kind,
			humanize.Bytes(uint64(inspection.Size)))
		s.printf("%s\n", renderMethodTable(inspection.Methods))
	}

	return nil
}

// BrowseInspections prints the inspections; SimpleUI has no interactive mode.
func (s *SimpleUI) BrowseInspections(ctx context.Context, inspections []m.Inspection) error {
	return s.DisplayInspections(ctx, inspections)
}

func renderMethodTable(methods []m.MethodInfo) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Method", "Token", "Returns", "Body", "Match"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_CENTER,
	})

	matched := 0

	for _, method := range methods {
		table.Append(methodRow(method))

		if method.Matched {
			matched++
		}
	}

	table.SetFooter([]string{fmt.Sprintf("Total Methods %d", len(methods)), "", "", "", fmt.Sprintf("%d", matched)})
	table.Render()

	return tableBuffer.String()
}

func methodRow(method m.MethodInfo) []string {
	body := "-"
	if method.HasBody {
		body = fmt.Sprintf("%d", method.BodySize)
	}

	match := ""
	if method.Matched {
		match = "yes"
	}

	return []string{
		method.FullName,
		method.Token,
		fmt.Sprintf("%s (%s)", method.ReturnKind, method.ReturnType),
		body,
		match,
	}
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
