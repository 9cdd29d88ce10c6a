package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aescanero/evalpipe/internal/application/evaluation"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// palette colors the summary. Colors are disabled for non-TTY outputs or
// when noColor is true.
type palette struct {
	header  *color.Color
	success *color.Color
	failure *color.Color
	warning *color.Color
}

func newPalette(w io.Writer, noColor bool) palette {
	p := palette{
		header:  color.New(color.Bold),
		success: color.New(color.FgGreen, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
		warning: color.New(color.FgYellow),
	}
	if noColor || !isTTY(w) {
		for _, c := range []*color.Color{p.header, p.success, p.failure, p.warning} {
			c.DisableColor()
		}
	}
	return p
}

func isTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

func (p palette) state(s evaluation.State) string {
	switch s {
	case evaluation.StateSucceeded:
		return p.success.Sprint(s)
	case evaluation.StateCancelled:
		return p.warning.Sprint(s)
	default:
		return p.failure.Sprint(s)
	}
}

// printSummary prints the outcome of an evaluation as a table
func printSummary(w io.Writer, result evaluation.ExecutionResult, noColor bool) {
	colors := newPalette(w, noColor)
	summary := result.Summary

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	table.SetHeader([]string{"EVALUATION", "STATE", "POOLS", "PUBLISHED", "NOT PUBLISHED", "NO STATISTICS", "ELAPSED"})
	table.Append([]string{
		result.ID,
		colors.state(result.State),
		strconv.Itoa(summary.Total),
		strconv.Itoa(summary.Published),
		strconv.Itoa(summary.NotPublished),
		strconv.Itoa(summary.NotAvailable),
		summary.Elapsed.Round(time.Millisecond).String(),
	})
	table.Render()

	if result.Abandoned > 0 {
		fmt.Fprintln(w, colors.warning.Sprintf("%d tasks were abandoned at shutdown", result.Abandoned))
	}
	for _, path := range result.Outputs {
		fmt.Fprintf(w, "%s %s\n", colors.header.Sprint("wrote"), path)
	}
}
