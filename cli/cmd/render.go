package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/convergekit/converge/apply"
	"github.com/convergekit/converge/categorize"
	"github.com/convergekit/converge/purge"
	"github.com/convergekit/converge/resource"
	"github.com/convergekit/converge/warnings"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	return t
}

func renderApplyResult(out io.Writer, result apply.Result, failedBeforeRun []resource.Kind) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Kind", "Created", "Changed", "Deleted", "Unchanged", "Total", "Status"})
	for _, kind := range result.Kinds {
		t.AppendRow(table.Row{
			kind.Name, kind.Created, kind.Changed, kind.Deleted, kind.Unchanged, kind.Total,
			applyStatus(kind),
		})
	}
	for _, kind := range failedBeforeRun {
		t.AppendRow(table.Row{kind, 0, 0, 0, 0, 0, "failed (diff)"})
	}
	t.Render()
}

func applyStatus(kind apply.KindResult) string {
	switch {
	case kind.Skipped:
		return "skipped"
	case kind.Err != nil:
		return fmt.Sprintf("failed: %v", kind.Err)
	default:
		return "ok"
	}
}

func renderDiffResult(
	out io.Writer,
	order []resource.Kind,
	categorized map[resource.Kind]categorize.Categorization,
	verbose bool,
) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Kind", "Create", "Update", "Delete", "Unchanged", "Duplicates"})
	for _, kind := range order {
		categorization, found := categorized[kind]
		if !found {
			continue
		}
		t.AppendRow(table.Row{
			kind,
			len(categorization.ToCreate),
			len(categorization.ToUpdate),
			len(categorization.ToDelete),
			len(categorization.Unchanged),
			len(categorization.Duplicates),
		})
	}
	t.Render()

	if !verbose {
		return
	}
	for _, kind := range order {
		categorization := categorized[kind]
		if len(categorization.Diffs) == 0 {
			continue
		}
		details := newTable(out)
		details.SetTitle(string(kind))
		details.AppendHeader(table.Row{"Identifier", "Field", "Op", "Local", "Remote"})
		for _, entry := range categorization.Diffs {
			details.AppendRow(table.Row{entry.Identifier, entry.Path, entry.Operation, entry.Local, entry.Remote})
		}
		details.Render()
	}
}

func renderPurgeResult(out io.Writer, result purge.Result) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Kind", "Deleted", "Total", "Status"})
	for _, kind := range result.Kinds {
		t.AppendRow(table.Row{kind.Name, kind.Deleted, kind.Total, purgeStatus(kind)})
	}
	t.Render()
	fmt.Fprintf(out, "fully purged: %v\n", result.FullyPurged)
}

func purgeStatus(kind purge.KindResult) string {
	switch {
	case kind.Skipped:
		return "skipped"
	case kind.Err != nil:
		return fmt.Sprintf("failed: %v", kind.Err)
	default:
		return "ok"
	}
}

func renderWarnings(out io.Writer, items []warnings.Warning) {
	if len(items) == 0 {
		return
	}
	t := newTable(out)
	t.AppendHeader(table.Row{"Severity", "Kind", "Identifier", "Message"})
	for _, warning := range items {
		message := warning.Message
		if warning.Err != nil {
			message = fmt.Sprintf("%s: %v", warning.Message, warning.Err)
		}
		t.AppendRow(table.Row{warning.Severity, warning.Kind, warning.Identifier, message})
	}
	t.Render()
}
