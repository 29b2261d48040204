package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/storage"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(timeLayout)
}

func formatActive(active bool) string {
	if active {
		return "✓"
	}
	return "✗"
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func renderTargets(w io.Writer, targets []storage.Target) {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No targets configured.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Identifier", "Active", "Last Checked", "Note"})
	for _, target := range targets {
		t.AppendRow(table.Row{
			target.ID,
			target.Identifier,
			formatActive(target.Active),
			formatOptionalTime(target.LastCheckedAt),
			truncate(target.Note, 40),
		})
	}
	t.Render()
}

func renderPatterns(w io.Writer, patterns []storage.Pattern) {
	if len(patterns) == 0 {
		fmt.Fprintln(w, "No patterns configured.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Pattern", "Flags", "Active"})
	for _, p := range patterns {
		t.AppendRow(table.Row{
			p.ID,
			p.Name,
			truncate(p.Source, 50),
			pattern.ParseFlags(p.Flags).String(),
			formatActive(p.Active),
		})
	}
	t.Render()
}

func renderScanLogs(w io.Writer, logs []storage.ScanLogEntry) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Scanned At", "Identifier", "Matches", "Run", "Note"})
	for _, entry := range logs {
		identifier := "-"
		if entry.Identifier != nil {
			identifier = *entry.Identifier
		} else if entry.TargetID != nil {
			identifier = "#" + strconv.FormatInt(*entry.TargetID, 10)
		}

		note := ""
		if entry.Note != nil {
			note = truncate(*entry.Note, 40)
		}

		t.AppendRow(table.Row{
			entry.ID,
			entry.ScannedAt.Local().Format(timeLayout),
			identifier,
			entry.MatchesCount,
			truncate(entry.RunID, 11),
			note,
		})
	}
	t.Render()
}

func renderMatches(w io.Writer, records []storage.MatchRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No matches recorded.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Found At", "Identifier", "Pattern", "Source", "Match", "Group", "Link"})
	for _, rec := range records {
		group := ""
		if rec.MatchedGroup != nil {
			group = truncate(*rec.MatchedGroup, 30)
		}
		link := ""
		if rec.SourceHref != nil {
			link = truncate(*rec.SourceHref, 40)
		}

		t.AppendRow(table.Row{
			rec.ID,
			rec.CreatedAt.Local().Format(timeLayout),
			rec.Identifier,
			rec.PatternName,
			rec.Source,
			truncate(rec.MatchedText, 50),
			group,
			link,
		})
	}
	t.Render()
}
