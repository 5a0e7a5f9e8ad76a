package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// tone picks the bracketed label and color of a report field.
type tone int

const (
	toneInfo tone = iota
	toneOK
	toneWarn
	toneError
)

var tones = [...]struct{ label, color string }{
	toneInfo:  {"INFO", "\x1b[34m"},
	toneOK:    {"OK", "\x1b[32m"},
	toneWarn:  {"WARN", "\x1b[33m"},
	toneError: {"ERROR", "\x1b[31m"},
}

const (
	colorReset = "\x1b[0m"
	labelWidth = 20
)

// report writes the human readable output of a command. Colors are only
// emitted when out is a terminal.
type report struct {
	out   io.Writer
	color bool
}

func newReport(out io.Writer) *report {
	r := &report{out: out}
	if file, ok := out.(*os.File); ok {
		fd := file.Fd()
		r.color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return r
}

func (r *report) paint(t tone, s string) string {
	if !r.color {
		return s
	}
	return tones[t].color + s + colorReset
}

// section prints a title underlined to its own width.
func (r *report) section(title string) {
	head := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(r.out, r.paint(toneInfo, head))
	fmt.Fprintln(r.out, r.paint(toneInfo, strings.Repeat("-", len(head))))
}

// field prints one aligned "label: [TONE] value" line.
func (r *report) field(label string, t tone, value string) {
	status := "[" + tones[t].label + "]"
	if value != "" {
		status += " " + value
	}
	fmt.Fprintln(r.out, r.paint(t, fmt.Sprintf("  %-*s %s", labelWidth, label+":", status)))
}

func (r *report) fieldf(label string, t tone, format string, args ...any) {
	r.field(label, t, fmt.Sprintf(format, args...))
}

// column is a table heading. Numeric columns are right aligned.
type column struct {
	title   string
	numeric bool
}

// table prints rows under cols. Short rows are padded.
func (r *report) table(cols []column, rows [][]string) {
	fmt.Fprintln(r.out, renderTable(cols, rows))
}

func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, col := range cols {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if col.numeric {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(cols))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw.Render()
}

// writeJSON encodes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
