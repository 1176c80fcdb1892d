// Package formatting renders CLI output as tables, JSON or YAML.
package formatting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
	}
}

// Printer writes values in one output format.
type Printer struct {
	out       io.Writer
	format    OutputFormat
	noHeaders bool
}

// NewPrinter creates a Printer.
func NewPrinter(out io.Writer, format OutputFormat, noHeaders bool) *Printer {
	return &Printer{out: out, format: format, noHeaders: noHeaders}
}

// Format returns the output format.
func (p *Printer) Format() OutputFormat {
	return p.format
}

// print emits v as JSON or YAML, or calls render with a fresh table.
func (p *Printer) print(v any, render func(t table.Writer)) error {
	switch p.format {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.out, string(b))
		return err
	case FormatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = p.out.Write(b)
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	render(t)
	t.Render()
	return nil
}

func (p *Printer) header(t table.Writer, cols ...string) {
	if p.noHeaders {
		return
	}
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	t.AppendHeader(row)
}

// Message prints a line outside of any table. It is suppressed for JSON and
// YAML so machine-readable output stays parseable.
func (p *Printer) Message(format string, args ...any) {
	if p.format != FormatTable {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}
