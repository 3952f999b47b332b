package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

// print writes v as indented JSON, or calls table to render it for a terminal.
func (g *Globals) print(v any, table func(w *tabwriter.Writer)) error {
	if g.JSON || table == nil {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func row(w *tabwriter.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	_, _ = fmt.Fprintln(w, strings.Join(parts, "\t"))
}

func (g *Globals) ok(msg string) error {
	return g.print(map[string]any{"ok": true, "message": msg}, func(w *tabwriter.Writer) { row(w, msg) })
}
