package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/wippyai/wasm-threads/coordinator"
)

func printWorkers(w io.Writer, statuses []coordinator.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tSTATE\tDETAIL")
	for _, s := range statuses {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", s.ID, s.State, statusDetail(s))
	}
	tw.Flush()
}

func statusDetail(s coordinator.Status) string {
	switch {
	case s.Panic != "":
		return s.Panic
	case s.Err != nil:
		return s.Err.Error()
	}
	return ""
}
