package output

import (
	"fmt"
	"io"
	"strings"
)

type SummaryEntry struct {
	Name   string
	Detail string
	Err    error
}

// ShowSummary prints one status line per entry, the success/failure counts and
// the collected errors.
func ShowSummary(w io.Writer, entries []SummaryEntry) {
	fmt.Fprintln(w)
	var success, failures int
	for _, e := range entries {
		if e.Err != nil {
			failures++
			fmt.Fprintf(w, "%s%s %s\n", strings.Repeat(" ", 2), errorStyle.Render(StyleSymbols["fail"]), errorStyle.Render(e.Name))
			continue
		}
		success++
		fmt.Fprintf(w, "%s%s %s %s\n", strings.Repeat(" ", 2), successStyle.Render(StyleSymbols["pass"]), successStyle.Render(e.Name), debugStyle.Render(e.Detail))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(entries))))
	if failures > 0 {
		fmt.Fprintln(w, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(entries))))
		displayErrors(w, entries)
	}
	fmt.Fprintln(w)
}

func displayErrors(w io.Writer, entries []SummaryEntry) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	i := 0
	for _, e := range entries {
		if e.Err == nil {
			continue
		}
		i++
		fmt.Fprintf(w, "%s%s %s\n", strings.Repeat(" ", 2+2), errorStyle.Render(fmt.Sprintf("%d.", i)), errorStyle.Render(e.Name))
		fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", e.Err)))
	}
}
