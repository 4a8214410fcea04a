package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Statusf prints a progress line to stderr. --quiet silences it; results
// written to stdout are never affected.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if cc.Flags.Quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// formatSize renders n bytes in binary units with one decimal, e.g. "1.5 KB".
func formatSize(n int64) string {
	const step = 1024

	if n < step {
		return fmt.Sprintf("%d B", n)
	}

	v := float64(n) / step
	unit := 0

	for v >= step && unit < len(sizeUnits)-1 {
		v /= step
		unit++
	}

	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

// formatTime shows the time of day for this year's timestamps and the year
// for older ones, in the style of ls -l.
func formatTime(t time.Time) string {
	layout := "Jan _2  2006"
	if t.Year() == time.Now().Year() {
		layout = "Jan _2 15:04"
	}

	return t.Format(layout)
}

// printTable writes headers and rows as columns separated by two spaces.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	_ = tw.Flush()
}
