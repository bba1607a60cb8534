// Package report renders flat and tree statistics as plain text.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/getsentry/proxyprof/internal/classprofile"
)

const (
	methodWidth = 40
	indent      = "  "
)

// WriteFlat writes one line per method with its number of calls and its
// average and total time in seconds.
func WriteFlat(w io.Writer, stats []classprofile.FlatStat) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%-*s %5s %8s %8s\n", methodWidth, "Method", "Calls", "Avg.", "Total")
	for _, s := range stats {
		fmt.Fprintf(bw, "%-*s %5d %8.3f %8.3f\n", methodWidth, s.Method, s.Calls, s.AvgTime.Seconds(), s.TotalTime.Seconds())
	}
	return bw.Flush()
}

// WriteTree writes one line per entry, indented by level, with its time in
// seconds, number of calls and share of the parent's time.
func WriteTree(w io.Writer, stats []classprofile.TreeStat) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%-*s %8s %5s %6s\n", methodWidth, "Method", "Time", "#", "%")
	for _, s := range stats {
		name := strings.Repeat(indent, s.Level) + s.Method
		fmt.Fprintf(bw, "%-*s %8.3f %5d %5.1f%%\n", methodWidth, name, s.Time.Seconds(), s.Calls, s.Percent)
	}
	return bw.Flush()
}

// WriteProfile writes both dumps for p, separated by a blank line.
func WriteProfile(w io.Writer, p *classprofile.ClassProfile, opts ...classprofile.TreeOption) error {
	if _, err := fmt.Fprintf(w, "%s\n\n", p.Name()); err != nil {
		return err
	}
	if err := WriteFlat(w, p.FlatStats()); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return WriteTree(w, p.TreeStats(opts...))
}
