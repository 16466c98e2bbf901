package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/maxgio92/sigmigrate"
)

var (
	colorResolved = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorFailed   = color.New(color.FgRed, color.Bold).SprintFunc()
	colorLabel    = color.New(color.FgHiBlack).SprintFunc()
	colorChanged  = color.New(color.FgYellow).SprintFunc()
	colorWildcard = color.New(color.FgRed).SprintFunc()
)

// Stats counts results by outcome.
type Stats struct {
	Resolved  int
	Failed    int
	Exact     int
	Ambiguous int
	Fuzzy     int
}

// Count tallies results.
func Count(results []sigmigrate.MatchResult) Stats {
	var s Stats
	for _, r := range results {
		if !r.Resolved() {
			s.Failed++
			continue
		}
		s.Resolved++
		switch r.Strategy {
		case sigmigrate.StrategyExact:
			s.Exact++
		case sigmigrate.StrategyAmbiguous:
			s.Ambiguous++
		case sigmigrate.StrategyFuzzy:
			s.Fuzzy++
		}
	}
	return s
}

// Summary prints resolved and failed counts followed by every failed record.
func Summary(w io.Writer, results []sigmigrate.MatchResult) {
	s := Count(results)
	fmt.Fprintf(w, "%s %d (%s %d, %s %d, %s %d)\n",
		colorResolved("Resolved:"), s.Resolved,
		colorLabel("exact"), s.Exact,
		colorLabel("ambiguous"), s.Ambiguous,
		colorLabel("fuzzy"), s.Fuzzy,
	)
	fmt.Fprintf(w, "%s %d\n", colorFailed("Failed:"), s.Failed)

	for _, r := range results {
		if r.Resolved() {
			continue
		}
		name := r.Name
		if name == "" {
			name = "-"
		}
		line := fmt.Sprintf("  %s %s", sigmigrate.FormatOffset(r.OldOffset), name)
		if r.Err != nil {
			line += colorLabel(": " + r.Err.Error())
		}
		fmt.Fprintln(w, line)
	}
}

// Diff renders the matched bytes against the reference. Bytes that differ
// from the reference are highlighted, and bytes under a signature wildcard
// are shown as a marked "??".
func Diff(sig sigmigrate.Signature, ref, matched []byte) string {
	parts := make([]string, 0, len(matched))
	for i, b := range matched {
		switch {
		case i < len(sig) && sig[i].Wildcard && (i >= len(ref) || ref[i] != b):
			parts = append(parts, colorWildcard("??"))
		case i >= len(ref) || ref[i] != b:
			parts = append(parts, colorChanged(fmt.Sprintf("%02X", b)))
		default:
			parts = append(parts, fmt.Sprintf("%02X", b))
		}
	}
	return strings.Join(parts, " ")
}
