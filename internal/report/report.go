// Package report serializes migration results.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/maxgio92/sigmigrate"
	"gopkg.in/yaml.v3"
)

// Format names accepted by New.
const (
	FormatVerbose = "verbose"
	FormatCompact = "compact"
	FormatJSON    = "json"
	FormatYAML    = "yaml"
)

// offsetPadding is the width of the hex offset column in verbose reports.
const offsetPadding = 10

// New returns the writer registered under format.
func New(format string) (sigmigrate.ResultWriter, error) {
	switch format {
	case FormatVerbose, "":
		return &VerboseWriter{}, nil
	case FormatCompact:
		return &CompactWriter{}, nil
	case FormatJSON:
		return &StructuredWriter{Format: FormatJSON}, nil
	case FormatYAML:
		return &StructuredWriter{Format: FormatYAML}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// VerboseWriter writes one block per result with the reference and matched
// bytes. When Diff is set, a colored byte diff against the signature is added.
type VerboseWriter struct {
	Diff bool
}

// Write implements sigmigrate.ResultWriter.
func (v *VerboseWriter) Write(w io.Writer, results []sigmigrate.MatchResult) error {
	var sb strings.Builder
	for _, r := range results {
		old := fmt.Sprintf("%X", r.OldOffset)
		fmt.Fprintf(&sb, "Offset: 0x%s%s\n", old, strings.Repeat(" ", max(0, offsetPadding-len(old))))

		if !r.Resolved() {
			sb.WriteString(" No match:\n")
			if r.Err != nil {
				fmt.Fprintf(&sb, "  * Error: %v\n", r.Err)
			}
			fmt.Fprintf(&sb, "  * Iteration Count: %d\n", r.IterationCount)
			if r.Name != "" {
				fmt.Fprintf(&sb, "  * Name: %s\n", r.Name)
			}
			sb.WriteString("\n")
			continue
		}

		sb.WriteString(" Closest match:\n")
		fmt.Fprintf(&sb, "  * OldHex: %s\n", hex.EncodeToString(r.ReferenceBytes))
		fmt.Fprintf(&sb, "  * Hex: %s\n", hex.EncodeToString(r.MatchedBytes))
		fmt.Fprintf(&sb, "  * Offset: %s\n", sigmigrate.FormatOffset(*r.NewOffset))
		fmt.Fprintf(&sb, "  * Iteration Count: %d\n", r.IterationCount)
		if r.Strategy != sigmigrate.StrategyExact {
			fmt.Fprintf(&sb, "  * Strategy: %s (distance %d)\n", r.Strategy, r.Distance)
		}
		if v.Diff {
			fmt.Fprintf(&sb, "  * Diff: %s\n", Diff(r.Signature, r.ReferenceBytes, r.MatchedBytes))
		}
		if r.Name != "" {
			fmt.Fprintf(&sb, "  * Name: %s\n", r.Name)
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// CompactWriter writes results as a table of assignments:
//
//	I = {}
//	I[1] = 0x1A2B -- Player.Update
//
// Unresolved entries are written as nil so indices stay aligned with the
// offset list.
type CompactWriter struct{}

// Write implements sigmigrate.ResultWriter.
func (CompactWriter) Write(w io.Writer, results []sigmigrate.MatchResult) error {
	var sb strings.Builder
	sb.WriteString("I = {}\n")
	for i, r := range results {
		value := "nil"
		if r.Resolved() {
			value = sigmigrate.FormatOffset(*r.NewOffset)
		}
		fmt.Fprintf(&sb, "I[%d] = %s", i+1, value)
		if r.Name != "" {
			fmt.Fprintf(&sb, " -- %s", r.Name)
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// SignatureWriter writes the wildcard pattern of every result that has one.
type SignatureWriter struct{}

// Write implements sigmigrate.ResultWriter.
func (SignatureWriter) Write(w io.Writer, results []sigmigrate.MatchResult) error {
	var sb strings.Builder
	for _, r := range results {
		if len(r.Signature) == 0 {
			continue
		}
		name := r.Name
		if name == "" {
			name = sigmigrate.FormatOffset(r.OldOffset)
		}
		fmt.Fprintf(&sb, "%s -- %s\n", r.Signature, name)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// entry is the machine readable form of a MatchResult.
type entry struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	OldOffset  string `json:"old_offset" yaml:"old_offset"`
	NewOffset  string `json:"new_offset,omitempty" yaml:"new_offset,omitempty"`
	Strategy   string `json:"strategy" yaml:"strategy"`
	Distance   uint32 `json:"distance" yaml:"distance"`
	Iterations uint32 `json:"iterations" yaml:"iterations"`
	Attempts   uint32 `json:"attempts" yaml:"attempts"`
	Signature  string `json:"signature,omitempty" yaml:"signature,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func toEntry(r sigmigrate.MatchResult) entry {
	e := entry{
		Name:       r.Name,
		OldOffset:  sigmigrate.FormatOffset(r.OldOffset),
		Strategy:   string(r.Strategy),
		Distance:   r.Distance,
		Iterations: r.IterationCount,
		Attempts:   r.Attempts,
	}
	if r.Resolved() {
		e.NewOffset = sigmigrate.FormatOffset(*r.NewOffset)
	}
	if len(r.Signature) > 0 {
		e.Signature = r.Signature.String()
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// StructuredWriter writes results as a JSON or YAML list.
type StructuredWriter struct {
	Format string
}

// Write implements sigmigrate.ResultWriter.
func (s *StructuredWriter) Write(w io.Writer, results []sigmigrate.MatchResult) error {
	entries := make([]entry, len(results))
	for i, r := range results {
		entries[i] = toEntry(r)
	}

	switch s.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}
