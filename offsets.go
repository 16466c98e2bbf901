package sigmigrate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoOffsets is returned when an offset list holds no records.
var ErrNoOffsets = errors.New("no offsets found")

// ParseError reports a malformed offset list line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errBlankLine = errors.New("blank line")
	errNoOffset  = errors.New("missing leading hex offset")
)

// ParseOffsets reads an offset list. Each line holds a primary offset,
// optionally two auxiliary offsets, and an optional name after "--":
//
//	0x1A2B3C -- Player.Update
//	0x1A2B3C 0x10 0x20 -- Player.Update
//
// Trailing blank lines are ignored. Any other blank line, or a line without
// a leading hex offset, aborts the parse.
func ParseOffsets(r io.Reader) ([]OffsetRecord, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read offsets: %w", err)
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	var records []OffsetRecord
	for i, text := range lines {
		rec, err := parseOffsetLine(strings.TrimSpace(text))
		if err != nil {
			return nil, &ParseError{Line: i + 1, Text: text, Err: err}
		}
		rec.Line = i + 1
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrNoOffsets
	}
	return records, nil
}

func parseOffsetLine(line string) (OffsetRecord, error) {
	var rec OffsetRecord
	if line == "" {
		return rec, errBlankLine
	}

	head, name, _ := strings.Cut(line, "--")
	rec.Name = strings.TrimSpace(name)

	fields := strings.Fields(head)
	if len(fields) == 0 {
		return rec, errNoOffset
	}

	off, err := parseHex(fields[0])
	if err != nil {
		return rec, err
	}
	rec.Offset = off

	switch len(fields) {
	case 1:
	case 3:
		var aux [2]uint64
		for i, f := range fields[1:] {
			if aux[i], err = parseHex(f); err != nil {
				return rec, err
			}
		}
		rec.Secondary = &aux
	default:
		return rec, fmt.Errorf("expected 1 or 3 offsets, got %d", len(fields))
	}

	return rec, nil
}

func parseHex(s string) (uint64, error) {
	digits, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: %q", errNoOffset, s)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}
