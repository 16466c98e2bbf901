package sigmigrate

import (
	"fmt"
)

// Scanner finds every position where a signature matches a buffer. Wildcard
// positions accept any byte. Positions are returned in ascending order.
type Scanner interface {
	Name() string
	Scan(buf []byte, sig Signature) []uint64
}

// Scanner names accepted by NewScanner.
const (
	ScannerHorspool    = "horspool"
	ScannerKMP         = "kmp"
	ScannerAhoCorasick = "aho-corasick"
)

// NewScanner returns the scanner registered under name.
func NewScanner(name string) (Scanner, error) {
	switch name {
	case ScannerHorspool:
		return HorspoolScanner{}, nil
	case ScannerKMP, "":
		return KMPScanner{}, nil
	case ScannerAhoCorasick:
		return AhoCorasickScanner{}, nil
	default:
		return nil, fmt.Errorf("unknown scanner: %s", name)
	}
}

// ScanFrom runs s over buf[start:] and rebases the positions onto buf.
func ScanFrom(s Scanner, buf []byte, sig Signature, start uint64) []uint64 {
	if start >= uint64(len(buf)) {
		return nil
	}
	positions := s.Scan(buf[start:], sig)
	for i := range positions {
		positions[i] += start
	}
	return positions
}

// NonOverlapping keeps positions that do not overlap an earlier kept match
// of the given length, scanning left to right.
func NonOverlapping(positions []uint64, length int) []uint64 {
	if len(positions) == 0 {
		return nil
	}
	result := make([]uint64, 0, len(positions))
	var next uint64
	for i, p := range positions {
		if i > 0 && p < next {
			continue
		}
		result = append(result, p)
		next = p + uint64(length)
	}
	return result
}
