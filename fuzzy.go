package sigmigrate

import (
	"bytes"
)

// FuzzyMatcher ranks buffer windows by their distance to a reference slice
// when no exact signature match exists.
type FuzzyMatcher struct {
	// FirstN, when positive, skips windows whose first FirstN bytes differ
	// from the reference.
	FirstN int
}

// FuzzyResult is the outcome of FindClosest.
type FuzzyResult struct {
	Candidate  MatchCandidate
	Iterations uint32
	Found      bool
}

// FindClosest slides a window of len(ref) over buf and returns the window
// with the smallest Distance. If anchor is non-nil, windows whose first byte
// differs from *anchor are skipped without scoring. Ties keep the earliest
// position. The result is not Found when ref is empty, buf is shorter than
// ref, or every window was filtered out.
func (f FuzzyMatcher) FindClosest(buf, ref []byte, anchor *byte) FuzzyResult {
	var res FuzzyResult
	m := len(ref)
	if m == 0 || len(buf) == 0 || m > len(buf) {
		return res
	}

	firstN := f.FirstN
	if firstN > m {
		firstN = m
	}

	best := ^uint32(0)
	for i := 0; i+m <= len(buf); i++ {
		if anchor != nil && buf[i] != *anchor {
			continue
		}
		if firstN > 0 && !bytes.Equal(buf[i:i+firstN], ref[:firstN]) {
			continue
		}

		res.Iterations++
		d := distanceBounded(ref, buf[i:i+m], best)
		if d < best {
			best = d
			res.Candidate = MatchCandidate{Position: uint64(i), Distance: d}
			res.Found = true
			if d == 0 {
				break
			}
		}
	}

	return res
}

// Distance returns the character-class aware distance between two equal
// length slices. Equal bytes contribute nothing; every unequal byte
// contributes 1 plus the penalty of its two hex nibbles (see nibblePenalty).
// Extra bytes in the longer slice count as fully different.
func Distance(a, b []byte) uint32 {
	return distanceBounded(a, b, ^uint32(0))
}

// distanceBounded stops accumulating once the running total reaches bound.
func distanceBounded(a, b []byte, bound uint32) uint32 {
	n := min(len(a), len(b))
	var d uint32
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		d += byteDistance(a[i], b[i])
		if d >= bound {
			return d
		}
	}
	// Missing bytes are treated as the worst case for a single byte.
	d += uint32(max(len(a), len(b))-n) * maxByteDistance
	return d
}

// maxByteDistance is the largest value byteDistance can return.
const maxByteDistance = 1 + 2 + 2

func byteDistance(x, y byte) uint32 {
	if x == y {
		return 0
	}
	return 1 + nibblePenalty(hexDigit(x>>4), hexDigit(y>>4)) + nibblePenalty(hexDigit(x&0xf), hexDigit(y&0xf))
}

// nibblePenalty compares two hex characters. Letters (a-f) compare case
// insensitively with a penalty of 1 on inequality, a letter against a digit
// costs 2, and two digits cost 1 when they differ.
func nibblePenalty(c1, c2 byte) uint32 {
	alpha1, alpha2 := isHexAlpha(c1), isHexAlpha(c2)
	switch {
	case alpha1 && alpha2:
		if lower(c1) != lower(c2) {
			return 1
		}
	case alpha1 != alpha2:
		return 2
	default:
		if c1 != c2 {
			return 1
		}
	}
	return 0
}

const hexDigits = "0123456789abcdef"

func hexDigit(n byte) byte { return hexDigits[n&0xf] }

func isHexAlpha(c byte) bool {
	return c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
