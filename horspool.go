package sigmigrate

// HorspoolScanner is a Boyer-Moore-Horspool style scanner driven by a
// bad-character skip table. Matches are non-overlapping: after a match the
// window advances by the signature length. Callers that need overlapping
// matches re-scan from position+1 with ScanFrom.
type HorspoolScanner struct{}

// Name implements Scanner.
func (HorspoolScanner) Name() string { return ScannerHorspool }

// Scan implements Scanner.
func (HorspoolScanner) Scan(buf []byte, sig Signature) []uint64 {
	m := len(sig)
	n := len(buf)
	if m == 0 || m > n {
		return nil
	}

	last := lastOccurrence(sig)

	var result []uint64
	i := 0
	for i <= n-m {
		j := m - 1
		for j >= 0 && sig[j].Matches(buf[i+j]) {
			j--
		}
		if j < 0 {
			result = append(result, uint64(i))
			i += m
			continue
		}
		shift := j - last[buf[i+j]]
		if shift < 1 {
			shift = 1
		}
		i += shift
	}

	return result
}

// lastOccurrence builds the 256-entry skip table. Wildcards never register
// an occurrence of their own, but the rightmost wildcard is a floor for
// every entry: it can sit under any buffer byte, so no shift may move past it.
func lastOccurrence(sig Signature) [256]int {
	floor := -1
	for i, b := range sig {
		if b.Wildcard {
			floor = i
		}
	}

	var last [256]int
	for c := range last {
		last[c] = floor
	}
	for i, b := range sig {
		if !b.Wildcard && i > last[b.Value] {
			last[b.Value] = i
		}
	}
	return last
}
