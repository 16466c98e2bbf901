package sigmigrate

// KMPScanner is a Knuth-Morris-Pratt scanner. It returns every match start,
// overlapping matches included.
//
// A single KMP automaton cannot track wildcard positions exactly: after a
// fallback the text under a pattern wildcard is unknown. The automaton
// therefore runs over the signature's longest stable run and each hit is
// verified against the whole signature, which keeps the scan linear for the
// common case and never misses a wildcard match.
type KMPScanner struct{}

// Name implements Scanner.
func (KMPScanner) Name() string { return ScannerKMP }

// Scan implements Scanner.
func (KMPScanner) Scan(buf []byte, sig Signature) []uint64 {
	m := len(sig)
	n := len(buf)
	if m == 0 || m > n {
		return nil
	}

	start, length := sig.stableRun()
	if length == 0 {
		result := make([]uint64, 0, n-m+1)
		for i := 0; i <= n-m; i++ {
			result = append(result, uint64(i))
		}
		return result
	}

	anchor := sig[start : start+length]
	verify := length != m

	var result []uint64
	for _, hit := range kmpSearch(buf, anchor) {
		pos := hit - start
		if pos < 0 || pos+m > n {
			continue
		}
		if verify && !sig.MatchAt(buf, pos) {
			continue
		}
		result = append(result, uint64(pos))
	}
	return result
}

// PrefixTable computes the KMP prefix function of sig. A wildcard at either
// compared position counts as a match and never triggers a fallback at that
// index.
func PrefixTable(sig Signature) []int {
	table := make([]int, len(sig))
	j := 0
	for i := 1; i < len(sig); i++ {
		for j > 0 && !wildcardEqual(sig[i], sig[j]) {
			j = table[j-1]
		}
		if wildcardEqual(sig[i], sig[j]) {
			j++
		}
		table[i] = j
	}
	return table
}

func wildcardEqual(a, b SignatureByte) bool {
	return a.Wildcard || b.Wildcard || a.Value == b.Value
}

// kmpSearch returns every start index of pattern in text.
func kmpSearch(text []byte, pattern Signature) []int {
	table := PrefixTable(pattern)

	var result []int
	j := 0
	for i := 0; i < len(text); i++ {
		for j > 0 && !pattern[j].Matches(text[i]) {
			j = table[j-1]
		}
		if pattern[j].Matches(text[i]) {
			j++
		}
		if j == len(pattern) {
			result = append(result, i-j+1)
			j = table[j-1]
		}
	}
	return result
}
