package sigmigrate

// acEdge is a labelled trie edge pointing at a node index.
type acEdge struct {
	label byte
	to    int32
}

// acNode is a trie node. Children and the failure link are indices into the
// automaton's node arena; node 0 is the root.
type acNode struct {
	edges  []acEdge
	fail   int32
	output []int
}

func (n *acNode) child(c byte) int32 {
	for _, e := range n.edges {
		if e.label == c {
			return e.to
		}
	}
	return -1
}

// AhoCorasick matches many signatures against a buffer in one pass.
//
// Every signature contributes its longest stable run to the trie; hits are
// verified against the full signature, so wildcards are honoured exactly.
type AhoCorasick struct {
	nodes   []acNode
	sigs    []Signature
	anchors []int // start of the stable run inside each signature
	lengths []int // length of the stable run
}

// NewAhoCorasick builds the automaton for sigs. Signatures without any
// stable byte never match.
func NewAhoCorasick(sigs []Signature) *AhoCorasick {
	ac := &AhoCorasick{
		nodes:   make([]acNode, 1, 64),
		sigs:    sigs,
		anchors: make([]int, len(sigs)),
		lengths: make([]int, len(sigs)),
	}

	for idx, sig := range sigs {
		start, length := sig.stableRun()
		ac.anchors[idx] = start
		ac.lengths[idx] = length
		if length == 0 {
			continue
		}

		cur := int32(0)
		for _, b := range sig[start : start+length] {
			nxt := ac.nodes[cur].child(b.Value)
			if nxt < 0 {
				ac.nodes = append(ac.nodes, acNode{})
				nxt = int32(len(ac.nodes) - 1)
				ac.nodes[cur].edges = append(ac.nodes[cur].edges, acEdge{label: b.Value, to: nxt})
			}
			cur = nxt
		}
		ac.nodes[cur].output = append(ac.nodes[cur].output, idx)
	}

	ac.buildFailureLinks()
	return ac
}

// buildFailureLinks runs a breadth-first pass that points each node at the
// longest proper suffix that is also a trie prefix and copies outputs down
// the failure links.
func (ac *AhoCorasick) buildFailureLinks() {
	queue := make([]int32, 0, len(ac.nodes))
	for _, e := range ac.nodes[0].edges {
		ac.nodes[e.to].fail = 0
		queue = append(queue, e.to)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range ac.nodes[cur].edges {
			queue = append(queue, e.to)

			link := ac.nodes[cur].fail
			for link != 0 && ac.nodes[link].child(e.label) < 0 {
				link = ac.nodes[link].fail
			}
			fail := ac.nodes[link].child(e.label)
			if fail < 0 || fail == e.to {
				fail = 0
			}
			ac.nodes[e.to].fail = fail

			if out := ac.nodes[fail].output; len(out) > 0 {
				merged := make([]int, 0, len(ac.nodes[e.to].output)+len(out))
				merged = append(merged, ac.nodes[e.to].output...)
				ac.nodes[e.to].output = append(merged, out...)
			}
		}
	}
}

// step follows goto and failure links from state on input c.
func (ac *AhoCorasick) step(state int32, c byte) int32 {
	for {
		if nxt := ac.nodes[state].child(c); nxt >= 0 {
			return nxt
		}
		if state == 0 {
			return 0
		}
		state = ac.nodes[state].fail
	}
}

// Len returns the number of signatures in the automaton.
func (ac *AhoCorasick) Len() int { return len(ac.sigs) }

// ScanAll scans buf once and returns, for every signature, the ascending
// (possibly overlapping) positions where it matches.
func (ac *AhoCorasick) ScanAll(buf []byte) [][]uint64 {
	result := make([][]uint64, len(ac.sigs))

	state := int32(0)
	for i, c := range buf {
		state = ac.step(state, c)
		for _, idx := range ac.nodes[state].output {
			sig := ac.sigs[idx]
			pos := i - ac.lengths[idx] + 1 - ac.anchors[idx]
			if pos < 0 || pos+len(sig) > len(buf) {
				continue
			}
			if ac.lengths[idx] != len(sig) && !sig.MatchAt(buf, pos) {
				continue
			}
			result[idx] = append(result[idx], uint64(pos))
		}
	}

	return result
}

// AhoCorasickScanner adapts AhoCorasick to the single-pattern Scanner
// interface. Batch callers should build one automaton with NewAhoCorasick.
type AhoCorasickScanner struct{}

// Name implements Scanner.
func (AhoCorasickScanner) Name() string { return ScannerAhoCorasick }

// Scan implements Scanner.
func (AhoCorasickScanner) Scan(buf []byte, sig Signature) []uint64 {
	if len(sig) == 0 || len(sig) > len(buf) {
		return nil
	}
	if _, length := sig.stableRun(); length == 0 {
		return KMPScanner{}.Scan(buf, sig)
	}
	return NewAhoCorasick([]Signature{sig}).ScanAll(buf)[0]
}
