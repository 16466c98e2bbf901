package sigmigrate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors reported while building signatures or resolving a single offset.
// They are recoverable: the migrator records them on the MatchResult and
// moves on to the next record.
var (
	ErrOutOfRange  = errors.New("offset out of range")
	ErrEmptyWindow = errors.New("window shorter than one instruction")
	ErrAllWildcard = errors.New("signature is entirely wildcards")
	ErrDecoder     = errors.New("instruction decoder failed")
	ErrResolver    = errors.New("method type resolver failed")
	ErrExhausted   = errors.New("retries exhausted")
)

// SignatureByte is a single signature position. Value is ignored when
// Wildcard is set.
type SignatureByte struct {
	Value    byte `json:"value"`
	Wildcard bool `json:"wildcard"`
}

// Matches reports whether b is accepted at this position.
func (s SignatureByte) Matches(b byte) bool {
	return s.Wildcard || s.Value == b
}

// Signature is a wildcard-tolerant byte pattern.
type Signature []SignatureByte

// NewSignature validates bytes and returns them as a Signature. A signature
// must contain at least one byte and at least one non-wildcard byte.
func NewSignature(bytes []SignatureByte) (Signature, error) {
	if len(bytes) == 0 {
		return nil, ErrEmptyWindow
	}
	for _, b := range bytes {
		if !b.Wildcard {
			return Signature(bytes), nil
		}
	}
	return nil, ErrAllWildcard
}

// SignatureFromBytes returns a signature with every byte stable.
func SignatureFromBytes(b []byte) (Signature, error) {
	sig := make([]SignatureByte, len(b))
	for i, v := range b {
		sig[i] = SignatureByte{Value: v}
	}
	return NewSignature(sig)
}

// ParseSignature parses the textual form produced by Signature.String, e.g.
// "F5 53 ?? ?? A9". A single "?" is accepted as a wildcard too.
func ParseSignature(s string) (Signature, error) {
	fields := strings.Fields(s)
	sig := make([]SignatureByte, 0, len(fields))
	for _, f := range fields {
		if f == "?" || f == "??" {
			sig = append(sig, SignatureByte{Wildcard: true})
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid signature byte %q: %w", f, err)
		}
		sig = append(sig, SignatureByte{Value: byte(v)})
	}
	return NewSignature(sig)
}

// String renders the signature as space separated upper-case hex bytes with
// "??" for wildcards.
func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if b.Wildcard {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b.Value)
	}
	return sb.String()
}

// Wildcards returns the number of wildcard positions.
func (s Signature) Wildcards() int {
	n := 0
	for _, b := range s {
		if b.Wildcard {
			n++
		}
	}
	return n
}

// MatchAt reports whether the signature matches buf at pos.
func (s Signature) MatchAt(buf []byte, pos int) bool {
	if pos < 0 || pos+len(s) > len(buf) {
		return false
	}
	for i, b := range s {
		if !b.Matches(buf[pos+i]) {
			return false
		}
	}
	return true
}

// Mask applies the signature to b, returning a copy where wildcard positions
// are zeroed. It is used to compare reference bytes after wildcarding.
func (s Signature) Mask(b []byte) []byte {
	out := make([]byte, len(s))
	for i, sb := range s {
		if !sb.Wildcard && i < len(b) {
			out[i] = b[i]
		}
	}
	return out
}

// stableRun returns the start and length of the longest run of non-wildcard
// bytes. Ties keep the leftmost run.
func (s Signature) stableRun() (start, length int) {
	cur := 0
	for i, b := range s {
		if b.Wildcard {
			cur = 0
			continue
		}
		cur++
		if cur > length {
			length = cur
			start = i - cur + 1
		}
	}
	return start, length
}

// OffsetRecord is one unit of work: an offset valid in the old artifact and
// an optional name.
type OffsetRecord struct {
	Offset    uint64     `json:"offset"`
	Name      string     `json:"name,omitempty"`
	Secondary *[2]uint64 `json:"secondary,omitempty"`
	Line      int        `json:"line"`
}

// MatchCandidate is a location in the new artifact and its fuzzy distance
// from the reference slice. A zero distance is an exact match.
type MatchCandidate struct {
	Position uint64 `json:"position"`
	Distance uint32 `json:"distance"`
}

// Strategy names how a MatchResult was found.
type Strategy string

// Recognized match strategies.
const (
	StrategyExact     Strategy = "exact"
	StrategyAmbiguous Strategy = "ambiguous"
	StrategyFuzzy     Strategy = "fuzzy"
	StrategyNone      Strategy = "none"
)

// MatchResult is produced once per OffsetRecord.
type MatchResult struct {
	OldOffset      uint64    `json:"old_offset"`
	NewOffset      *uint64   `json:"new_offset,omitempty"`
	Name           string    `json:"name,omitempty"`
	IterationCount uint32    `json:"iteration_count"`
	Attempts       uint32    `json:"attempts"`
	Signature      Signature `json:"-"`
	MatchedBytes   []byte    `json:"matched_bytes,omitempty"`
	ReferenceBytes []byte    `json:"reference_bytes,omitempty"`
	Distance       uint32    `json:"distance"`
	Strategy       Strategy  `json:"strategy"`
	Err            error     `json:"-"`
}

// Resolved reports whether a new offset was found.
func (r MatchResult) Resolved() bool {
	return r.NewOffset != nil
}

// RetryState is the per-offset retry counter. It is owned exclusively by the
// goroutine resolving that offset.
type RetryState struct {
	Attempts     uint32
	SearchCursor uint64
}
