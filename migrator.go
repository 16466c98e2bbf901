package sigmigrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Migrator resolves old offsets to new ones. Both artifacts are shared
// read-only between workers; every record gets its own RetryState.
type Migrator struct {
	old      []byte
	new      []byte
	cfg      Config
	decoder  InstructionDecoder
	scanner  Scanner
	fuzzy    FuzzyMatcher
	resolver MethodTypeResolver
	log      log.Interface
	progress func(MatchResult)
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithDecoder overrides the decoder selected by Config.Arch.
func WithDecoder(d InstructionDecoder) Option {
	return func(m *Migrator) { m.decoder = d }
}

// WithScanner overrides the scanner selected by Config.Scanner.
func WithScanner(s Scanner) Option {
	return func(m *Migrator) { m.scanner = s }
}

// WithResolver enables type validation of candidates.
func WithResolver(r MethodTypeResolver) Option {
	return func(m *Migrator) { m.resolver = r }
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(l log.Interface) Option {
	return func(m *Migrator) { m.log = l }
}

// WithProgress registers a callback invoked once per finished record. Run
// calls it from worker goroutines, so it must be safe for concurrent use.
func WithProgress(fn func(MatchResult)) Option {
	return func(m *Migrator) { m.progress = fn }
}

// NewMigrator returns a Migrator over the old and new artifacts.
func NewMigrator(old, new []byte, cfg Config, opts ...Option) (*Migrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Migrator{
		old: old,
		new: new,
		cfg: cfg,
		log: log.Log,
	}
	if cfg.FirstNBytesMustMatch {
		m.fuzzy.FirstN = cfg.FirstN
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.decoder == nil {
		d, err := NewDecoder(cfg.Arch)
		if err != nil {
			return nil, err
		}
		m.decoder = d
	}
	if m.scanner == nil {
		s, err := NewScanner(cfg.Scanner)
		if err != nil {
			return nil, err
		}
		m.scanner = s
	}

	return m, nil
}

// prepared holds work done ahead of the retry loop, e.g. by a batch pass.
type prepared struct {
	sig  Signature
	err  error
	hits []uint64
	ok   bool
}

// Run resolves every record on a bounded worker pool and returns the results
// in input order. Per-record failures are reported on the results and never
// abort the run.
func (m *Migrator) Run(ctx context.Context, records []OffsetRecord) []MatchResult {
	results := make([]MatchResult, len(records))

	var pre []prepared
	if m.cfg.Batch {
		pre = m.prepareBatch(records)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.workers())
	for i, rec := range records {
		i, rec := i, rec
		var p *prepared
		if pre != nil {
			p = &pre[i]
		}
		g.Go(func() error {
			results[i] = m.resolve(gctx, rec, p)
			if m.progress != nil {
				m.progress(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// prepareBatch builds every signature up front and resolves all first
// attempts with a single Aho-Corasick pass over the new artifact.
func (m *Migrator) prepareBatch(records []OffsetRecord) []prepared {
	start := time.Now()
	pre := make([]prepared, len(records))

	var sigs []Signature
	var owners []int
	for i, rec := range records {
		sig, err := BuildSignature(m.old, rec.Offset, m.cfg.WindowLength, m.decoder)
		pre[i] = prepared{sig: sig, err: err}
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
		owners = append(owners, i)
	}

	if len(sigs) > 0 {
		for k, hits := range NewAhoCorasick(sigs).ScanAll(m.new) {
			pre[owners[k]].hits = hits
			pre[owners[k]].ok = true
		}
	}

	m.log.WithFields(log.Fields{
		"signatures": len(sigs),
		"records":    len(records),
	}).WithDuration(time.Since(start)).Debug("batch scan complete")

	return pre
}

// Resolve runs the search state machine for a single record.
func (m *Migrator) Resolve(ctx context.Context, rec OffsetRecord) MatchResult {
	return m.resolve(ctx, rec, nil)
}

func (m *Migrator) resolve(ctx context.Context, rec OffsetRecord, pre *prepared) MatchResult {
	start := time.Now()
	res := MatchResult{
		OldOffset: rec.Offset,
		Name:      rec.Name,
		Strategy:  StrategyNone,
	}
	ctxLog := m.log.WithFields(log.Fields{
		"offset": FormatOffset(rec.Offset),
		"name":   rec.Name,
	})

	if rec.Offset >= uint64(len(m.old)) {
		res.Err = fmt.Errorf("0x%x (artifact is 0x%x bytes): %w", rec.Offset, len(m.old), ErrOutOfRange)
		ctxLog.WithError(res.Err).Warn("skipping offset")
		return res
	}

	var sig Signature
	var err error
	if pre != nil {
		sig, err = pre.sig, pre.err
	} else {
		sig, err = BuildSignature(m.old, rec.Offset, m.cfg.WindowLength, m.decoder)
	}
	if err != nil {
		res.Err = err
		ctxLog.WithError(err).Warn("failed to build signature")
		return res
	}
	res.Signature = sig

	refEnd := min(rec.Offset+uint64(m.cfg.ReferenceHexLength), uint64(len(m.old)))
	ref := m.old[rec.Offset:refEnd]
	res.ReferenceBytes = ref

	var anchor *byte
	if m.cfg.FirstCharacterMustMatch {
		anchor = &m.old[rec.Offset]
	}

	if m.cfg.OffsetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.OffsetTimeout)
		defer cancel()
	}

	var state RetryState
	for {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, state.Attempts, err)
			break
		}

		var hits []uint64
		usePre := pre != nil && pre.ok && state.Attempts == 0
		if usePre {
			hits = pre.hits
		}

		cand, strategy, iterations, found := m.search(sig, ref, anchor, state.SearchCursor, hits, usePre)
		res.IterationCount += iterations
		res.Attempts++

		if found {
			valid, err := m.validate(rec.Offset, cand.Position)
			if err != nil {
				res.Err = err
				ctxLog.WithError(err).Warn("type validation failed")
				break
			}
			if valid {
				pos := cand.Position
				res.NewOffset = &pos
				res.Distance = cand.Distance
				res.Strategy = strategy
				matchEnd := min(pos+uint64(len(ref)), uint64(len(m.new)))
				res.MatchedBytes = m.new[pos:matchEnd]
				break
			}
			ctxLog.WithFields(log.Fields{
				"attempt":   state.Attempts + 1,
				"candidate": FormatOffset(cand.Position),
			}).Debug("candidate rejected by type check")
			state.SearchCursor = cand.Position + 1
		}

		state.Attempts++
		if state.Attempts >= uint32(m.cfg.MaxIterations) {
			res.Err = fmt.Errorf("%w after %d attempt(s)", ErrExhausted, state.Attempts)
			break
		}
		ctxLog.WithFields(log.Fields{
			"attempt": state.Attempts,
			"cursor":  FormatOffset(state.SearchCursor),
		}).Debug("retrying")
	}

	entry := ctxLog.WithFields(log.Fields{
		"iterations": res.IterationCount,
		"strategy":   res.Strategy,
	}).WithDuration(time.Since(start))
	if res.NewOffset != nil {
		entry.WithField("new_offset", FormatOffset(*res.NewOffset)).Debug("resolved")
	} else if errors.Is(res.Err, ErrExhausted) {
		entry.Debug("no match")
	}

	return res
}

// search performs one Searching pass from cursor. When prescanned is set,
// hits holds exact positions computed over the whole new artifact.
func (m *Migrator) search(sig Signature, ref []byte, anchor *byte, cursor uint64, hits []uint64, prescanned bool) (MatchCandidate, Strategy, uint32, bool) {
	if cursor >= uint64(len(m.new)) || uint64(len(sig)) > uint64(len(m.new))-cursor {
		return MatchCandidate{}, StrategyNone, 0, false
	}

	var iterations uint32
	if !prescanned {
		hits = ScanFrom(m.scanner, m.new, sig, cursor)
	}
	iterations++

	for len(hits) > 0 && hits[0] < cursor {
		hits = hits[1:]
	}
	// Ambiguity is decided on non-overlapping hits.
	if hits = NonOverlapping(hits, len(sig)); len(hits) > 0 {
		strategy := StrategyExact
		if len(hits) > 1 {
			strategy = StrategyAmbiguous
		}
		return MatchCandidate{Position: hits[0]}, strategy, iterations, true
	}

	fz := m.fuzzy.FindClosest(m.new[cursor:], ref, anchor)
	iterations += fz.Iterations
	if !fz.Found {
		return MatchCandidate{}, StrategyNone, iterations, false
	}
	if m.cfg.MaxDistance > 0 && fz.Candidate.Distance > m.cfg.MaxDistance {
		return MatchCandidate{}, StrategyNone, iterations, false
	}

	cand := fz.Candidate
	cand.Position += cursor
	return cand, StrategyFuzzy, iterations, true
}

// validate compares the method metadata of the old offset and a candidate.
// A candidate is rejected when it is missing from the new dump or when both
// sides resolve and their method kind or return type differ.
func (m *Migrator) validate(oldOffset, candidate uint64) (bool, error) {
	if m.resolver == nil {
		return true, nil
	}

	oldHex, newHex := FormatOffset(oldOffset), FormatOffset(candidate)

	oldType, err := m.resolver.Lookup(m.cfg.OldDumpPath, oldHex)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w: %w", oldHex, ErrResolver, err)
	}

	present, err := m.resolver.Validate(newHex, m.cfg.NewDumpPath)
	if err != nil {
		return false, fmt.Errorf("validate %s: %w: %w", newHex, ErrResolver, err)
	}
	if !present {
		return false, nil
	}

	newType, err := m.resolver.Lookup(m.cfg.NewDumpPath, newHex)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w: %w", newHex, ErrResolver, err)
	}
	if oldType == nil || newType == nil {
		return true, nil
	}

	return oldType.Kind == newType.Kind && oldType.ReturnType == newType.ReturnType, nil
}
