package sigmigrate_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/maxgio92/sigmigrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldDump = "old/dump.cs"
	newDump = "new/dump.cs"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.DebugLevel}

// typeResolver serves method types from in-memory maps keyed by FormatOffset.
type typeResolver struct {
	mu        sync.Mutex
	old       map[string]*sigmigrate.MethodType
	new       map[string]*sigmigrate.MethodType
	present   func(offsetHex string) bool
	lookupErr error
	validated []string
	delay     func() time.Duration
}

func (r *typeResolver) Lookup(dumpPath, offsetHex string) (*sigmigrate.MethodType, error) {
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	if dumpPath == oldDump {
		return r.old[offsetHex], nil
	}
	return r.new[offsetHex], nil
}

func (r *typeResolver) Validate(offsetHex, _ string) (bool, error) {
	if r.delay != nil {
		time.Sleep(r.delay())
	}
	r.mu.Lock()
	r.validated = append(r.validated, offsetHex)
	r.mu.Unlock()
	if r.present == nil {
		return true, nil
	}
	return r.present(offsetHex), nil
}

func testConfig(window int) sigmigrate.Config {
	cfg := sigmigrate.DefaultConfig()
	cfg.WindowLength = window
	cfg.ReferenceHexLength = window
	cfg.OldDumpPath = oldDump
	cfg.NewDumpPath = newDump
	return cfg
}

func newTestMigrator(t *testing.T, old, new []byte, cfg sigmigrate.Config, opts ...sigmigrate.Option) *sigmigrate.Migrator {
	t.Helper()
	opts = append([]sigmigrate.Option{sigmigrate.WithLogger(quiet)}, opts...)
	m, err := sigmigrate.NewMigrator(old, new, cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestMigrator_Exact(t *testing.T) {
	old := make([]byte, 0x20)
	copy(old[0x10:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	new := make([]byte, 0x60)
	copy(new[0x40:], []byte{0xAA, 0xBB, 0xCC, 0xDD})

	m := newTestMigrator(t, old, new, testConfig(4), sigmigrate.WithDecoder(fakeDecoder{}))
	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0x10, Name: "Player.Update"})

	require.NoError(t, res.Err)
	require.True(t, res.Resolved())
	assert.Equal(t, uint64(0x40), *res.NewOffset)
	assert.Equal(t, uint32(1), res.IterationCount)
	assert.Equal(t, uint32(1), res.Attempts)
	assert.Equal(t, sigmigrate.StrategyExact, res.Strategy)
	assert.Equal(t, "Player.Update", res.Name)
	assert.Equal(t, "AA BB CC DD", res.Signature.String())
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, res.MatchedBytes)
}

func TestMigrator_Ambiguous(t *testing.T) {
	old := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	new := make([]byte, 0x80)
	copy(new[0x20:], old)
	copy(new[0x60:], old)

	m := newTestMigrator(t, old, new, testConfig(4), sigmigrate.WithDecoder(fakeDecoder{}))
	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

	require.True(t, res.Resolved())
	assert.Equal(t, uint64(0x20), *res.NewOffset)
	assert.Equal(t, sigmigrate.StrategyAmbiguous, res.Strategy)
}

func TestMigrator_OverlappingHitsAreExact(t *testing.T) {
	old := []byte{0xAA, 0xAA}
	new := []byte{0x00, 0xAA, 0xAA, 0xAA}

	for _, scanner := range []string{sigmigrate.ScannerHorspool, sigmigrate.ScannerKMP, sigmigrate.ScannerAhoCorasick} {
		for _, batch := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/batch=%t", scanner, batch), func(t *testing.T) {
				cfg := testConfig(2)
				cfg.Scanner = scanner
				cfg.Batch = batch

				m := newTestMigrator(t, old, new, cfg, sigmigrate.WithDecoder(fakeDecoder{size: 1}))
				res := m.Run(context.Background(), []sigmigrate.OffsetRecord{{Offset: 0}})

				require.Len(t, res, 1)
				require.True(t, res[0].Resolved())
				assert.Equal(t, uint64(1), *res[0].NewOffset)
				assert.Equal(t, sigmigrate.StrategyExact, res[0].Strategy)
			})
		}
	}
}

func TestMigrator_Fuzzy(t *testing.T) {
	old := []byte{0x12, 0x34}
	new := make([]byte, 100)
	new[50], new[51] = 0x12, 0x35

	cfg := testConfig(2)
	cfg.FirstCharacterMustMatch = true
	m := newTestMigrator(t, old, new, cfg, sigmigrate.WithDecoder(fakeDecoder{size: 2}))
	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

	require.NoError(t, res.Err)
	require.True(t, res.Resolved())
	assert.Equal(t, uint64(50), *res.NewOffset)
	assert.Equal(t, sigmigrate.StrategyFuzzy, res.Strategy)
	assert.Equal(t, uint32(2), res.Distance)
	// One exact scan plus the only anchored window.
	assert.Equal(t, uint32(2), res.IterationCount)
	assert.Equal(t, []byte{0x12, 0x35}, res.MatchedBytes)
}

func TestMigrator_ExhaustsRetries(t *testing.T) {
	old := []byte{0x12, 0x34}
	new := make([]byte, 100)

	t.Run("Rejected", func(t *testing.T) {
		resolver := &typeResolver{present: func(string) bool { return false }}
		m := newTestMigrator(t, old, new, testConfig(2),
			sigmigrate.WithDecoder(fakeDecoder{size: 2}),
			sigmigrate.WithResolver(resolver))

		res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

		assert.False(t, res.Resolved())
		assert.ErrorIs(t, res.Err, sigmigrate.ErrExhausted)
		assert.Equal(t, uint32(sigmigrate.DefaultMaxIterations), res.Attempts)
		// Every rejection moves the cursor one byte past the candidate.
		assert.Equal(t, []string{"0x0", "0x1", "0x2", "0x3", "0x4"}, resolver.validated)
		// Each attempt is one exact scan plus every remaining fuzzy window.
		assert.Equal(t, uint32(490), res.IterationCount)
	})

	t.Run("MaxDistance", func(t *testing.T) {
		cfg := testConfig(2)
		cfg.MaxDistance = 1
		m := newTestMigrator(t, old, new, cfg, sigmigrate.WithDecoder(fakeDecoder{size: 2}))

		res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

		assert.False(t, res.Resolved())
		assert.ErrorIs(t, res.Err, sigmigrate.ErrExhausted)
		assert.Equal(t, uint32(sigmigrate.DefaultMaxIterations), res.Attempts)
		assert.Equal(t, sigmigrate.StrategyNone, res.Strategy)
	})

	t.Run("SignatureLongerThanRemainder", func(t *testing.T) {
		cfg := testConfig(2)
		cfg.MaxIterations = 3
		m := newTestMigrator(t, old, []byte{0x12}, cfg, sigmigrate.WithDecoder(fakeDecoder{size: 2}))

		res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

		assert.ErrorIs(t, res.Err, sigmigrate.ErrExhausted)
		assert.Equal(t, uint32(3), res.Attempts)
		assert.Zero(t, res.IterationCount)
	})
}

func TestMigrator_TypeValidation(t *testing.T) {
	sig := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	old := make([]byte, 0x20)
	copy(old[0x10:], sig)
	new := make([]byte, 0x60)
	copy(new[0x20:], sig)
	copy(new[0x40:], sig)

	resolver := &typeResolver{
		old: map[string]*sigmigrate.MethodType{
			"0x10": {Kind: "method", ReturnType: "int"},
		},
		new: map[string]*sigmigrate.MethodType{
			"0x20": {Kind: "method", ReturnType: "bool"},
			"0x40": {Kind: "method", ReturnType: "int"},
		},
	}
	m := newTestMigrator(t, old, new, testConfig(4),
		sigmigrate.WithDecoder(fakeDecoder{}),
		sigmigrate.WithResolver(resolver))

	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0x10})

	require.NoError(t, res.Err)
	require.True(t, res.Resolved())
	assert.Equal(t, uint64(0x40), *res.NewOffset)
	assert.Equal(t, uint32(2), res.Attempts)
	// Only one copy remains past the rejected candidate.
	assert.Equal(t, sigmigrate.StrategyExact, res.Strategy)
	assert.Equal(t, []string{"0x20", "0x40"}, resolver.validated)
}

func TestMigrator_UnknownTypesAccepted(t *testing.T) {
	old := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	new := make([]byte, 0x20)
	copy(new[0x08:], old)

	resolver := &typeResolver{}
	m := newTestMigrator(t, old, new, testConfig(4),
		sigmigrate.WithDecoder(fakeDecoder{}),
		sigmigrate.WithResolver(resolver))

	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})
	require.True(t, res.Resolved())
	assert.Equal(t, uint64(0x08), *res.NewOffset)
}

func TestMigrator_Errors(t *testing.T) {
	old := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	new := append(make([]byte, 8), old...)

	t.Run("Resolver", func(t *testing.T) {
		lookupErr := errors.New("dump not readable")
		m := newTestMigrator(t, old, new, testConfig(4),
			sigmigrate.WithDecoder(fakeDecoder{}),
			sigmigrate.WithResolver(&typeResolver{lookupErr: lookupErr}))

		res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: 0})

		assert.False(t, res.Resolved())
		assert.ErrorIs(t, res.Err, sigmigrate.ErrResolver)
		assert.ErrorIs(t, res.Err, lookupErr)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		m := newTestMigrator(t, old, new, testConfig(4), sigmigrate.WithDecoder(fakeDecoder{}))

		res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: uint64(len(old))})

		assert.ErrorIs(t, res.Err, sigmigrate.ErrOutOfRange)
		assert.Zero(t, res.Attempts)
	})

	t.Run("Cancelled", func(t *testing.T) {
		m := newTestMigrator(t, old, new, testConfig(4), sigmigrate.WithDecoder(fakeDecoder{}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := m.Resolve(ctx, sigmigrate.OffsetRecord{Offset: 0})

		assert.False(t, res.Resolved())
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Zero(t, res.Attempts)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testConfig(4)
		cfg.WindowLength = 0
		_, err := sigmigrate.NewMigrator(old, new, cfg)
		assert.Error(t, err)
	})
}

// relocationFixture places 64 unique four byte functions in old and shuffles
// them into new.
func relocationFixture() (old, new []byte, records []sigmigrate.OffsetRecord, want []uint64) {
	const (
		base  = 0x100
		count = 64
	)
	old = make([]byte, base+4*count)
	new = make([]byte, base+4*count)
	perm := rand.New(rand.NewSource(5)).Perm(count)

	for i := 0; i < count; i++ {
		pattern := []byte{0xF0, byte(i), 0xE0, byte(i) ^ 0x5A}
		copy(old[base+4*i:], pattern)
		copy(new[base+4*perm[i]:], pattern)
		records = append(records, sigmigrate.OffsetRecord{Offset: uint64(base + 4*i), Line: i + 1})
		want = append(want, uint64(base+4*perm[i]))
	}
	return old, new, records, want
}

func TestMigrator_Run(t *testing.T) {
	old, new, records, want := relocationFixture()

	cfg := testConfig(4)
	cfg.Workers = 8
	resolver := &typeResolver{delay: func() time.Duration {
		return time.Duration(rand.Intn(200)) * time.Microsecond
	}}

	var done atomic.Int32
	m := newTestMigrator(t, old, new, cfg,
		sigmigrate.WithDecoder(fakeDecoder{}),
		sigmigrate.WithResolver(resolver),
		sigmigrate.WithProgress(func(sigmigrate.MatchResult) { done.Add(1) }))

	results := m.Run(context.Background(), records)

	require.Len(t, results, len(records))
	assert.Equal(t, int32(len(records)), done.Load())
	for i, res := range results {
		require.NoError(t, res.Err, "record %d", i)
		assert.Equal(t, records[i].Offset, res.OldOffset, "results must keep input order")
		require.True(t, res.Resolved())
		assert.Equal(t, want[i], *res.NewOffset)
		assert.Equal(t, sigmigrate.StrategyExact, res.Strategy)
	}
}

func TestMigrator_RunBatch(t *testing.T) {
	old, new, records, _ := relocationFixture()
	// An out of range record must not disturb batch bookkeeping.
	records = append(records[:10:10], append([]sigmigrate.OffsetRecord{{Offset: 0xFFFF}}, records[10:]...)...)

	cfg := testConfig(4)
	want := newTestMigrator(t, old, new, cfg, sigmigrate.WithDecoder(fakeDecoder{})).
		Run(context.Background(), records)

	cfg.Batch = true
	got := newTestMigrator(t, old, new, cfg, sigmigrate.WithDecoder(fakeDecoder{})).
		Run(context.Background(), records)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].NewOffset, got[i].NewOffset, "record %d", i)
		assert.Equal(t, want[i].Strategy, got[i].Strategy, "record %d", i)
		assert.Equal(t, want[i].IterationCount, got[i].IterationCount, "record %d", i)
	}
	assert.ErrorIs(t, got[10].Err, sigmigrate.ErrOutOfRange)
}

func TestMigrator_ARM64Relocation(t *testing.T) {
	const (
		oldFn = 0x40
		newFn = 0x80
	)
	fill := func(n int) []byte {
		code := make([]byte, n)
		for i := 0; i < n; i += 4 {
			putWords(code, i, arm64NOP)
		}
		return code
	}

	old := fill(0x100)
	putWords(old, oldFn, stpX29X30, subSPImm, arm64BranchInsn(blOp, oldFn+8, 0x10), addX0X1Imm, ldpX29X30, arm64RET)
	// The function moved and its callee moved with it.
	new := fill(0x100)
	putWords(new, newFn, stpX29X30, subSPImm, arm64BranchInsn(blOp, newFn+8, 0xC0), addX0X1Imm, ldpX29X30, arm64RET)

	cfg := testConfig(24)
	cfg.Arch = sigmigrate.ArchARM64
	m := newTestMigrator(t, old, new, cfg)

	res := m.Resolve(context.Background(), sigmigrate.OffsetRecord{Offset: oldFn, Name: "Enemy.Attack"})

	require.NoError(t, res.Err)
	require.True(t, res.Resolved())
	assert.Equal(t, uint64(newFn), *res.NewOffset)
	assert.Equal(t, sigmigrate.StrategyExact, res.Strategy)
	assert.Equal(t, 8, res.Signature.Wildcards())
}
