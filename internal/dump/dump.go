// Package dump indexes il2cpp style metadata dumps (dump.cs) by method
// offset and implements sigmigrate.MethodTypeResolver on top of them.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxgio92/sigmigrate"
)

// DefaultCacheSize is the number of parsed dumps kept in memory. A migration
// run only ever touches the old and the new dump.
const DefaultCacheSize = 4

var (
	rvaRe    = regexp.MustCompile(`^\s*// RVA: 0x([0-9A-Fa-f]+) Offset: 0x([0-9A-Fa-f]+) VA: 0x[0-9A-Fa-f]+`)
	methodRe = regexp.MustCompile(`^\s*((?:(?:public|private|protected|internal|static|virtual|abstract|override|sealed|extern|unsafe|new|async)\s+)*)(.+?)\s+([^\s(]+)\s*\(`)
)

// commonTypes are return types collapsed to their base name, so that
// "int[]" and "int" compare equal.
var commonTypes = []string{
	"void",
	"bool",
	"byte",
	"char",
	"decimal",
	"double",
	"float",
	"int",
	"long",
	"object",
	"string",
}

// Method is one indexed method declaration.
type Method struct {
	Name string
	RVA  uint64
	// Offset is the file offset, which is what offset lists carry.
	Offset uint64
	Type   sigmigrate.MethodType
}

// Index maps file offsets and RVAs to methods. The two address spaces
// are kept apart since one method's RVA may equal another's offset.
type Index struct {
	byOffset map[uint64]*Method
	byRVA    map[uint64]*Method
	count    int
}

// Len returns the number of methods indexed.
func (i *Index) Len() int { return i.count }

// Get returns the method at file offset off.
func (i *Index) Get(off uint64) (*Method, bool) {
	m, ok := i.byOffset[off]
	return m, ok
}

// GetRVA returns the method at rva.
func (i *Index) GetRVA(rva uint64) (*Method, bool) {
	m, ok := i.byRVA[rva]
	return m, ok
}

// Parse builds an Index from a dump. Lines that are not RVA comments or the
// declaration following one are ignored.
func Parse(r io.Reader) (*Index, error) {
	idx := &Index{
		byOffset: make(map[uint64]*Method),
		byRVA:    make(map[uint64]*Method),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pending *Method
	for sc.Scan() {
		line := sc.Text()

		if m := rvaRe.FindStringSubmatch(line); m != nil {
			rva, err := strconv.ParseUint(m[1], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid RVA %q: %w", m[1], err)
			}
			off, err := strconv.ParseUint(m[2], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid offset %q: %w", m[2], err)
			}
			pending = &Method{RVA: rva, Offset: off}
			continue
		}

		if pending == nil || strings.TrimSpace(line) == "" {
			continue
		}

		if m := methodRe.FindStringSubmatch(line); m != nil {
			pending.Name = m[3]
			pending.Type = sigmigrate.MethodType{
				Kind:       strings.Join(strings.Fields(m[1]), " "),
				ReturnType: NormalizeType(m[2]),
			}
			idx.byOffset[pending.Offset] = pending
			idx.byRVA[pending.RVA] = pending
			idx.count++
		}
		pending = nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}

	return idx, nil
}

// NormalizeType strips generic wrappers and collapses common base types.
func NormalizeType(t string) string {
	t = strings.TrimSpace(t)
	if strings.HasPrefix(t, "<") {
		if end := strings.Index(t, ">"); end > 0 {
			t = t[1:end]
		}
	}
	for _, base := range commonTypes {
		if strings.HasPrefix(t, base) {
			return base
		}
	}
	return t
}

// Resolver serves method lookups from dumps on disk. Parsed dumps are
// memoized per path.
type Resolver struct {
	cache *lru.Cache[string, *Index]
	// mu serializes parsing so concurrent workers never parse a dump twice.
	mu sync.Mutex
}

// NewResolver returns a Resolver keeping up to size parsed dumps.
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Index](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: cache}, nil
}

// Load returns the index for path, parsing it on first use.
func (r *Resolver) Load(path string) (*Index, error) {
	if idx, ok := r.cache.Get(path); ok {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.cache.Get(path); ok {
		return idx, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	idx, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dump %s: %w", path, err)
	}
	log.WithFields(log.Fields{
		"path":    path,
		"methods": idx.Len(),
	}).Debug("indexed dump")

	r.cache.Add(path, idx)
	return idx, nil
}

// Lookup implements sigmigrate.MethodTypeResolver.
func (r *Resolver) Lookup(dumpPath, offsetHex string) (*sigmigrate.MethodType, error) {
	idx, err := r.Load(dumpPath)
	if err != nil {
		return nil, err
	}
	off, err := parseOffset(offsetHex)
	if err != nil {
		return nil, err
	}
	m, ok := idx.Get(off)
	if !ok {
		return nil, nil
	}
	t := m.Type
	return &t, nil
}

// Validate implements sigmigrate.MethodTypeResolver.
func (r *Resolver) Validate(offsetHex, dumpPath string) (bool, error) {
	idx, err := r.Load(dumpPath)
	if err != nil {
		return false, err
	}
	off, err := parseOffset(offsetHex)
	if err != nil {
		return false, err
	}
	_, ok := idx.Get(off)
	return ok, nil
}

func parseOffset(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}
