// Package artifact loads the old and new builds of a library into memory.
package artifact

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/maxgio92/sigmigrate"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

// Artifact is one build of a library held entirely in memory. Data is never
// modified after Load returns.
type Artifact struct {
	Path string
	Data []byte
	// Text is set when Data is an ELF file.
	Text *sigmigrate.TextSection
	// Fingerprint is a fast xxh3 hash used to detect identical inputs.
	Fingerprint uint64
	// Digest is the BLAKE3 digest of Data, printed in reports.
	Digest string
}

// Size returns the artifact size in a human readable form.
func (a *Artifact) Size() string {
	return humanize.IBytes(uint64(len(a.Data)))
}

// Load reads path, transparently decompressing .zst and .lz4 files.
func Load(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	data, err := decompress(path, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artifact %s is empty", path)
	}

	a := New(path, data)
	log.WithFields(log.Fields{
		"path":   path,
		"size":   a.Size(),
		"digest": a.Digest[:16],
	}).Debug("loaded artifact")

	return a, nil
}

// New wraps data already in memory.
func New(path string, data []byte) *Artifact {
	sum := blake3.Sum256(data)
	a := &Artifact{
		Path:        path,
		Data:        data,
		Fingerprint: xxh3.Hash(data),
		Digest:      hex.EncodeToString(sum[:]),
	}
	if ts, err := sigmigrate.ReadTextSection(bytes.NewReader(data)); err == nil {
		a.Text = &ts
	}
	return a
}

func decompress(path string, raw []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	case ".lz4":
		return io.ReadAll(lz4.NewReader(bytes.NewReader(raw)))
	default:
		return raw, nil
	}
}

// Arch returns the architecture recorded in the ELF header, or fallback when
// the artifact is not an ELF file.
func (a *Artifact) Arch(fallback sigmigrate.Arch) sigmigrate.Arch {
	if a.Text != nil {
		return a.Text.Arch
	}
	return fallback
}

// CheckPair logs inconsistencies between an old and a new build. None of them
// are fatal: offsets can still be migrated, but results are likely useless.
func CheckPair(old, new *Artifact) {
	if old.Fingerprint == new.Fingerprint && bytes.Equal(old.Data, new.Data) {
		log.Warnf("%s and %s are identical", old.Path, new.Path)
	}
	if old.Text != nil && new.Text != nil && old.Text.Arch != new.Text.Arch {
		log.Warnf("architecture mismatch: %s is %s, %s is %s", old.Path, old.Text.Arch, new.Path, new.Text.Arch)
	}
}

// CheckOffsets warns about offsets that fall outside the old .text section.
func CheckOffsets(old *Artifact, records []sigmigrate.OffsetRecord) {
	if old.Text == nil {
		return
	}
	for _, rec := range records {
		if !old.Text.Contains(rec.Offset) {
			log.WithFields(log.Fields{
				"offset": sigmigrate.FormatOffset(rec.Offset),
				"line":   rec.Line,
			}).Warn("offset outside .text")
		}
	}
}
