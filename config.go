package sigmigrate

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Default configuration values.
const (
	DefaultWindowLength       = 300
	DefaultReferenceHexLength = 64
	DefaultMaxIterations      = 5
	DefaultFirstN             = 4
)

// Config holds the plain values consumed by the migrator. It is passed by
// value into NewMigrator; nothing in this package reads global state.
type Config struct {
	// WindowLength is the number of old-artifact bytes turned into a signature.
	WindowLength int `json:"window_length" mapstructure:"window-length"`
	// ReferenceHexLength is the number of raw bytes compared by the fuzzy matcher.
	ReferenceHexLength int `json:"reference_hex_length" mapstructure:"reference-hex-length"`
	// MaxIterations bounds the number of search attempts per offset.
	MaxIterations int `json:"max_iterations" mapstructure:"max-iterations"`
	// FirstCharacterMustMatch restricts fuzzy windows to those starting with
	// the same byte as the reference.
	FirstCharacterMustMatch bool `json:"first_character_must_match" mapstructure:"first-character-must-match"`
	// FirstNBytesMustMatch restricts fuzzy windows to those whose first FirstN
	// bytes equal the reference.
	FirstNBytesMustMatch bool `json:"first_n_bytes_must_match" mapstructure:"first-n-bytes-must-match"`
	FirstN               int  `json:"first_n" mapstructure:"first-n"`
	// MaxDistance rejects fuzzy candidates farther than this from the
	// reference. Zero disables the limit.
	MaxDistance uint32 `json:"max_distance" mapstructure:"max-distance"`
	// OutputFormatIsCompact selects the compact result format.
	OutputFormatIsCompact bool `json:"output_format_is_compact" mapstructure:"compact"`
	// Scanner names the exact-match strategy, see NewScanner.
	Scanner string `json:"scanner" mapstructure:"scanner"`
	// Arch selects the instruction decoder.
	Arch Arch `json:"arch" mapstructure:"arch"`
	// Workers bounds the worker pool; zero means GOMAXPROCS.
	Workers int `json:"workers" mapstructure:"workers"`
	// Batch resolves every first attempt with a single Aho-Corasick pass.
	Batch bool `json:"batch" mapstructure:"batch"`
	// OffsetTimeout is an optional wall-clock budget per offset.
	OffsetTimeout time.Duration `json:"offset_timeout" mapstructure:"offset-timeout"`
	// OldDumpPath and NewDumpPath are handed to the MethodTypeResolver.
	OldDumpPath string `json:"old_dump" mapstructure:"old-dump"`
	NewDumpPath string `json:"new_dump" mapstructure:"new-dump"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		WindowLength:       DefaultWindowLength,
		ReferenceHexLength: DefaultReferenceHexLength,
		MaxIterations:      DefaultMaxIterations,
		FirstN:             DefaultFirstN,
		Scanner:            ScannerKMP,
		Arch:               ArchARM64,
	}
}

// Validate checks the configuration for values the migrator cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("window length must be positive, got %d", c.WindowLength))
	}
	if c.ReferenceHexLength <= 0 {
		errs = append(errs, fmt.Errorf("reference length must be positive, got %d", c.ReferenceHexLength))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.FirstNBytesMustMatch && c.FirstN <= 0 {
		errs = append(errs, fmt.Errorf("first-n must be positive when enabled, got %d", c.FirstN))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, err := NewScanner(c.Scanner); err != nil {
		errs = append(errs, err)
	}
	if _, err := NewDecoder(c.Arch); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
