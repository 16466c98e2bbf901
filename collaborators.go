package sigmigrate

import (
	"fmt"
	"io"
)

// MethodType is the method kind and return type recorded for an offset in a
// metadata dump.
type MethodType struct {
	Kind       string `json:"kind"`
	ReturnType string `json:"return_type"`
}

// MethodTypeResolver looks up method metadata by offset. Offsets are passed
// in FormatOffset form. Lookup returns nil without error when the offset is
// not in the dump.
type MethodTypeResolver interface {
	Lookup(dumpPath, offsetHex string) (*MethodType, error)
	Validate(offsetHex, dumpPath string) (bool, error)
}

// ResultWriter serializes an ordered result list.
type ResultWriter interface {
	Write(w io.Writer, results []MatchResult) error
}

// FormatOffset renders an offset the way dumps and offset lists print it.
func FormatOffset(off uint64) string {
	return fmt.Sprintf("0x%X", off)
}
