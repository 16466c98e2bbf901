package sigmigrate

import (
	"debug/elf"
	"fmt"
	"io"
)

// TextSection describes the executable code of an ELF artifact. Offset and
// Size are file offsets, which is the space offsets are migrated in.
type TextSection struct {
	Addr   uint64 `json:"addr"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	Arch   Arch   `json:"arch"`
}

// Contains reports whether the file offset off lies inside the section.
func (t TextSection) Contains(off uint64) bool {
	return off >= t.Offset && off < t.Offset+t.Size
}

// ReadTextSection parses an ELF file from r, locates the .text section and
// infers the architecture from the ELF header.
func ReadTextSection(r io.ReaderAt) (TextSection, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return TextSection{}, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer f.Close()

	textSec := f.Section(".text")
	if textSec == nil {
		return TextSection{}, fmt.Errorf("no .text section found")
	}

	ts := TextSection{
		Addr:   textSec.Addr,
		Offset: textSec.Offset,
		Size:   textSec.Size,
	}

	switch f.Machine {
	case elf.EM_X86_64:
		ts.Arch = ArchAMD64
	case elf.EM_AARCH64:
		ts.Arch = ArchARM64
	default:
		return TextSection{}, fmt.Errorf("unsupported ELF machine: %s", f.Machine)
	}

	return ts, nil
}
