package sigmigrate

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch selects the instruction set used to decode signature windows.
type Arch string

// Supported architectures.
const (
	ArchARM64 Arch = "arm64"
	ArchAMD64 Arch = "amd64"
)

// ParseArch maps a user supplied name to an Arch.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arm64", "aarch64":
		return ArchARM64, nil
	case "amd64", "x86_64", "x86-64":
		return ArchAMD64, nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", s)
	}
}

// Instruction is one decoded machine instruction.
type Instruction struct {
	ID          uint16 `json:"id"`
	Address     uint64 `json:"address"`
	Size        int    `json:"size"`
	Bytes       []byte `json:"bytes"`
	Mnemonic    string `json:"mnemonic"`
	OperandText string `json:"operand_text"`
}

// String returns the instruction in assembler syntax.
func (i Instruction) String() string {
	if i.OperandText == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.OperandText
}

// InstructionDecoder disassembles raw bytes into instructions. baseAddr is
// the address of code[0].
type InstructionDecoder interface {
	Arch() Arch
	Decode(code []byte, baseAddr uint64) ([]Instruction, error)
}

// NewDecoder returns the decoder for arch.
func NewDecoder(arch Arch) (InstructionDecoder, error) {
	switch arch {
	case ArchARM64:
		return ARM64Decoder{}, nil
	case ArchAMD64:
		return AMD64Decoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported architecture: %s", arch)
	}
}

// ARM64Decoder decodes fixed-width A64 instructions with arm64asm.
// Words that do not decode are emitted as ".word" so the window stays
// contiguous, mirroring a disassembler running in skip-data mode.
type ARM64Decoder struct{}

// Arch implements InstructionDecoder.
func (ARM64Decoder) Arch() Arch { return ArchARM64 }

// Decode implements InstructionDecoder. Trailing bytes that do not form a
// full word are dropped.
func (ARM64Decoder) Decode(code []byte, baseAddr uint64) ([]Instruction, error) {
	const insnLen = 4

	result := make([]Instruction, 0, len(code)/insnLen)
	for offset := 0; offset+insnLen <= len(code); offset += insnLen {
		raw := code[offset : offset+insnLen]
		insn := Instruction{
			Address: baseAddr + uint64(offset),
			Size:    insnLen,
			Bytes:   raw,
		}

		inst, err := arm64asm.Decode(raw)
		if err != nil {
			insn.Mnemonic = ".word"
			insn.OperandText = fmt.Sprintf("0x%02x%02x%02x%02x", raw[3], raw[2], raw[1], raw[0])
			result = append(result, insn)
			continue
		}

		insn.ID = uint16(inst.Op)
		insn.Mnemonic, insn.OperandText = splitSyntax(arm64asm.GNUSyntax(inst))
		result = append(result, insn)
	}

	return result, nil
}

// AMD64Decoder decodes variable-length x86-64 instructions with x86asm.
type AMD64Decoder struct{}

// Arch implements InstructionDecoder.
func (AMD64Decoder) Arch() Arch { return ArchAMD64 }

// Decode implements InstructionDecoder.
func (AMD64Decoder) Decode(code []byte, baseAddr uint64) ([]Instruction, error) {
	var result []Instruction

	offset := 0
	for offset < len(code) {
		addr := baseAddr + uint64(offset)

		// ENDBR64/ENDBR32 are not known to x86asm.
		if offset+4 <= len(code) &&
			code[offset] == 0xf3 && code[offset+1] == 0x0f &&
			code[offset+2] == 0x1e && (code[offset+3] == 0xfa || code[offset+3] == 0xfb) {
			mnemonic := "endbr64"
			if code[offset+3] == 0xfb {
				mnemonic = "endbr32"
			}
			result = append(result, Instruction{
				Address:  addr,
				Size:     4,
				Bytes:    code[offset : offset+4],
				Mnemonic: mnemonic,
			})
			offset += 4
			continue
		}

		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			result = append(result, Instruction{
				Address:     addr,
				Size:        1,
				Bytes:       code[offset : offset+1],
				Mnemonic:    ".byte",
				OperandText: fmt.Sprintf("0x%02x", code[offset]),
			})
			offset++
			continue
		}

		mnemonic := strings.ToLower(inst.Op.String())
		full := strings.ToLower(x86asm.IntelSyntax(inst, addr, nil))
		operands := full
		if _, after, ok := strings.Cut(full, mnemonic); ok {
			operands = after
		}

		result = append(result, Instruction{
			ID:          uint16(inst.Op),
			Address:     addr,
			Size:        inst.Len,
			Bytes:       code[offset : offset+inst.Len],
			Mnemonic:    mnemonic,
			OperandText: strings.TrimSpace(operands),
		})
		offset += inst.Len
	}

	return result, nil
}

func splitSyntax(s string) (mnemonic, operands string) {
	mnemonic, operands, _ = strings.Cut(strings.TrimSpace(s), " ")
	return mnemonic, strings.TrimSpace(operands)
}
