package sigmigrate

import (
	"strings"
)

// WildcardClass describes how much of an instruction is position dependent.
type WildcardClass string

// Recognized wildcard classes.
const (
	// WildcardNone keeps every instruction byte.
	WildcardNone WildcardClass = "none"
	// WildcardFull replaces every instruction byte with a wildcard.
	WildcardFull WildcardClass = "full"
	// WildcardPartial keeps only the last byte in memory order. On A64 this
	// is the most significant byte of the little-endian word, which carries
	// the opcode class and drops the address-dependent immediate fields.
	WildcardPartial WildcardClass = "partial"
)

// arm64FullWildcard lists A64 mnemonics whose encoding embeds a PC-relative
// target, page address or other value that moves between builds.
var arm64FullWildcard = map[string]struct{}{
	"b":    {},
	"bl":   {},
	"cbz":  {},
	"cbnz": {},
	"tbz":  {},
	"tbnz": {},
	"ldp":  {},
	"fcmp": {},
	"adrp": {},
	"adr":  {},
	"csel": {},
}

// storeKeepRegisters are registers whose stores are kept byte-for-byte.
var storeKeepRegisters = map[string]struct{}{
	"wzr": {},
	"xzr": {},
	"w9":  {},
	"w20": {},
}

// Classify returns the wildcard class of inst for arch.
func Classify(inst Instruction, arch Arch) WildcardClass {
	switch arch {
	case ArchAMD64:
		return classifyAMD64(inst)
	default:
		return classifyARM64(inst)
	}
}

func classifyARM64(inst Instruction) WildcardClass {
	mnemonic := strings.ToLower(inst.Mnemonic)
	operands := strings.ToLower(inst.OperandText)

	// B.cond decodes as "b.<cond>".
	if strings.HasPrefix(mnemonic, "b.") {
		return WildcardFull
	}
	if _, ok := arm64FullWildcard[mnemonic]; ok {
		return WildcardFull
	}

	switch mnemonic {
	case "ldr", "ldrb":
		if strings.Count(operands, ",") > 1 && !strings.Contains(operands, "#-") {
			return WildcardPartial
		}
	case "str", "strb":
		for _, reg := range operandTokens(operands) {
			if _, ok := storeKeepRegisters[reg]; ok {
				return WildcardNone
			}
		}
		return WildcardPartial
	case "add":
		for _, reg := range operandTokens(operands) {
			if reg == "sp" || reg == "wsp" {
				return WildcardPartial
			}
		}
	}

	return WildcardNone
}

func classifyAMD64(inst Instruction) WildcardClass {
	mnemonic := strings.ToLower(inst.Mnemonic)

	// x86asm uses distinct ops for every conditional jump, all starting with J.
	switch {
	case mnemonic == "call", strings.HasPrefix(mnemonic, "j"), strings.HasPrefix(mnemonic, "loop"):
		return WildcardFull
	case strings.Contains(strings.ToLower(inst.OperandText), "rip"):
		return WildcardFull
	}

	return WildcardNone
}

// maskInstruction converts inst to signature bytes according to class.
func maskInstruction(inst Instruction, class WildcardClass) []SignatureByte {
	out := make([]SignatureByte, len(inst.Bytes))
	for i, b := range inst.Bytes {
		switch class {
		case WildcardFull:
			out[i] = SignatureByte{Wildcard: true}
		case WildcardPartial:
			if i == len(inst.Bytes)-1 {
				out[i] = SignatureByte{Value: b}
			} else {
				out[i] = SignatureByte{Wildcard: true}
			}
		default:
			out[i] = SignatureByte{Value: b}
		}
	}
	return out
}

// operandTokens splits assembler operand text into register-like tokens.
func operandTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
