package sigmigrate

import (
	"fmt"
)

// BuildSignature slices windowLength bytes of old starting at offset, decodes
// them once with dec and turns the result into a Signature. Position
// dependent instructions are wildcarded according to Classify; the window is
// truncated at the end of old.
func BuildSignature(old []byte, offset uint64, windowLength int, dec InstructionDecoder) (Signature, error) {
	if offset >= uint64(len(old)) {
		return nil, fmt.Errorf("0x%x (artifact is 0x%x bytes): %w", offset, len(old), ErrOutOfRange)
	}
	if dec == nil {
		return nil, fmt.Errorf("no decoder configured: %w", ErrDecoder)
	}

	end := offset + uint64(windowLength)
	if end > uint64(len(old)) {
		end = uint64(len(old))
	}
	window := old[offset:end]

	insns, err := dec.Decode(window, offset)
	if err != nil {
		return nil, fmt.Errorf("decode at 0x%x: %w: %w", offset, ErrDecoder, err)
	}
	if len(insns) == 0 {
		return nil, fmt.Errorf("0x%x (%d bytes): %w", offset, len(window), ErrEmptyWindow)
	}

	sig := make([]SignatureByte, 0, len(window))
	for _, insn := range insns {
		sig = append(sig, maskInstruction(insn, Classify(insn, dec.Arch()))...)
	}

	return NewSignature(sig)
}
