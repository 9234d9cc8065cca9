// Package pack implements the on-disk framing that wraps a raw, serialized
// Instruction with a magic number, a format version, and an ECC-protected
// payload (§4.2): MAGIC(4) VERSION(1) ECC_WIDTH(4) ECC_MODE(1) ECC_DATA.
package pack

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/instruction"
)

// Version is the only pack format version this engine understands.
const Version byte = 0x01

// Magic marks the beginning of every pack on disk.
var Magic = [4]byte{0xB1, 0x0C, 0xDA, 0x7A}

const (
	magicWidth     = 4
	versionPos     = 4
	eccWidthPos    = 5
	eccWidthLength = 4
	eccModePos     = 9
	eccDataPos     = 10
)

var (
	// ErrPackTooShort is returned when fewer bytes are available than the
	// frame's declared width requires.
	ErrPackTooShort = errors.New("pack: too short")
	// ErrUnexpectedMagicNumber is returned when the leading 4 bytes do not
	// match Magic.
	ErrUnexpectedMagicNumber = errors.New("pack: unexpected magic number")
	// ErrUnexpectedVersion is returned when the version byte does not match
	// Version.
	ErrUnexpectedVersion = errors.New("pack: unexpected version")
)

// Pack frames instr under the given ECC mode, returning the full on-disk
// pack bytes.
func Pack(instr instruction.Instruction, mode ecc.Mode) ([]byte, error) {
	raw := instr.Serialize()
	eccData, err := ecc.Encode(mode, raw)
	if err != nil {
		return nil, fmt.Errorf("pack: encode ecc: %w", err)
	}

	dataLength := 1 + len(eccData) // ECC mode byte + ECC data
	out := make([]byte, 0, eccDataPos+len(eccData))
	out = append(out, Magic[:]...)
	out = append(out, Version)

	widthBuf := make([]byte, eccWidthLength)
	binary.LittleEndian.PutUint32(widthBuf, uint32(dataLength))
	out = append(out, widthBuf...)
	out = append(out, byte(mode))
	out = append(out, eccData...)

	return out, nil
}

// Unpack reads a pack from the front of data, returning the decoded
// instruction and the total number of bytes the pack occupies.
func Unpack(data []byte) (instruction.Instruction, int, error) {
	if len(data) < eccModePos {
		return instruction.Instruction{}, 0, fmt.Errorf("%w: %d bytes", ErrPackTooShort, len(data))
	}
	var magic [4]byte
	copy(magic[:], data[:magicWidth])
	if magic != Magic {
		return instruction.Instruction{}, 0, fmt.Errorf("%w: %x", ErrUnexpectedMagicNumber, magic)
	}
	if data[versionPos] != Version {
		return instruction.Instruction{}, 0, fmt.Errorf("%w: %#x", ErrUnexpectedVersion, data[versionPos])
	}

	eccWidth := binary.LittleEndian.Uint32(data[eccWidthPos : eccWidthPos+eccWidthLength])
	fullWidth := eccModePos + int(eccWidth)
	if fullWidth > len(data) {
		return instruction.Instruction{}, 0, fmt.Errorf("%w: %d bytes", ErrPackTooShort, len(data))
	}

	mode := ecc.Mode(data[eccModePos])
	eccData := data[eccDataPos:fullWidth]
	raw, err := ecc.Decode(mode, eccData)
	if err != nil {
		return instruction.Instruction{}, 0, fmt.Errorf("pack: decode ecc: %w", err)
	}

	instr, _, err := instruction.Parse(raw)
	if err != nil {
		return instruction.Instruction{}, 0, fmt.Errorf("pack: parse instruction: %w", err)
	}

	return instr, fullWidth, nil
}
