// Package logio implements the append-only writer and random/sequential
// reader over the packed instruction log (§4.3), plus the 3-byte log
// version header every log file carries at offset 0.
package logio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/instruction"
	"github.com/ledgerwatch/immuxdb/pack"
)

// Version is the log format version this build writes and requires, as
// major.minor.revise. Stored as the first 3 bytes of every log file.
var Version = LogVersion{Major: 0, Minor: 1, Revise: 0}

// LogVersion identifies the on-disk framing format of a log file.
type LogVersion struct {
	Major, Minor, Revise byte
}

const versionWidth = 3

// Marshal returns the 3-byte encoding of v.
func (v LogVersion) Marshal() []byte {
	return []byte{v.Major, v.Minor, v.Revise}
}

// ParseLogVersion reads a LogVersion from the front of data.
func ParseLogVersion(data []byte) (LogVersion, int, error) {
	if len(data) < versionWidth {
		return LogVersion{}, 0, ErrVersionHeaderTruncated
	}
	return LogVersion{Major: data[0], Minor: data[1], Revise: data[2]}, versionWidth, nil
}

// String renders v as "major.minor.revise".
func (v LogVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revise)
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than
// other, ordering lexicographically by major, then minor, then revise.
func (v LogVersion) Compare(other LogVersion) int {
	switch {
	case v.Major != other.Major:
		return sign(int(v.Major) - int(other.Major))
	case v.Minor != other.Minor:
		return sign(int(v.Minor) - int(other.Minor))
	default:
		return sign(int(v.Revise) - int(other.Revise))
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

var (
	// ErrVersionHeaderTruncated is returned when a log file is shorter than
	// the 3-byte version header.
	ErrVersionHeaderTruncated = errors.New("logio: version header truncated")
	// ErrIncompatibleVersion is returned when a log file's version header is
	// newer than the version this build understands.
	ErrIncompatibleVersion = errors.New("logio: log file version is newer than this build supports")
)

// Pointer locates a single pack within the log file.
type Pointer struct {
	Offset uint64
	Length int
}

// Writer appends packed instructions to a log file, flushing after every
// write so every committed Append is durable before it returns.
type Writer struct {
	file   *os.File
	buf    *bufio.Writer
	pos    uint64
	mode   ecc.Mode
	logger log.Logger
}

// OpenWriter opens (creating if necessary) the log file at path for
// appending, writing a fresh version header if the file is new.
func OpenWriter(path string, mode ecc.Mode) (*Writer, error) {
	logger := log.New("module", "logio")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logio: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("logio: stat %s: %w", path, err)
	}

	pos := uint64(info.Size())
	if pos == 0 {
		header := Version.Marshal()
		if _, err := file.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("logio: write version header: %w", err)
		}
		pos = uint64(len(header))
		logger.Info("initialized new log file", "path", path, "version", Version.String())
	}

	return &Writer{
		file:   file,
		buf:    bufio.NewWriter(file),
		pos:    pos,
		mode:   mode,
		logger: logger,
	}, nil
}

// Append packs instr and writes it to the end of the log, returning a
// Pointer to the bytes just written.
func (w *Writer) Append(instr instruction.Instruction) (Pointer, error) {
	packed, err := pack.Pack(instr, w.mode)
	if err != nil {
		return Pointer{}, fmt.Errorf("logio: pack instruction: %w", err)
	}

	posBefore := w.pos
	if _, err := w.buf.Write(packed); err != nil {
		return Pointer{}, fmt.Errorf("logio: write: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return Pointer{}, fmt.Errorf("logio: flush: %w", err)
	}
	w.pos += uint64(len(packed))

	return Pointer{Offset: posBefore, Length: len(packed)}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Reader reads packed instructions out of a log file, either at a known
// Pointer or sequentially from the start.
type Reader struct {
	file    *os.File
	version LogVersion
	logger  log.Logger
}

// OpenReader opens path for reading, verifying its version header is one
// this build can understand.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logio: open %s: %w", path, err)
	}

	header := make([]byte, versionWidth)
	if _, err := io.ReadFull(file, header); err != nil {
		file.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("logio: %s: %w", path, ErrVersionHeaderTruncated)
		}
		return nil, fmt.Errorf("logio: read version header: %w", err)
	}

	version, _, err := ParseLogVersion(header)
	if err != nil {
		file.Close()
		return nil, err
	}
	if version.Compare(Version) > 0 {
		file.Close()
		return nil, fmt.Errorf("logio: %s is version %s, this build supports up to %s: %w",
			path, version, Version, ErrIncompatibleVersion)
	}

	return &Reader{file: file, version: version, logger: log.New("module", "logio")}, nil
}

// Version reports the log file's on-disk version header.
func (r *Reader) Version() LogVersion { return r.version }

// ReadAt reads and unpacks the instruction at ptr.
func (r *Reader) ReadAt(ptr Pointer) (instruction.Instruction, error) {
	buf := make([]byte, ptr.Length)
	if _, err := r.file.ReadAt(buf, int64(ptr.Offset)); err != nil {
		return instruction.Instruction{}, fmt.Errorf("logio: read at %d: %w", ptr.Offset, err)
	}
	instr, _, err := pack.Unpack(buf)
	if err != nil {
		return instruction.Instruction{}, fmt.Errorf("logio: unpack at %d: %w", ptr.Offset, err)
	}
	return instr, nil
}

// Record pairs a decoded instruction with the Pointer it was read from,
// as produced by a full-log scan.
type Record struct {
	Instruction instruction.Instruction
	Pointer     Pointer
}

// ScanAll reads every whole pack from the start of the log (after the
// version header) in order, calling visit for each. It stops silently,
// without error, at the first pack that fails to parse — a final,
// partially-written pack left by a crash mid-append is not an error, it
// is simply the end of the durable log (matches buffer_parser semantics:
// tolerate trailing truncation, never reject the records that came
// before it).
func (r *Reader) ScanAll(visit func(Record) error) error {
	if _, err := r.file.Seek(versionWidth, io.SeekStart); err != nil {
		return fmt.Errorf("logio: seek: %w", err)
	}
	data, err := io.ReadAll(r.file)
	if err != nil {
		return fmt.Errorf("logio: read all: %w", err)
	}

	offset := uint64(versionWidth)
	pos := 0
	count := 0
	for pos < len(data) {
		instr, width, err := pack.Unpack(data[pos:])
		if err != nil {
			r.logger.Debug("log scan stopped at trailing bytes", "offset", offset, "remaining", len(data)-pos)
			break
		}
		rec := Record{Instruction: instr, Pointer: Pointer{Offset: offset, Length: width}}
		if err := visit(rec); err != nil {
			return err
		}
		pos += width
		offset += uint64(width)
		count++
	}
	r.logger.Info("log scan complete", "records", count)
	return nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
