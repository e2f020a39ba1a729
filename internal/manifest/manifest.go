// Package manifest encodes and decodes the binary file-snapshot format
// persisted after each successful index update.
//
// Layout (big-endian):
//
//	header  magic "BTLX" | version u16 | count u32
//	record  path_len u32 | path | size u64 | modified_time u64
//	trailer crc64 over header and records
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/checksum"
	"github.com/starford/beetle/internal/models"
)

// Version is the only format version this package reads or writes.
const Version uint16 = 1

var magic = [4]byte{'B', 'T', 'L', 'X'}

const (
	headerSize      = len(magic) + 2 + 4
	recordFixedSize = 4 + 8 + 8
)

// Encode serializes s. The checksum is computed incrementally as the
// buffer is filled.
func Encode(s models.Snapshot) ([]byte, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return nil, fmt.Errorf("manifest: %d entries exceeds format limit", len(s))
	}
	size := headerSize + checksum.Size
	for _, f := range s {
		if uint64(len(f.Path)) > math.MaxUint32 {
			return nil, fmt.Errorf("manifest: path too long: %d bytes", len(f.Path))
		}
		size += recordFixedSize + len(f.Path)
	}

	digest := checksum.New()
	buf := make([]byte, 0, size)

	buf = append(buf, magic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, Version)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	_, _ = digest.Write(buf)

	for _, f := range s {
		start := len(buf)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Path)))
		buf = append(buf, f.Path...)
		buf = binary.BigEndian.AppendUint64(buf, f.Size)
		buf = binary.BigEndian.AppendUint64(buf, f.ModifiedTime)
		_, _ = digest.Write(buf[start:])
	}

	return binary.BigEndian.AppendUint64(buf, digest.Sum64()), nil
}

// Decode parses data produced by Encode. Every structural problem,
// including a checksum mismatch, is reported as apperr.ErrCorruptManifest
// and no partial snapshot is returned.
func Decode(data []byte) (models.Snapshot, error) {
	if len(data) < headerSize+checksum.Size {
		return nil, corrupt("truncated: %d bytes", len(data))
	}
	body := data[:len(data)-checksum.Size]
	want := binary.BigEndian.Uint64(data[len(body):])
	if got := checksum.Sum(body); got != want {
		return nil, corrupt("checksum mismatch: got %016x, want %016x", got, want)
	}

	if !bytes.Equal(body[:len(magic)], magic[:]) {
		return nil, corrupt("bad magic %q", body[:len(magic)])
	}
	if v := binary.BigEndian.Uint16(body[4:6]); v != Version {
		return nil, corrupt("unsupported version %d", v)
	}
	count := binary.BigEndian.Uint32(body[6:10])

	rest := body[headerSize:]
	if uint64(count)*recordFixedSize > uint64(len(rest)) {
		return nil, corrupt("entry count %d does not fit in %d bytes", count, len(rest))
	}

	out := make(models.Snapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, corrupt("record %d: truncated length", i)
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n)+16 > uint64(len(rest)) {
			return nil, corrupt("record %d: path length %d overruns buffer", i, n)
		}
		p := rest[:n]
		if !utf8.Valid(p) {
			return nil, corrupt("record %d: path is not valid UTF-8", i)
		}
		rest = rest[n:]
		out = append(out, models.FileMetadata{
			Path:         string(p),
			Size:         binary.BigEndian.Uint64(rest[0:8]),
			ModifiedTime: binary.BigEndian.Uint64(rest[8:16]),
		})
		rest = rest[16:]
	}
	if len(rest) != 0 {
		return nil, corrupt("%d trailing bytes", len(rest))
	}
	return out, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("manifest: %s: %w", fmt.Sprintf(format, args...), apperr.ErrCorruptManifest)
}
