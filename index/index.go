// Package index loads a single ".index2" file into an in-memory map from
// the CRC-32/JAMCRC hash of a virtual asset path to its physical location.
package index

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/dervus/xivtool/sqerr"
)

var fileMagic = [8]byte{'S', 'q', 'P', 'a', 'c', 'k', 0, 0}

// Entry is the decoded physical location of one hashed asset path.
type Entry struct {
	DatNum uint8
	Offset uint64
}

// Index is the immutable hash-to-location table loaded from one ".index2"
// file. Safe for concurrent reads once returned from Load.
type Index struct {
	entries map[uint32]Entry
}

// rawEntry mirrors the 8-byte (hash, location) records stored in the
// index2 entries table: two fixed-width little-endian integers. Load does
// not read through this type; it slices the fields out of one buffer.
type rawEntry struct {
	Hash     uint32
	Location uint32
}

// Load parses the header of the ".index2" file at path and reads its flat
// entries table into memory.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sqerr.Wrap(sqerr.IO, err)
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexHeader, err)
	}
	if magic != fileMagic {
		return nil, sqerr.WithDetail(sqerr.IndexHeader, "bad SqPack magic")
	}

	if _, err := f.Seek(0x0C, io.SeekStart); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexSeek, err)
	}
	var headerOffset uint32
	if err := binary.Read(f, binary.LittleEndian, &headerOffset); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexHeader, err)
	}

	if _, err := f.Seek(int64(headerOffset)+8, io.SeekStart); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexSeek, err)
	}
	var entriesOffset, entriesTotalBytes uint32
	if err := binary.Read(f, binary.LittleEndian, &entriesOffset); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexHeader, err)
	}
	if err := binary.Read(f, binary.LittleEndian, &entriesTotalBytes); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexHeader, err)
	}
	entriesCount := entriesTotalBytes / 8

	if _, err := f.Seek(int64(entriesOffset), io.SeekStart); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexSeek, err)
	}

	// Read the whole flat table into a buffer up front, then decode
	// field-by-field from memory: one syscall instead of one per entry.
	buf := make([]byte, int64(entriesCount)*8)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, sqerr.Wrap(sqerr.IndexEntry, err)
	}

	entries := make(map[uint32]Entry, entriesCount)
	for i := uint32(0); i < entriesCount; i++ {
		off := i * 8
		hash := binary.LittleEndian.Uint32(buf[off : off+4])
		location := binary.LittleEndian.Uint32(buf[off+4 : off+8])

		entries[hash] = Entry{
			DatNum: uint8((location & 0x00000007) >> 1),
			Offset: uint64(location&0xFFFFFFF8) << 3,
		}
	}

	return &Index{entries: entries}, nil
}

// Find looks up the physical location of a virtual path, hashing it with
// CRC-32/JAMCRC. The caller is responsible for case: paths are hashed
// exactly as given.
func (ix *Index) Find(path string) (Entry, bool) {
	e, ok := ix.entries[JAMCRC([]byte(path))]
	return e, ok
}

// JAMCRC computes the CRC-32/JAMCRC checksum of b: the bitwise complement
// of the standard (IEEE) CRC-32 of the same bytes.
func JAMCRC(b []byte) uint32 {
	return ^crc32.ChecksumIEEE(b)
}
