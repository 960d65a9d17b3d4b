// Package dat reconstructs one inner file's decoded bytes from a (dat file,
// offset) pointer: it parses the inner-file header, classifies its shape
// (Empty, Plain, Image or Model) and walks the resulting chunk/block stream
// through the block package.
package dat

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/dervus/xivtool/block"
	"github.com/dervus/xivtool/sqerr"
)

// FileType classifies the shape of an inner file's addon and chunk layout.
type FileType uint32

const (
	FileTypeEmpty FileType = 1
	FileTypePlain FileType = 2
	FileTypeModel FileType = 3
	FileTypeImage FileType = 4
)

// ModelChunksNum is the fixed number of parallel chunk slots a Model inner
// file always carries (mesh/material/etc. regions), regardless of how many
// of them are actually populated.
const ModelChunksNum = 11

// FileHeader is the common prefix every inner file starts with, plus its
// type-specific addon.
type FileHeader struct {
	HeaderSize       uint32
	FileType         FileType
	UncompressedSize uint32
	reserved0        uint32
	reserved1        uint32
	ChunksNum        uint32

	Plain *PlainAddon
	Image *ImageAddon
	Model *ModelAddon
}

// rawFileHeader mirrors FileHeader's fixed fields for a single binary.Read
// call; the variable-length addon is read separately once FileType is known.
type rawFileHeader struct {
	HeaderSize       uint32
	FileType         uint32
	UncompressedSize uint32
	Reserved0        uint32
	Reserved1        uint32
	ChunksNum        uint32
}

// PlainChunk describes one chunk of a Plain inner file: a single block at
// chunkOffset relative to the inner file's header_size.
type PlainChunk struct {
	ChunkOffset uint32
	Reserved    uint32
}

// PlainAddon is the FileHeader addon for FileTypePlain.
type PlainAddon struct {
	Chunks []PlainChunk
}

// ImageChunk describes one mipmap level of an Image inner file.
type ImageChunk struct {
	Offset           uint32
	Len              uint32
	UncompressedSize uint32
	BlockStart       uint32
	BlockCount       uint32
}

// ImageHeader carries the pixel-format metadata that follows an Image
// inner file's chunk array. Interpreting Format/pixels is external to this
// package.
type ImageHeader struct {
	Format uint32
	Width  uint16
	Height uint16
	Layers uint16
	Count  uint16
}

// ImageAddon is the FileHeader addon for FileTypeImage.
type ImageAddon struct {
	Chunks []ImageChunk
	Header ImageHeader
}

// ModelChunks holds the five parallel chunk-description arrays a Model
// inner file always carries, each with ModelChunksNum (11) entries: one
// slot per mesh/material/etc. region.
type ModelChunks struct {
	Size       [ModelChunksNum]uint32
	Len        [ModelChunksNum]uint32
	Offset     [ModelChunksNum]uint32
	BlockStart [ModelChunksNum]uint16
	BlockCount [ModelChunksNum]uint16
}

// ModelHeader follows a Model inner file's ModelChunks array.
type ModelHeader struct {
	MeshCount     uint16
	MaterialCount uint16
	reserved      uint32
	BlockSizes    []uint16
}

// ModelAddon is the FileHeader addon for FileTypeModel.
type ModelAddon struct {
	Chunks ModelChunks
	Header ModelHeader
}

// Ptr locates one inner file: a physical dat file path plus a byte offset
// where its FileHeader begins.
type Ptr struct {
	DatPath string
	Offset  uint64
}

// File is the decoded result of reading an inner file: its parsed header
// plus the concatenated, decompressed bytes of every chunk in header order.
// Format-specific reinterpretation (splitting Image into mipmaps, Model
// into its mesh/material buffers) is left to the caller, using the offsets
// recorded in Header.
type File struct {
	Header   FileHeader
	Contents []byte
}

// Read opens p's dat file, seeks to its offset, and decodes the inner file
// in full.
func (p Ptr) Read() (*File, error) {
	f, err := os.Open(p.DatPath)
	if err != nil {
		return nil, sqerr.Wrap(sqerr.IO, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(p.Offset), io.SeekStart); err != nil {
		return nil, sqerr.Wrap(sqerr.DatSeek, err)
	}

	header, err := readFileHeader(f)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(int(header.UncompressedSize))

	switch header.FileType {
	case FileTypeEmpty:
		// no chunks to walk

	case FileTypePlain:
		for _, chunk := range header.Plain.Chunks {
			if err := seekToChunk(f, p.Offset, header.HeaderSize, uint64(chunk.ChunkOffset)); err != nil {
				return nil, err
			}
			if _, err := block.Decode(f, &out); err != nil {
				return nil, err
			}
		}

	case FileTypeImage:
		for _, chunk := range header.Image.Chunks {
			if err := seekToChunk(f, p.Offset, header.HeaderSize, uint64(chunk.Offset)); err != nil {
				return nil, err
			}
			for i := uint32(0); i < chunk.BlockCount; i++ {
				if _, err := block.Decode(f, &out); err != nil {
					return nil, err
				}
			}
		}

	case FileTypeModel:
		chunks := header.Model.Chunks
		for i := 0; i < ModelChunksNum; i++ {
			if err := seekToChunk(f, p.Offset, header.HeaderSize, uint64(chunks.Offset[i])); err != nil {
				return nil, err
			}
			for b := uint16(0); b < chunks.BlockCount[i]; b++ {
				if _, err := block.Decode(f, &out); err != nil {
					return nil, err
				}
			}
		}

	default:
		// Unknown/unimplemented inner-file shape: no addon was parsed, so
		// there is nothing to chunk-walk.
	}

	return &File{Header: header, Contents: out.Bytes()}, nil
}

func seekToChunk(f *os.File, base uint64, headerSize uint32, chunkOffset uint64) error {
	target := int64(base + uint64(headerSize) + chunkOffset)
	if _, err := f.Seek(target, io.SeekStart); err != nil {
		return sqerr.Wrap(sqerr.DatSeek, err)
	}
	return nil
}

func readFileHeader(r io.Reader) (FileHeader, error) {
	var raw rawFileHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
	}

	header := FileHeader{
		HeaderSize:       raw.HeaderSize,
		FileType:         FileType(raw.FileType),
		UncompressedSize: raw.UncompressedSize,
		reserved0:        raw.Reserved0,
		reserved1:        raw.Reserved1,
		ChunksNum:        raw.ChunksNum,
	}

	switch header.FileType {
	case FileTypePlain:
		chunks := make([]PlainChunk, raw.ChunksNum)
		for i := range chunks {
			if err := binary.Read(r, binary.LittleEndian, &chunks[i]); err != nil {
				return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
			}
		}
		header.Plain = &PlainAddon{Chunks: chunks}

	case FileTypeImage:
		chunks := make([]ImageChunk, raw.ChunksNum)
		for i := range chunks {
			if err := binary.Read(r, binary.LittleEndian, &chunks[i]); err != nil {
				return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
			}
		}
		var imgHeader ImageHeader
		if err := binary.Read(r, binary.LittleEndian, &imgHeader); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		header.Image = &ImageAddon{Chunks: chunks, Header: imgHeader}

	case FileTypeModel:
		var chunks ModelChunks
		if err := binary.Read(r, binary.LittleEndian, &chunks.Size); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &chunks.Len); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &chunks.Offset); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &chunks.BlockStart); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &chunks.BlockCount); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}

		var blockCountTotal int
		for _, c := range chunks.BlockCount {
			blockCountTotal += int(c)
		}

		var modelHeader ModelHeader
		if err := binary.Read(r, binary.LittleEndian, &modelHeader.MeshCount); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &modelHeader.MaterialCount); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &modelHeader.reserved); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		modelHeader.BlockSizes = make([]uint16, blockCountTotal)
		if err := binary.Read(r, binary.LittleEndian, &modelHeader.BlockSizes); err != nil {
			return FileHeader{}, sqerr.Wrap(sqerr.DatFileHeader, err)
		}
		header.Model = &ModelAddon{Chunks: chunks, Header: modelHeader}

	case FileTypeEmpty:
		// no addon

	default:
		// Unknown file type: no addon to read. The caller will find an
		// empty Contents buffer.
	}

	return header, nil
}
