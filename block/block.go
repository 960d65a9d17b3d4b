// Package block decodes the framed compression unit SqPack data files are
// built from: a 16-byte header followed by either raw-deflate or verbatim
// payload bytes, with optional trailing padding to a 128-byte boundary.
package block

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/dervus/xivtool/sqerr"
)

const (
	magic = 0x00000010

	// compressionThreshold is the size_compressed value at or above which a
	// block's payload is stored verbatim rather than deflated.
	compressionThreshold = 32000

	// paddingUnit is the byte boundary some archives pad each block's
	// (header + payload) span up to.
	paddingUnit = 128
)

type header struct {
	Magic            uint32
	Reserved         uint32
	SizeCompressed   uint32
	SizeUncompressed uint32
}

// Decode reads exactly one block from r and writes its decoded bytes to w,
// returning the number of uncompressed bytes written. It also consumes any
// trailing padding up to the next 128-byte boundary (stopping early at end
// of input), so callers positioned immediately after this call are ready to
// read the next block when the source archive pads blocks. If a block's
// (header + payload) span is not a multiple of 128 and the next block
// follows it unpadded, the skipped bytes belong to that next block.
func Decode(r io.Reader, w io.Writer) (int64, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return 0, sqerr.Wrap(sqerr.DatBlockHeader, err)
	}
	if h.Magic != magic {
		return 0, sqerr.WithDetail(sqerr.DatBlockHeader, "bad block magic")
	}

	var payloadLen uint32
	var n int64
	if h.SizeCompressed < compressionThreshold {
		payloadLen = h.SizeCompressed
		src := io.LimitReader(r, int64(h.SizeCompressed))
		dec := flate.NewReader(src)
		defer dec.Close()

		written, err := io.Copy(w, dec)
		if err != nil {
			return written, sqerr.Wrap(sqerr.DatBlockDecoding, err)
		}
		if written != int64(h.SizeUncompressed) {
			return written, sqerr.WithDetail(sqerr.DatBlockDecoding, "decoded size mismatch")
		}
		n = written
	} else {
		payloadLen = h.SizeUncompressed
		written, err := io.CopyN(w, r, int64(h.SizeUncompressed))
		if err != nil {
			return written, sqerr.Wrap(sqerr.DatBlockDecoding, err)
		}
		n = written
	}

	consumed := 16 + int64(payloadLen)
	if rem := consumed % paddingUnit; rem != 0 {
		pad := paddingUnit - rem
		if _, err := io.CopyN(io.Discard, r, pad); err != nil && err != io.EOF {
			return n, sqerr.Wrap(sqerr.DatBlockDecoding, err)
		}
	}

	return n, nil
}
