package excel

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dervus/xivtool/sqerr"
)

var schemaMagic = [4]byte{'E', 'X', 'H', 'F'}

// Variant selects whether a sheet's row pointers each address exactly one
// row (Normal) or a variable run of sub-records sharing an id (SubRows).
type Variant uint8

const (
	VariantNormal   Variant = 1
	VariantSubRows  Variant = 2
)

// Column is one cell's position and wire type within a row's fixed
// region.
type Column struct {
	Type   ValueType
	Offset uint16
}

// Page is a contiguous id range of a sheet, stored as its own ".exd" file.
type Page struct {
	StartID  uint32
	RowCount uint32
}

// Schema is a parsed ".exh" file: the column layout, page list and
// language list shared by every ".exd" page of one sheet.
type Schema struct {
	DataStride uint16
	Variant    Variant
	RowCount   uint32
	Columns    []Column
	Pages      []Page
	Languages  []Locale
}

// rawSchemaHeader mirrors the fixed-size EXH header fields that precede
// the three variable-length arrays.
type rawSchemaHeader struct {
	Unk0           uint16
	DataStride     uint16
	ColumnCount    uint16
	PageCount      uint16
	LanguageCount  uint16
	Unk1           uint16
	Unk2Padding    uint8
	Variant        uint8
	Unk3           uint16
	RowCount       uint32
	Unk4           uint32
	Unk5           uint32
}

// ReadSchema parses a ".exh" file's bytes: magic, fixed header, then the
// columns/pages/languages arrays, all big-endian.
func ReadSchema(r io.Reader) (*Schema, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, sqerr.Wrap(sqerr.ExhRead, err)
	}
	if magic != schemaMagic {
		return nil, sqerr.WithDetail(sqerr.ExhRead, "bad EXHF magic")
	}

	var raw rawSchemaHeader
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return nil, sqerr.Wrap(sqerr.ExhRead, err)
	}

	columns := make([]Column, raw.ColumnCount)
	for i := range columns {
		var vtype uint16
		var offset uint16
		if err := binary.Read(r, binary.BigEndian, &vtype); err != nil {
			return nil, sqerr.Wrap(sqerr.ExhRead, err)
		}
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, sqerr.Wrap(sqerr.ExhRead, err)
		}
		columns[i] = Column{Type: ValueType(vtype), Offset: offset}
	}

	pages := make([]Page, raw.PageCount)
	for i := range pages {
		if err := binary.Read(r, binary.BigEndian, &pages[i]); err != nil {
			return nil, sqerr.Wrap(sqerr.ExhRead, err)
		}
	}

	languages := make([]Locale, raw.LanguageCount)
	for i := range languages {
		var l uint16
		if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, sqerr.Wrap(sqerr.ExhRead, err)
		}
		languages[i] = Locale(l)
	}

	return &Schema{
		DataStride: raw.DataStride,
		Variant:    Variant(raw.Variant),
		RowCount:   raw.RowCount,
		Columns:    columns,
		Pages:      pages,
		Languages:  languages,
	}, nil
}

// rowPtr is one entry of an EXD page's row-pointer table: a row id and the
// byte offset of that row's header within the page.
type rowPtr struct {
	ID     uint32
	Offset uint32
}

var exdMagic = [4]byte{'E', 'X', 'D', 'F'}

type rawExdHeader struct {
	Version   uint16
	Unk0      uint16
	IndexSize uint32
	Unk1      uint32
	Unk2      uint32
	Unk3      uint32
	Unk4      uint32
	Unk5      uint32
}

// readExdHeader parses a ".exd" file's magic, fixed header and row-pointer
// table from an in-memory buffer.
func readExdHeader(data []byte) ([]rowPtr, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, sqerr.Wrap(sqerr.ExdFileHeader, err)
	}
	if magic != exdMagic {
		return nil, sqerr.WithDetail(sqerr.ExdFileHeader, "bad EXDF magic")
	}

	var raw rawExdHeader
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return nil, sqerr.Wrap(sqerr.ExdFileHeader, err)
	}

	count := raw.IndexSize / 8
	rows := make([]rowPtr, count)
	for i := range rows {
		if err := binary.Read(r, binary.BigEndian, &rows[i]); err != nil {
			return nil, sqerr.Wrap(sqerr.ExdFileHeader, err)
		}
	}
	return rows, nil
}
