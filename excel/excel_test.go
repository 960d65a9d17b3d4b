package excel_test

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dervus/xivtool/dat"
	"github.com/dervus/xivtool/excel"
	"github.com/dervus/xivtool/sqerr"
)

// fakeFinder resolves virtual paths to dat pointers from a fixed map, the
// same contract *xivtool.SqPack satisfies for excel.Finder. A missing path
// returns a nil pointer and no error, matching a pack with no index entry
// for it.
type fakeFinder map[string]*dat.Ptr

func (f fakeFinder) Find(path string) (*dat.Ptr, error) {
	return f[path], nil
}

// appendBlock writes one framed, raw-deflate-compressed block to buf.
func appendBlock(t *testing.T, buf *bytes.Buffer, payload []byte) {
	t.Helper()

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(0x10)))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(0)))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(compressed.Len())))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(len(payload))))
	_, err = buf.Write(compressed.Bytes())
	require.NoError(t, err)
}

// writePlainInnerFile wraps payload as a single-chunk Plain inner file in
// its own fresh dat file on disk and returns a pointer to it.
func writePlainInnerFile(t *testing.T, payload []byte) *dat.Ptr {
	t.Helper()

	var chunk bytes.Buffer
	appendBlock(t, &chunk, payload)

	const headerSize = 32 // fixed header (24) + one plain-chunk record (8)
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(headerSize))
	binary.Write(&out, binary.LittleEndian, uint32(dat.FileTypePlain))
	binary.Write(&out, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint32(1))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	binary.Write(&out, binary.LittleEndian, uint32(0))
	out.Write(chunk.Bytes())

	dir := t.TempDir()
	path := filepath.Join(dir, "0a0000.win32.dat0")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))

	return &dat.Ptr{DatPath: path, Offset: 0}
}

// buildSchema serializes an EXH file matching ReadSchema's wire layout.
func buildSchema(t *testing.T, dataStride uint16, variant excel.Variant, columns []excel.Column, pages []excel.Page, languages []excel.Locale) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("EXHF")

	binary.Write(&buf, binary.BigEndian, uint16(0))               // Unk0
	binary.Write(&buf, binary.BigEndian, dataStride)
	binary.Write(&buf, binary.BigEndian, uint16(len(columns)))
	binary.Write(&buf, binary.BigEndian, uint16(len(pages)))
	binary.Write(&buf, binary.BigEndian, uint16(len(languages)))
	binary.Write(&buf, binary.BigEndian, uint16(0)) // Unk1
	buf.WriteByte(0)                                 // Unk2Padding
	buf.WriteByte(byte(variant))
	binary.Write(&buf, binary.BigEndian, uint16(0)) // Unk3
	binary.Write(&buf, binary.BigEndian, uint32(0)) // RowCount
	binary.Write(&buf, binary.BigEndian, uint32(0)) // Unk4
	binary.Write(&buf, binary.BigEndian, uint32(0)) // Unk5

	for _, c := range columns {
		binary.Write(&buf, binary.BigEndian, uint16(c.Type))
		binary.Write(&buf, binary.BigEndian, c.Offset)
	}
	for _, p := range pages {
		binary.Write(&buf, binary.BigEndian, p.StartID)
		binary.Write(&buf, binary.BigEndian, p.RowCount)
	}
	for _, l := range languages {
		binary.Write(&buf, binary.BigEndian, uint16(l))
	}

	return buf.Bytes()
}

// exdRow describes one row (or subrow group) to embed in a synthetic EXD
// page: a row id, plus raw subrow payloads (one payload = one subrow's
// [subid]+cells bytes for SubRows sheets, or the single row's cells bytes
// for Normal sheets).
type exdRow struct {
	id       uint32
	subrows  [][]byte // already includes the 2-byte subid prefix if SubRows
	subCount uint16   // stored subrow_count field; ignored by Normal sheets
}

// buildExd serializes an EXD page's magic, fixed header, row-pointer table
// and row bodies matching readExdHeader's (and the row iterator's) wire
// layout.
func buildExd(t *testing.T, rows []exdRow) []byte {
	t.Helper()

	indexSize := len(rows) * 8

	var header bytes.Buffer
	header.WriteString("EXDF")
	binary.Write(&header, binary.BigEndian, uint16(2)) // Version
	binary.Write(&header, binary.BigEndian, uint16(0)) // Unk0
	binary.Write(&header, binary.BigEndian, uint32(indexSize))
	for i := 0; i < 5; i++ {
		binary.Write(&header, binary.BigEndian, uint32(0))
	}

	bodyStart := header.Len() + indexSize

	var ptrs bytes.Buffer
	var body bytes.Buffer
	for _, row := range rows {
		offset := bodyStart + body.Len()
		binary.Write(&ptrs, binary.BigEndian, row.id)
		binary.Write(&ptrs, binary.BigEndian, uint32(offset))

		var size uint32
		for _, sr := range row.subrows {
			size += uint32(len(sr))
		}
		binary.Write(&body, binary.BigEndian, size)
		binary.Write(&body, binary.BigEndian, row.subCount)
		for _, sr := range row.subrows {
			body.Write(sr)
		}
	}

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.Write(ptrs.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestReadTableNormalVariant(t *testing.T) {
	columns := []excel.Column{
		{Type: excel.ValueString, Offset: 0},
		{Type: excel.ValueUInt32, Offset: 4},
		{Type: excel.ValueBool, Offset: 8},
	}
	const dataStride = 9

	schemaBytes := buildSchema(t, dataStride, excel.VariantNormal, columns,
		[]excel.Page{{StartID: 0, RowCount: 2}},
		[]excel.Locale{excel.LocaleNone})

	cellsFor := func(name string, count uint32, flag bool) []byte {
		var b bytes.Buffer
		binary.Write(&b, binary.BigEndian, uint32(0)) // string heap offset
		binary.Write(&b, binary.BigEndian, count)
		if flag {
			b.WriteByte(1)
		} else {
			b.WriteByte(0)
		}
		b.WriteString(name)
		b.WriteByte(0)
		return b.Bytes()
	}

	exdBytes := buildExd(t, []exdRow{
		{id: 10, subrows: [][]byte{cellsFor("Hyur", 1, true)}},
		{id: 11, subrows: [][]byte{cellsFor("Elezen", 2, false)}},
	})

	finder := fakeFinder{
		"exd/testsheet.exh":  writePlainInnerFile(t, schemaBytes),
		"exd/testsheet_0.exd": writePlainInnerFile(t, exdBytes),
	}

	reader, err := excel.ReadTable(finder, "TestSheet", excel.LocaleNone)
	require.NoError(t, err)

	// Normal sheets: subrow_count never multiplies the hint, so low == high.
	low, high := reader.Remaining()
	require.Equal(t, uint64(2), low)
	require.Equal(t, uint64(2), high)

	row, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, uint32(10), row.ID)
	require.False(t, row.HasSubID)
	require.Equal(t, excel.StringValue("Hyur"), row.Cells[0])
	require.Equal(t, excel.UInt32Value(1), row.Cells[1])
	require.Equal(t, excel.BoolValue(true), row.Cells[2])

	low, high = reader.Remaining()
	require.Equal(t, uint64(1), low)
	require.Equal(t, uint64(1), high)

	row, err = reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, uint32(11), row.ID)
	require.Equal(t, excel.StringValue("Elezen"), row.Cells[0])
	require.Equal(t, excel.UInt32Value(2), row.Cells[1])
	require.Equal(t, excel.BoolValue(false), row.Cells[2])

	row, err = reader.Next()
	require.NoError(t, err)
	require.Nil(t, row)

	low, high = reader.Remaining()
	require.Zero(t, low)
	require.Zero(t, high)
}

func TestReadTableSubRowsVariant(t *testing.T) {
	columns := []excel.Column{
		{Type: excel.ValueUInt32, Offset: 0},
	}
	const dataStride = 4

	schemaBytes := buildSchema(t, dataStride, excel.VariantSubRows, columns,
		[]excel.Page{{StartID: 0, RowCount: 1}},
		[]excel.Locale{excel.LocaleNone})

	subrow := func(subID uint16, value uint32) []byte {
		var b bytes.Buffer
		binary.Write(&b, binary.BigEndian, subID)
		binary.Write(&b, binary.BigEndian, value)
		return b.Bytes()
	}

	exdBytes := buildExd(t, []exdRow{
		{id: 5, subCount: 2, subrows: [][]byte{subrow(0, 100), subrow(1, 200)}},
	})

	finder := fakeFinder{
		"exd/testsheet.exh":  writePlainInnerFile(t, schemaBytes),
		"exd/testsheet_0.exd": writePlainInnerFile(t, exdBytes),
	}

	reader, err := excel.ReadTable(finder, "TestSheet", excel.LocaleNone)
	require.NoError(t, err)

	// SubRows sheets: the upper bound saturates at 65535 subrows per
	// remaining row pointer, per the row header's u16 subrow_count field.
	low, high := reader.Remaining()
	require.Equal(t, uint64(1), low)
	require.Equal(t, uint64(65535), high)

	row, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, row.HasSubID)
	require.Equal(t, uint32(5), row.ID)
	require.Equal(t, uint16(0), row.SubID)
	require.Equal(t, excel.UInt32Value(100), row.Cells[0])

	// Still mid-row: one row pointer (this one) remains unconsumed.
	low, high = reader.Remaining()
	require.Equal(t, uint64(1), low)
	require.Equal(t, uint64(65535), high)

	row, err = reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, uint16(1), row.SubID)
	require.Equal(t, excel.UInt32Value(200), row.Cells[0])

	low, high = reader.Remaining()
	require.Zero(t, low)
	require.Zero(t, high)

	row, err = reader.Next()
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestReadTableLocaleFallsBackToFirstListed(t *testing.T) {
	columns := []excel.Column{{Type: excel.ValueUInt8, Offset: 0}}
	schemaBytes := buildSchema(t, 1, excel.VariantNormal, columns,
		[]excel.Page{{StartID: 0, RowCount: 1}},
		[]excel.Locale{excel.LocaleJapanese, excel.LocaleEnglish})

	exdBytes := buildExd(t, []exdRow{
		{id: 1, subrows: [][]byte{{42}}},
	})

	// Only the Japanese page exists; requesting German (unlisted) must fall
	// back to the sheet's first listed language rather than LocaleNone.
	finder := fakeFinder{
		"exd/testsheet.exh":     writePlainInnerFile(t, schemaBytes),
		"exd/testsheet_0_ja.exd": writePlainInnerFile(t, exdBytes),
	}

	reader, err := excel.ReadTable(finder, "TestSheet", excel.LocaleGerman)
	require.NoError(t, err)

	row, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, excel.UInt8Value(42), row.Cells[0])
}

func TestReadTablePackedBoolUsesSingleBitMask(t *testing.T) {
	// Exercises the corrected single-bit mask (1<<K), not the original
	// source's buggy 1..8 sequence: a byte of 0b00000101 should read bit 0
	// and bit 2 as set, and every other bit (including bit 1) as clear.
	columns := []excel.Column{
		{Type: excel.ValuePackedBool0, Offset: 0},
		{Type: excel.ValuePackedBool1, Offset: 0},
		{Type: excel.ValuePackedBool2, Offset: 0},
	}
	schemaBytes := buildSchema(t, 1, excel.VariantNormal, columns,
		[]excel.Page{{StartID: 0, RowCount: 1}},
		[]excel.Locale{excel.LocaleNone})

	exdBytes := buildExd(t, []exdRow{
		{id: 1, subrows: [][]byte{{0b00000101}}},
	})

	finder := fakeFinder{
		"exd/testsheet.exh":   writePlainInnerFile(t, schemaBytes),
		"exd/testsheet_0.exd": writePlainInnerFile(t, exdBytes),
	}

	reader, err := excel.ReadTable(finder, "TestSheet", excel.LocaleNone)
	require.NoError(t, err)

	row, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, excel.BoolValue(true), row.Cells[0])
	require.Equal(t, excel.BoolValue(false), row.Cells[1])
	require.Equal(t, excel.BoolValue(true), row.Cells[2])
}

func TestReadTableUnsupportedValueTypeFailsDeserialization(t *testing.T) {
	// ValueType 0x08 is the unexplained gap between UInt32 (0x07) and
	// Float32 (0x09); it must fail rather than silently decode garbage.
	columns := []excel.Column{{Type: excel.ValueType(0x08), Offset: 0}}
	schemaBytes := buildSchema(t, 4, excel.VariantNormal, columns,
		[]excel.Page{{StartID: 0, RowCount: 1}},
		[]excel.Locale{excel.LocaleNone})

	exdBytes := buildExd(t, []exdRow{
		{id: 1, subrows: [][]byte{{0, 0, 0, 0}}},
	})

	finder := fakeFinder{
		"exd/testsheet.exh":   writePlainInnerFile(t, schemaBytes),
		"exd/testsheet_0.exd": writePlainInnerFile(t, exdBytes),
	}

	reader, err := excel.ReadTable(finder, "TestSheet", excel.LocaleNone)
	require.NoError(t, err)

	row, err := reader.Next()
	require.Error(t, err)
	require.Nil(t, row)
	require.True(t, errors.Is(err, sqerr.New(sqerr.ExdDeserialization)))

	// The iterator terminates after a decode error rather than retrying.
	row, err = reader.Next()
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestReadTableMissingExhReturnsNotFound(t *testing.T) {
	_, err := excel.ReadTable(fakeFinder{}, "Missing", excel.LocaleNone)
	require.Error(t, err)
	require.True(t, errors.Is(err, sqerr.New(sqerr.ExhNotFound)))
}

func TestBindTypedStruct(t *testing.T) {
	row := &excel.Row{
		ID: 7,
		Cells: []excel.Value{
			excel.StringValue("Limsa Lominsa"),
			excel.UInt32Value(3),
			excel.BoolValue(true),
		},
	}

	var dest struct {
		ID    uint32
		Name  string
		Count uint32
		Flag  bool
	}
	require.NoError(t, row.Bind(&dest))
	require.Equal(t, uint32(7), dest.ID)
	require.Equal(t, "Limsa Lominsa", dest.Name)
	require.Equal(t, uint32(3), dest.Count)
	require.True(t, dest.Flag)
}

func TestBindNotEnoughColumns(t *testing.T) {
	row := &excel.Row{ID: 1, Cells: []excel.Value{excel.UInt8Value(1)}}

	var dest struct {
		ID      uint32
		A       uint8
		Missing string
		AlsoGone uint32
	}
	err := row.Bind(&dest)
	require.Error(t, err)
	require.True(t, errors.Is(err, sqerr.New(sqerr.NotEnoughColumns)))
}
