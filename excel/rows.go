// Package excel interprets a sheet's EXH schema and EXD page files and
// iterates its rows (or subrows), decoding each column's cell by its
// declared wire type.
package excel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/dervus/xivtool/dat"
	"github.com/dervus/xivtool/sqerr"
)

// Finder resolves a virtual asset path to a pointer at its bytes, the same
// contract *xivtool.SqPack satisfies. Defining it here (rather than
// importing the root package) keeps excel usable against any repository
// implementation that can answer Find.
type Finder interface {
	Find(path string) (*dat.Ptr, error)
}

const rowHeaderSize = 6 // (size: u32, subrow_count: u16)

// maxSubrowCount is the largest value a u16 subrow_count field can hold; it
// bounds the upper end of Remaining's size hint for SubRows sheets, since a
// remaining row pointer could in principle expand to that many subrows.
const maxSubrowCount = 65535

// Row is one decoded EXD row (or subrow): the shared id, an optional
// sub-id for SubRows sheets, and the cell values in column-declaration
// order.
type Row struct {
	ID       uint32
	SubID    uint16
	HasSubID bool
	Cells    []Value
}

// Reader is a single-pass, forward-only iterator over every row (or
// subrow) of one sheet, across all of its pages, in one requested locale.
type Reader struct {
	repo    Finder
	schema  *Schema
	pages   []*dat.Ptr

	pageIdx     int
	exdData     []byte
	rowPtrs     []rowPtr
	rowIdx      int
	subrowIdx   uint16
	subrowCount uint16
	done        bool
}

// ReadSchemaFor reads and parses the EXH schema for basePath (e.g. "Race"),
// without opening any EXD page.
func ReadSchemaFor(repo Finder, basePath string) (*Schema, error) {
	basePath = strings.ToLower(basePath)
	exhPath := fmt.Sprintf("exd/%s.exh", basePath)

	ptr, err := repo.Find(exhPath)
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, sqerr.WithDetail(sqerr.ExhNotFound, exhPath)
	}

	file, err := ptr.Read()
	if err != nil {
		return nil, sqerr.Wrap(sqerr.ExhRead, err)
	}

	return ReadSchema(bytes.NewReader(file.Contents))
}

// ReadTable opens basePath's sheet (e.g. "Race") in the given locale,
// falling back to the sheet's first listed language, or to LocaleNone if
// the sheet declares none, and returns a Reader over every page in order.
func ReadTable(repo Finder, basePath string, locale Locale) (*Reader, error) {
	basePath = strings.ToLower(basePath)

	schema, err := ReadSchemaFor(repo, basePath)
	if err != nil {
		return nil, err
	}

	effective := LocaleNone
	found := false
	for _, l := range schema.Languages {
		if l == locale {
			effective = l
			found = true
			break
		}
	}
	if !found && len(schema.Languages) > 0 {
		effective = schema.Languages[0]
	}

	pages := make([]*dat.Ptr, len(schema.Pages))
	for i, page := range schema.Pages {
		exdPath := fmt.Sprintf("exd/%s_%d%s.exd", basePath, page.StartID, effective.Suffix())
		ptr, err := repo.Find(exdPath)
		if err != nil {
			return nil, err
		}
		if ptr == nil {
			return nil, sqerr.WithDetail(sqerr.ExdNotFound, exdPath)
		}
		pages[i] = ptr
	}

	return &Reader{repo: repo, schema: schema, pages: pages}, nil
}

// Schema returns the sheet's parsed EXH schema.
func (r *Reader) Schema() *Schema {
	return r.schema
}

// Remaining reports a [low, high] bound on how many more values Next will
// yield before the iterator is exhausted. low counts the row pointers not
// yet consumed across the current and remaining pages (exact for Normal
// sheets, since each pointer yields exactly one row); high widens that to
// account for SubRows sheets, where each remaining pointer could still
// expand into as many as maxSubrowCount subrows. For Normal sheets low ==
// high, since subrow_count is ignored there. Once the iterator is
// exhausted, Remaining returns (0, 0).
func (r *Reader) Remaining() (low, high uint64) {
	if r.done {
		return 0, 0
	}

	var pointers uint64
	for i := r.pageIdx; i < len(r.schema.Pages); i++ {
		if i == r.pageIdx && r.exdData != nil {
			pointers += uint64(len(r.rowPtrs) - r.rowIdx)
		} else {
			pointers += uint64(r.schema.Pages[i].RowCount)
		}
	}

	if r.schema.Variant == VariantSubRows {
		return pointers, pointers * maxSubrowCount
	}
	return pointers, pointers
}

// loadPage lazily reads the next page's EXD bytes and row-pointer table.
// Returns false once every page has been consumed.
func (r *Reader) loadPage() (bool, error) {
	if r.pageIdx >= len(r.pages) {
		return false, nil
	}

	file, err := r.pages[r.pageIdx].Read()
	if err != nil {
		return false, sqerr.Wrap(sqerr.ExdSeek, err)
	}

	rows, err := readExdHeader(file.Contents)
	if err != nil {
		return false, err
	}

	r.exdData = file.Contents
	r.rowPtrs = rows
	r.rowIdx = 0
	r.subrowIdx = 0
	r.subrowCount = 0
	return true, nil
}

// Next returns the next row (or subrow) in the sheet. It returns (nil,
// nil) once every page is exhausted. On a decode error it returns the
// error and terminates the iterator: subsequent calls also return (nil,
// nil).
func (r *Reader) Next() (*Row, error) {
	for {
		if r.done {
			return nil, nil
		}

		if r.exdData == nil {
			ok, err := r.loadPage()
			if err != nil {
				r.done = true
				return nil, err
			}
			if !ok {
				r.done = true
				return nil, nil
			}
		}

		if r.rowIdx >= len(r.rowPtrs) {
			r.exdData = nil
			r.pageIdx++
			continue
		}

		rp := r.rowPtrs[r.rowIdx]

		if r.subrowCount == 0 {
			count, err := r.readRowHeader(rp)
			if err != nil {
				r.done = true
				return nil, err
			}
			if count == 0 {
				r.rowIdx++
				continue
			}
			r.subrowCount = count
		}

		row, err := r.decodeSubrow(rp, r.subrowIdx)
		r.subrowIdx++
		if r.subrowIdx >= r.subrowCount {
			r.rowIdx++
			r.subrowIdx = 0
			r.subrowCount = 0
		}
		if err != nil {
			r.done = true
			return nil, err
		}
		return row, nil
	}
}

func (r *Reader) readRowHeader(rp rowPtr) (uint16, error) {
	if int(rp.Offset)+rowHeaderSize > len(r.exdData) {
		return 0, sqerr.New(sqerr.ExdRowHeader)
	}
	// size field (first 4 bytes) isn't needed to walk the row stream.
	count := binary.BigEndian.Uint16(r.exdData[int(rp.Offset)+4:])

	if r.schema.Variant == VariantNormal {
		return 1, nil
	}
	return count, nil
}

func (r *Reader) decodeSubrow(rp rowPtr, k uint16) (*Row, error) {
	hasSubID := r.schema.Variant == VariantSubRows

	var subOffset uint32
	if hasSubID {
		subOffset = (2 + uint32(r.schema.DataStride)) * uint32(k)
	}

	pos := int(rp.Offset) + rowHeaderSize + int(subOffset)

	var subID uint16
	if hasSubID {
		if pos+2 > len(r.exdData) {
			return nil, sqerr.New(sqerr.ExdSubRowHeader)
		}
		subID = binary.BigEndian.Uint16(r.exdData[pos:])
		pos += 2
	}

	cellBase := uint32(pos)
	cells := make([]Value, len(r.schema.Columns))
	for i, col := range r.schema.Columns {
		v, err := decodeCell(r.exdData, r.schema, col, cellBase)
		if err != nil {
			return nil, err
		}
		cells[i] = v
	}

	return &Row{ID: rp.ID, SubID: subID, HasSubID: hasSubID, Cells: cells}, nil
}

var cellWidth = map[ValueType]int{
	ValueBool:    1,
	ValueInt8:    1,
	ValueUInt8:   1,
	ValueInt16:   2,
	ValueUInt16:  2,
	ValueInt32:   4,
	ValueUInt32:  4,
	ValueFloat32: 4,
	ValueInt64:   8,
	ValueUInt64:  8,
	ValueString:  4, // the u32 heap offset; the string itself lives elsewhere
}

func decodeCell(data []byte, schema *Schema, col Column, cellBase uint32) (Value, error) {
	pos := int(cellBase) + int(col.Offset)

	if bit, ok := col.Type.IsPackedBool(); ok {
		if pos+1 > len(data) {
			return nil, sqerr.New(sqerr.ExdDeserialization)
		}
		return BoolValue(data[pos]&(1<<bit) != 0), nil
	}

	width, known := cellWidth[col.Type]
	if !known {
		// Includes the 0x08 gap between UInt32 and Float32, which has no
		// known meaning in any observed schema.
		return nil, sqerr.WithDetail(sqerr.ExdDeserialization, fmt.Sprintf("unsupported value type 0x%02x", uint16(col.Type)))
	}
	if pos+width > len(data) {
		return nil, sqerr.New(sqerr.ExdDeserialization)
	}

	switch col.Type {
	case ValueString:
		strOffset := binary.BigEndian.Uint32(data[pos:])
		abs := int(cellBase) + int(schema.DataStride) + int(strOffset)
		if abs > len(data) {
			return nil, sqerr.New(sqerr.ExdDeserialization)
		}
		end := bytes.IndexByte(data[abs:], 0)
		if end < 0 {
			end = len(data) - abs
		}
		return StringValue(data[abs : abs+end]), nil
	case ValueBool:
		return BoolValue(data[pos] != 0), nil
	case ValueInt8:
		return Int8Value(int8(data[pos])), nil
	case ValueUInt8:
		return UInt8Value(data[pos]), nil
	case ValueInt16:
		return Int16Value(int16(binary.BigEndian.Uint16(data[pos:]))), nil
	case ValueUInt16:
		return UInt16Value(binary.BigEndian.Uint16(data[pos:])), nil
	case ValueInt32:
		return Int32Value(int32(binary.BigEndian.Uint32(data[pos:]))), nil
	case ValueUInt32:
		return UInt32Value(binary.BigEndian.Uint32(data[pos:])), nil
	case ValueInt64:
		return Int64Value(int64(binary.BigEndian.Uint64(data[pos:]))), nil
	case ValueUInt64:
		return UInt64Value(binary.BigEndian.Uint64(data[pos:])), nil
	case ValueFloat32:
		return Float32Value(math.Float32frombits(binary.BigEndian.Uint32(data[pos:]))), nil
	default:
		return nil, sqerr.New(sqerr.ExdDeserialization)
	}
}

// Bind positionally binds a row's stream (id, [subid], cell0, cell1, ...)
// into dst's exported fields, in declaration order, converting each cell
// to whatever numeric/string/bool kind the field declares. dst must be a
// non-nil pointer to a struct. If dst declares more fields than the row
// has values for, Bind fails with sqerr.NotEnoughColumns.
func (row *Row) Bind(dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("excel: Bind target must be a non-nil pointer to struct")
	}
	elem := v.Elem()

	stream := make([]interface{}, 0, 2+len(row.Cells))
	stream = append(stream, row.ID)
	if row.HasSubID {
		stream = append(stream, row.SubID)
	}
	for _, c := range row.Cells {
		stream = append(stream, c)
	}

	numField := elem.NumField()
	if numField > len(stream) {
		return sqerr.New(sqerr.NotEnoughColumns)
	}

	for i := 0; i < numField; i++ {
		field := elem.Field(i)
		if !field.CanSet() {
			continue
		}
		if err := assignCell(field, stream[i]); err != nil {
			return err
		}
	}
	return nil
}

func assignCell(field reflect.Value, val interface{}) error {
	switch x := val.(type) {
	case uint32:
		return assignUint(field, uint64(x))
	case uint16:
		return assignUint(field, uint64(x))
	case BoolValue:
		return assignBool(field, bool(x))
	case Int8Value:
		return assignInt(field, int64(x))
	case Int16Value:
		return assignInt(field, int64(x))
	case Int32Value:
		return assignInt(field, int64(x))
	case Int64Value:
		return assignInt(field, int64(x))
	case UInt8Value:
		return assignUint(field, uint64(x))
	case UInt16Value:
		return assignUint(field, uint64(x))
	case UInt32Value:
		return assignUint(field, uint64(x))
	case UInt64Value:
		return assignUint(field, uint64(x))
	case Float32Value:
		return assignFloat(field, float64(x))
	case StringValue:
		return assignString(field, string(x))
	default:
		return fmt.Errorf("excel: unsupported cell value %T", val)
	}
}

func assignInt(field reflect.Value, n int64) error {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		field.SetFloat(float64(n))
	default:
		return fmt.Errorf("excel: cannot bind integer cell into %s", field.Kind())
	}
	return nil
}

func assignUint(field reflect.Value, n uint64) error {
	switch field.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.SetUint(n)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.SetInt(int64(n))
	case reflect.Float32, reflect.Float64:
		field.SetFloat(float64(n))
	default:
		return fmt.Errorf("excel: cannot bind unsigned cell into %s", field.Kind())
	}
	return nil
}

func assignFloat(field reflect.Value, f float64) error {
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		field.SetFloat(f)
	default:
		return fmt.Errorf("excel: cannot bind float cell into %s", field.Kind())
	}
	return nil
}

func assignBool(field reflect.Value, b bool) error {
	if field.Kind() != reflect.Bool {
		return fmt.Errorf("excel: cannot bind bool cell into %s", field.Kind())
	}
	field.SetBool(b)
	return nil
}

func assignString(field reflect.Value, s string) error {
	if field.Kind() != reflect.String {
		return fmt.Errorf("excel: cannot bind string cell into %s", field.Kind())
	}
	field.SetString(s)
	return nil
}
