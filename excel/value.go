package excel

import "fmt"

// ValueType tags the wire representation of one EXH column, as stored
// big-endian in the schema's column array.
type ValueType uint16

const (
	ValueString ValueType = 0x00
	ValueBool   ValueType = 0x01
	ValueInt8   ValueType = 0x02
	ValueUInt8  ValueType = 0x03
	ValueInt16  ValueType = 0x04
	ValueUInt16 ValueType = 0x05
	ValueInt32  ValueType = 0x06
	ValueUInt32 ValueType = 0x07
	ValueFloat32 ValueType = 0x09
	ValueInt64  ValueType = 0x0A
	ValueUInt64 ValueType = 0x0B

	ValuePackedBool0 ValueType = 0x19
	ValuePackedBool1 ValueType = 0x1A
	ValuePackedBool2 ValueType = 0x1B
	ValuePackedBool3 ValueType = 0x1C
	ValuePackedBool4 ValueType = 0x1D
	ValuePackedBool5 ValueType = 0x1E
	ValuePackedBool6 ValueType = 0x1F
	ValuePackedBool7 ValueType = 0x20
)

// IsPackedBool reports whether t packs a single bit out of a shared byte,
// and if so, which bit (0-7).
func (t ValueType) IsPackedBool() (bit uint, ok bool) {
	if t >= ValuePackedBool0 && t <= ValuePackedBool7 {
		return uint(t - ValuePackedBool0), true
	}
	return 0, false
}

// TypeTag names t the way an external CSV/debug exporter would label a
// column header.
func (t ValueType) TypeTag() string {
	if _, ok := t.IsPackedBool(); ok {
		return "bool"
	}
	switch t {
	case ValueString:
		return "str"
	case ValueBool:
		return "bool"
	case ValueInt8:
		return "i8"
	case ValueUInt8:
		return "u8"
	case ValueInt16:
		return "i16"
	case ValueUInt16:
		return "u16"
	case ValueInt32:
		return "i32"
	case ValueUInt32:
		return "u32"
	case ValueFloat32:
		return "f32"
	case ValueInt64:
		return "i64"
	case ValueUInt64:
		return "u64"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint16(t))
	}
}

// Value is a decoded cell. Each ValueType above maps to exactly one
// concrete implementation; callers type-switch on the concrete type or use
// TypeTag for generic display.
type Value interface {
	TypeTag() string
}

type BoolValue bool
type Int8Value int8
type Int16Value int16
type Int32Value int32
type Int64Value int64
type UInt8Value uint8
type UInt16Value uint16
type UInt32Value uint32
type UInt64Value uint64
type Float32Value float32
type StringValue string

func (BoolValue) TypeTag() string    { return "bool" }
func (Int8Value) TypeTag() string    { return "i8" }
func (Int16Value) TypeTag() string   { return "i16" }
func (Int32Value) TypeTag() string   { return "i32" }
func (Int64Value) TypeTag() string   { return "i64" }
func (UInt8Value) TypeTag() string   { return "u8" }
func (UInt16Value) TypeTag() string  { return "u16" }
func (UInt32Value) TypeTag() string  { return "u32" }
func (UInt64Value) TypeTag() string  { return "u64" }
func (Float32Value) TypeTag() string { return "f32" }
func (StringValue) TypeTag() string  { return "str" }
