// Package tlv implements the big-endian type-length-value field
// encoding used inside instrument protocol frames.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrBadLength        = errors.New("tlv: invalid value length")
	ErrMissingField     = errors.New("tlv: missing field")
)

// Type IDs for field values.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeF64    uint8 = 8
)

// Field is one encoded or decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Constructors.

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U16(id uint16, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Field{ID: id, Type: TypeU16, Value: buf}
}

func U32(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

func U64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func F64(id uint16, v float64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return Field{ID: id, Type: TypeF64, Value: buf}
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

// Typed accessors.

func (f Field) U8() (uint8, error) {
	if f.Type != TypeU8 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 1 {
		return 0, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	return f.Value[0], nil
}

func (f Field) U16() (uint16, error) {
	if f.Type != TypeU16 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 2 {
		return 0, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	return binary.BigEndian.Uint16(f.Value), nil
}

func (f Field) U32() (uint32, error) {
	if f.Type != TypeU32 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 4 {
		return 0, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) U64() (uint64, error) {
	if f.Type != TypeU64 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) F64() (float64, error) {
	if f.Type != TypeF64 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(f.Value)), nil
}

func (f Field) Bool() (bool, error) {
	if f.Type != TypeBool {
		return false, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 1 {
		return false, fmt.Errorf("%w: field %d", ErrBadLength, f.ID)
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: field %d invalid bool", ErrBadLength, f.ID)
	}
}

func (f Field) String() (string, error) {
	if f.Type != TypeString {
		return "", fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	return string(f.Value), nil
}

func (f Field) Bytes() ([]byte, error) {
	if f.Type != TypeBytes {
		return nil, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}
