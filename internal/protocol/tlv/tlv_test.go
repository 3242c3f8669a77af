package tlv

import (
	"errors"
	"testing"
)

func TestEncodeDecodeFields(t *testing.T) {
	fields := []Field{
		U8(1, 7),
		U16(2, 0xBEEF),
		U32(3, 0xDEADBEEF),
		U64(4, 1<<40),
		Bool(5, true),
		String(6, "EUCENTRIC"),
		Bytes(7, []byte{0x00, 0x01, 0x02}),
		F64(8, -1.75e-6),
	}
	payload := EncodeFields(fields)

	decoded, err := DecodeFields(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(fields) {
		t.Fatalf("field count: got %d want %d", len(decoded), len(fields))
	}

	if v, err := decoded[0].U8(); err != nil || v != 7 {
		t.Fatalf("u8: %v %v", v, err)
	}
	if v, err := decoded[1].U16(); err != nil || v != 0xBEEF {
		t.Fatalf("u16: %v %v", v, err)
	}
	if v, err := decoded[2].U32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("u32: %v %v", v, err)
	}
	if v, err := decoded[3].U64(); err != nil || v != 1<<40 {
		t.Fatalf("u64: %v %v", v, err)
	}
	if v, err := decoded[4].Bool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := decoded[5].String(); err != nil || v != "EUCENTRIC" {
		t.Fatalf("string: %q %v", v, err)
	}
	if v, err := decoded[6].Bytes(); err != nil || len(v) != 3 {
		t.Fatalf("bytes: %v %v", v, err)
	}
	if v, err := decoded[7].F64(); err != nil || v != -1.75e-6 {
		t.Fatalf("f64: %v %v", v, err)
	}
}

func TestDecodeFieldsTruncatedHeader(t *testing.T) {
	payload := EncodeField(U32(1, 42))
	if _, err := DecodeFields(payload[:HeaderLen-2]); !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected short header, got %v", err)
	}
}

func TestDecodeFieldsTruncatedValue(t *testing.T) {
	payload := EncodeField(U64(9, 1))
	if _, err := DecodeFields(payload[:len(payload)-3]); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected short value, got %v", err)
	}
}

func TestTypedAccessorMismatch(t *testing.T) {
	f := String(3, "not a number")
	if _, err := f.U32(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	bad := Field{ID: 4, Type: TypeU64, Value: []byte{1, 2, 3}}
	if _, err := bad.U64(); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected bad length, got %v", err)
	}
	weird := Field{ID: 5, Type: TypeBool, Value: []byte{2}}
	if _, err := weird.Bool(); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected invalid bool, got %v", err)
	}
}

func TestGetField(t *testing.T) {
	fields := []Field{U8(1, 1), U8(2, 2)}
	f, ok := GetField(fields, 2)
	if !ok || f.Value[0] != 2 {
		t.Fatalf("lookup failed: %+v ok=%v", f, ok)
	}
	if _, ok := GetField(fields, 99); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestBytesConstructorCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	f := Bytes(1, src)
	src[0] = 99
	if f.Value[0] != 1 {
		t.Fatalf("constructor aliased caller slice")
	}
	out, err := f.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	out[1] = 99
	if f.Value[1] != 2 {
		t.Fatalf("accessor aliased field value")
	}
}
