package rpc

import "fmt"

// MethodSpec is the decoded form of an rpc.listinfo/rpc.info meta word:
// permission bits, a type tag, and an argument-size hint (§4.4). The exact
// bit layout isn't part of the retrieved spec text, so this reconstructs it
// from the description in §4.4 ("permission bits (readable/writable/
// persistent), type tag, argument-size hint") rather than a documented wire
// struct - see DESIGN.md.
type MethodSpec struct {
	Name       string
	Readable   bool
	Writable   bool
	Persistent bool
	TypeTag    TypeTag
	SizeHint   uint8 // argument size in bytes, 0 for variable-length (string)
}

// TypeTag is the meta word's 4-bit type field.
type TypeTag uint8

const (
	TypeU8 TypeTag = iota
	TypeI8
	TypeU16
	TypeI16
	TypeU32
	TypeI32
	TypeU64
	TypeI64
	TypeF32
	TypeF64
	TypeString
	TypeUnknown
)

func (t TypeTag) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeI8:
		return "i8"
	case TypeU16:
		return "u16"
	case TypeI16:
		return "i16"
	case TypeU32:
		return "u32"
	case TypeI32:
		return "i32"
	case TypeU64:
		return "u64"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

const (
	metaReadable   = 1 << 0
	metaWritable   = 1 << 1
	metaPersistent = 1 << 2
	metaTypeShift  = 4
	metaTypeMask   = 0xF
	metaSizeShift  = 8
	metaSizeMask   = 0xFF
)

func decodeSpec(meta uint16, name string) MethodSpec {
	return MethodSpec{
		Name:       name,
		Readable:   meta&metaReadable != 0,
		Writable:   meta&metaWritable != 0,
		Persistent: meta&metaPersistent != 0,
		TypeTag:    TypeTag((meta >> metaTypeShift) & metaTypeMask),
		SizeHint:   uint8((meta >> metaSizeShift) & metaSizeMask),
	}
}

// PermString renders the permission bits as "rw", "r-", "-w", "--", with a
// trailing "p" when the value persists across power cycles - grounded on
// the `spec.perm_str()` helper used by the original CLI's `rpc-list` output.
func (m MethodSpec) PermString() string {
	r, w := "-", "-"
	if m.Readable {
		r = "r"
	}
	if m.Writable {
		w = "w"
	}
	s := r + w
	if m.Persistent {
		s += "p"
	}
	return s
}

func (m MethodSpec) String() string {
	if m.TypeTag == TypeString {
		return fmt.Sprintf("%s %s(string)", m.PermString(), m.Name)
	}
	return fmt.Sprintf("%s %s(%s)", m.PermString(), m.Name, m.TypeTag)
}
