package epoch

import "fmt"

// TypeID is the 32-bit wire-stable type tag used throughout the
// instruction stream. Primitive families occupy the low range; the
// semantic layer allocates structure, template-instance, and sum-type
// ids above CustomBase.
type TypeID uint32

const (
	TypeNothing TypeID = iota
	TypeInteger32
	TypeInteger16
	TypeReal32
	TypeBoolean
	TypeString
	TypeBuffer
	TypeIdentifier
	TypeFunction

	numPrimitiveTypes
)

// CustomBase is the first TypeID available to the semantic layer for
// structures, template instances, and sum types. Anything below this
// threshold is a built-in primitive family.
const CustomBase TypeID = 1 << 16

// IsCustom reports whether a type id was allocated by the semantic
// layer rather than being a built-in primitive.
func (t TypeID) IsCustom() bool { return t >= CustomBase }

func (t TypeID) String() string {
	if name, ok := primitiveNames[t]; ok {
		return name
	}
	if t.IsCustom() {
		return fmt.Sprintf("custom(%d)", uint32(t))
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

var primitiveNames = map[TypeID]string{
	TypeNothing:    "Nothing",
	TypeInteger32:  "Integer32",
	TypeInteger16:  "Integer16",
	TypeReal32:     "Real32",
	TypeBoolean:    "Boolean",
	TypeString:     "String",
	TypeBuffer:     "Buffer",
	TypeIdentifier: "Identifier",
	TypeFunction:   "Function",
}

// primitiveSize is the native on-stack width of every built-in type,
// in bytes. Handles (String, Buffer, Function, Identifier) are always
// 32 bits; Nothing occupies zero bytes but still legally appears in a
// Push/Pop pair.
var primitiveSize = map[TypeID]int{
	TypeNothing:    0,
	TypeInteger32:  4,
	TypeInteger16:  2,
	TypeReal32:     4,
	TypeBoolean:    1,
	TypeString:     4,
	TypeBuffer:     4,
	TypeIdentifier: 4,
	TypeFunction:   4,
}

// handleSize is the wire width of every handle kind (string, buffer,
// structure). Handles never widen regardless of host pointer size.
const handleSize = 4

// StructureMember describes one field of a structure layout as
// installed by a DefineStructure instruction.
type StructureMember struct {
	Name   string
	Type   TypeID
	Offset int
}

// StructureLayout is the runtime-visible shape of a structure or
// template-instance type, built from a DefineStructure instruction.
type StructureLayout struct {
	TypeID  TypeID
	Name    string
	Members []StructureMember
	// Size is the sum of each member's storage size; used for
	// freestore allocation and for CopyStructure's byte-for-byte
	// scalar fast path.
	Size int
}

func (l *StructureLayout) MemberByName(name string) (StructureMember, bool) {
	for _, m := range l.Members {
		if m.Name == name {
			return m, true
		}
	}
	return StructureMember{}, false
}

// SumTypeLayout is the runtime-visible shape of a sum type: a set of
// declared base types sharing one discriminator-prefixed storage
// slot sized for the largest base.
type SumTypeLayout struct {
	TypeID      TypeID
	Name        string
	Bases       []TypeID
	MaxVariant  int
	StorageSize int // discriminator (4 bytes) + MaxVariant
}

func (l *SumTypeLayout) HasBase(t TypeID) bool {
	for _, b := range l.Bases {
		if b == t {
			return true
		}
	}
	return false
}

// TypeTable resolves storage sizes and layouts for both primitive and
// custom types. It is populated while a program is loaded (from
// DefineStructure/DefineSumType instructions) and consulted by both
// the emitter's sanity checks and the runtime.
type TypeTable struct {
	structures map[TypeID]*StructureLayout
	sumTypes   map[TypeID]*SumTypeLayout
}

func NewTypeTable() *TypeTable {
	return &TypeTable{
		structures: map[TypeID]*StructureLayout{},
		sumTypes:   map[TypeID]*SumTypeLayout{},
	}
}

func (t *TypeTable) DefineStructure(l *StructureLayout) { t.structures[l.TypeID] = l }
func (t *TypeTable) DefineSumType(l *SumTypeLayout)     { t.sumTypes[l.TypeID] = l }

func (t *TypeTable) Structure(id TypeID) (*StructureLayout, bool) {
	l, ok := t.structures[id]
	return l, ok
}

func (t *TypeTable) SumType(id TypeID) (*SumTypeLayout, bool) {
	l, ok := t.sumTypes[id]
	return l, ok
}

// StorageSize returns the on-stack byte width of a value of type id.
// Unknown custom ids are a fatal, not a panic, because they only ever
// originate from an untrusted or malformed instruction stream.
func (t *TypeTable) StorageSize(id TypeID) (int, error) {
	if sz, ok := primitiveSize[id]; ok {
		return sz, nil
	}
	if l, ok := t.sumTypes[id]; ok {
		return l.StorageSize, nil
	}
	if l, ok := t.structures[id]; ok {
		_ = l
		return handleSize, nil // structures live in the freestore, referenced by handle
	}
	return 0, &FatalError{Reason: FatalUnknownType, Detail: fmt.Sprintf("unknown type id %s", id)}
}
