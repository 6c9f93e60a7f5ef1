package epoch

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/sirupsen/logrus"
)

// marshal.go converts freestore structures to and from the flat,
// native-width buffer layout foreign callees expect. Grounded in
// original_source/EpochRuntime/Runtime/Marshaling.cpp's
// MarshalStructureDataIntoBuffer/MarshalBufferIntoStructureData: same
// per-member recursive walk, same Boolean-widening rule (one native
// byte becomes a 4-byte foreign cell), same refusal to marshal
// function-pointer members back into Epoch form. Where the original
// resolves a DLL export address at marshal time, this module has no
// process to load native code into, so ForeignCallback is an
// injected Go closure instead — the registration surface
// (RegisterExternal/CallExternal) plays the DLLInvocationMap's role.
type ForeignCallback func(args []byte) ([]byte, error)

type Marshaler struct {
	vm        *VM
	externals map[string]ForeignCallback
	log       *logrus.Entry
}

func NewMarshaler(vm *VM) *Marshaler {
	return &Marshaler{
		vm:        vm,
		externals: map[string]ForeignCallback{},
		log:       logrus.WithField("component", "marshal"),
	}
}

// RegisterExternal binds name to a Go callback, the in-process
// analogue of RegisterMarshaledExternalFunction. Registered callbacks
// are reached only through CallExternal; the VM's Invoke does not
// consult them.
func (m *Marshaler) RegisterExternal(name string, fn ForeignCallback) {
	m.externals[name] = fn
}

func (m *Marshaler) IsExternal(name string) bool {
	_, ok := m.externals[name]
	return ok
}

// CallExternal invokes the registered callback with args as given and
// returns its raw result bytes. It does no marshaling itself:
// structure arguments are expected to be flattened by the caller
// (MarshalStructure).
func (m *Marshaler) CallExternal(name string, args []byte) ([]byte, error) {
	fn, ok := m.externals[name]
	if !ok {
		return nil, &RuntimeFault{Kind: FaultUnboundReference, Target: name}
	}
	return fn(args)
}

// marshaledSize computes the width of a structure type with Booleans
// widened to 4 bytes and nested structures followed recursively — the
// Go mirror of StructureDefinition::GetMarshaledSize. It counts a
// String member as one 4-byte cell, whereas marshalInstance writes a
// String as a 4-byte length prefix followed by its UTF-16 units.
func (m *Marshaler) marshaledSize(layout *StructureLayout) (int, error) {
	total := 0
	for _, mem := range layout.Members {
		switch mem.Type {
		case TypeBoolean:
			total += 4
		case TypeInteger32, TypeReal32, TypeString, TypeBuffer, TypeFunction:
			total += 4
		case TypeInteger16:
			total += 2
		default:
			if nested, ok := m.vm.Types.Structure(mem.Type); ok {
				sz, err := m.marshaledSize(nested)
				if err != nil {
					return 0, err
				}
				total += sz
				continue
			}
			return 0, &NotImplementedError{Feature: "marshal of unsupported member type"}
		}
	}
	return total, nil
}

// MarshalStructure flattens h into foreign layout: Integer32/Real32
// pass through verbatim, Integer16 stays 2 bytes, Boolean widens to a
// 4-byte cell, a String handle resolves to its UTF-16 units behind a
// 4-byte byte-length prefix, Buffer and Function members pass their
// 4-byte handle through unchanged, and nested structures recurse in
// place.
func (m *Marshaler) MarshalStructure(h StructureHandle) ([]byte, error) {
	inst, err := m.vm.Freestore.get(h)
	if err != nil {
		return nil, err
	}
	return m.marshalInstance(inst)
}

func (m *Marshaler) marshalInstance(inst *structureInstance) ([]byte, error) {
	var out []byte
	for _, mem := range inst.layout.Members {
		raw := inst.data[mem.Offset : mem.Offset+mustSize(m.vm.Types, mem.Type)]
		switch mem.Type {
		case TypeInteger32, TypeReal32:
			out = append(out, raw...)
		case TypeInteger16:
			out = append(out, raw...)
		case TypeBoolean:
			v := uint32(0)
			if raw[0] != 0 {
				v = 1
			}
			out = appendU32(out, v)
		case TypeString:
			h := StringHandle(decodeU32(raw))
			units, _ := m.vm.Strings.WideUnits(h)
			out = appendU32(out, uint32(len(units)*2))
			for _, u := range units {
				out = binary.LittleEndian.AppendUint16(out, u)
			}
		case TypeBuffer, TypeFunction:
			out = append(out, raw...)
		default:
			nested, ok := m.vm.Types.Structure(mem.Type)
			if !ok {
				return nil, &NotImplementedError{Feature: "marshal of unsupported member type"}
			}
			nestedHandle := StructureHandle(decodeU32(raw))
			nestedInst, err := m.vm.Freestore.get(nestedHandle)
			if err != nil {
				return nil, err
			}
			_ = nested
			nestedBytes, err := m.marshalInstance(nestedInst)
			if err != nil {
				return nil, err
			}
			out = append(out, nestedBytes...)
		}
	}
	return out, nil
}

// UnmarshalStructure writes a foreign-layout buffer back into h,
// skipping Buffer and Function members exactly as
// MarshalBufferIntoStructureData does (buffers are mutated via shared
// backing storage and need no manual copy-back; callback pointers are
// never re-linked into Epoch form).
func (m *Marshaler) UnmarshalStructure(buf []byte, h StructureHandle) error {
	inst, err := m.vm.Freestore.get(h)
	if err != nil {
		return err
	}
	_, err = m.unmarshalInto(buf, inst)
	return err
}

func (m *Marshaler) unmarshalInto(buf []byte, inst *structureInstance) (int, error) {
	off := 0
	for _, mem := range inst.layout.Members {
		switch mem.Type {
		case TypeInteger32, TypeReal32:
			copy(inst.data[mem.Offset:mem.Offset+4], buf[off:off+4])
			off += 4
		case TypeInteger16:
			copy(inst.data[mem.Offset:mem.Offset+2], buf[off:off+2])
			off += 2
		case TypeBoolean:
			v := byte(0)
			if decodeU32(buf[off:off+4]) != 0 {
				v = 1
			}
			inst.data[mem.Offset] = v
			off += 4
		case TypeString:
			n := int(decodeU32(buf[off : off+4]))
			off += 4
			units := make([]uint16, n/2)
			for i := range units {
				units[i] = binary.LittleEndian.Uint16(buf[off+i*2 : off+i*2+2])
			}
			off += n
			s := string(utf16.Decode(units))
			handle := m.vm.Strings.Len()
			m.vm.Strings.PoolString(StringHandle(handle), s)
			encodeU32Into(inst.data[mem.Offset:], uint32(handle))
		case TypeBuffer, TypeFunction:
			off += 4
		default:
			nested, ok := m.vm.Types.Structure(mem.Type)
			if !ok {
				return 0, &NotImplementedError{Feature: "unmarshal of unsupported member type"}
			}
			nestedHandle := StructureHandle(decodeU32(inst.data[mem.Offset:]))
			nestedInst, err := m.vm.Freestore.get(nestedHandle)
			if err != nil {
				return 0, err
			}
			n, err := m.unmarshalInto(buf[off:], nestedInst)
			if err != nil {
				return 0, err
			}
			_ = nested
			off += n
		}
	}
	return off, nil
}

func mustSize(types *TypeTable, t TypeID) int {
	sz, err := types.StorageSize(t)
	if err != nil {
		return 0
	}
	return sz
}
