package epoch

// Structure freestore: AllocStructure, and the deep-copy semantics
// the value-copy rule in emitter_expr.go requires for every read of a
// structure-typed binding. Grounded on
// original_source/EpochRuntime/Runtime/Marshaling.cpp's recursive
// per-member-type walk (there written for native marshaling; reused
// here for in-process deep copy, which needs the identical recursion
// whenever a member is itself a structure).

// structureInstance is one live allocation in the freestore: its
// layout plus a flat byte buffer sized to the layout's Size.
type structureInstance struct {
	layout *StructureLayout
	data   []byte
}

// Freestore owns every live structure allocation, addressed by
// StructureHandle. Handle zero is never allocated, matching the
// string pool and buffer handle convention (isa.go). It holds a
// reference to the VM's BufferStore so CopyStructure's deep copy can
// reach Buffer-typed members (spec §4.3: "CopyStructure deep-copies a
// handle-identified structure ... deep-copy recurses into
// structure-typed, buffer-typed, and sum-typed members by their
// declared rules") without every caller threading it through by hand.
type Freestore struct {
	types     *TypeTable
	buffers   *BufferStore
	instances []*structureInstance
}

func NewFreestore(types *TypeTable, buffers *BufferStore) *Freestore {
	return &Freestore{types: types, buffers: buffers, instances: []*structureInstance{nil}}
}

// Alloc creates a zeroed instance of typeID and returns its handle.
func (f *Freestore) Alloc(typeID TypeID) (StructureHandle, error) {
	layout, ok := f.types.Structure(typeID)
	if !ok {
		return 0, &FatalError{Reason: FatalUnknownType, Detail: "alloc of undeclared structure type"}
	}
	inst := &structureInstance{layout: layout, data: make([]byte, layout.Size)}
	f.instances = append(f.instances, inst)
	return StructureHandle(len(f.instances) - 1), nil
}

func (f *Freestore) get(h StructureHandle) (*structureInstance, error) {
	if int(h) <= 0 || int(h) >= len(f.instances) {
		return nil, &FatalError{Reason: FatalMalformedStream, Detail: "structure handle out of range"}
	}
	return f.instances[h], nil
}

// CopyFromStructure returns a copy of member's raw bytes out of h. A
// member that names a nested structure yields that structure's
// handle; the nested instance is not followed (CopyFromStructure only
// ever crosses one member at a time; chained access is repeated
// calls, per emitter_expr.go).
func (f *Freestore) CopyFromStructure(h StructureHandle, member string) ([]byte, error) {
	inst, err := f.get(h)
	if err != nil {
		return nil, err
	}
	m, ok := inst.layout.MemberByName(member)
	if !ok {
		return nil, &FatalError{Reason: FatalScopeMismatch, Detail: "no such member: " + member}
	}
	sz, err := f.types.StorageSize(m.Type)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), inst.data[m.Offset:m.Offset+sz]...), nil
}

// MemberType returns the declared type of a structure member, used by
// the runtime to size a pending CopyToStructure write.
func (f *Freestore) MemberType(h StructureHandle, member string) (TypeID, error) {
	inst, err := f.get(h)
	if err != nil {
		return 0, err
	}
	m, ok := inst.layout.MemberByName(member)
	if !ok {
		return 0, &FatalError{Reason: FatalScopeMismatch, Detail: "no such member: " + member}
	}
	return m.Type, nil
}

// CopyToStructure writes value into member of h.
func (f *Freestore) CopyToStructure(h StructureHandle, member string, value []byte) error {
	inst, err := f.get(h)
	if err != nil {
		return err
	}
	m, ok := inst.layout.MemberByName(member)
	if !ok {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "no such member: " + member}
	}
	copy(inst.data[m.Offset:m.Offset+len(value)], value)
	return nil
}

// CopyStructure performs the deep copy the value-copy rule demands:
// the new instance gets its own backing buffer, and any member that is
// itself a structure handle, a buffer handle, or a sum type whose
// current discriminator names one of those is recursively copied
// rather than shared (Marshaling.cpp's MarshalStructureDataIntoBuffer
// recurses the same way on nested structure members; spec §4.3 is
// explicit that Buffer- and SumType-typed members follow the same
// rule as nested structures).
func (f *Freestore) CopyStructure(h StructureHandle) (StructureHandle, error) {
	inst, err := f.get(h)
	if err != nil {
		return 0, err
	}
	clone := &structureInstance{layout: inst.layout, data: append([]byte(nil), inst.data...)}
	f.instances = append(f.instances, clone)
	newHandle := StructureHandle(len(f.instances) - 1)

	for _, m := range inst.layout.Members {
		switch {
		case m.Type == TypeBuffer:
			if err := f.deepCopyBufferMember(clone, m.Offset); err != nil {
				return 0, err
			}
		case m.Type.IsCustom():
			if _, ok := f.types.Structure(m.Type); ok {
				if err := f.deepCopyStructureMember(clone, m.Offset); err != nil {
					return 0, err
				}
				continue
			}
			if sumLayout, ok := f.types.SumType(m.Type); ok {
				if err := f.deepCopySumTypeMember(clone, m.Offset, sumLayout); err != nil {
					return 0, err
				}
			}
		}
	}

	return newHandle, nil
}

// deepCopyStructureMember rewrites the structure handle stored at
// offset in clone's data with a freshly deep-copied one.
func (f *Freestore) deepCopyStructureMember(clone *structureInstance, offset int) error {
	nested := StructureHandle(decodeU32(clone.data[offset:]))
	if nested == 0 {
		return nil
	}
	newNested, err := f.CopyStructure(nested)
	if err != nil {
		return err
	}
	encodeU32Into(clone.data[offset:], uint32(newNested))
	return nil
}

// deepCopyBufferMember is CopyStructure's counterpart to
// emitter_expr.go's CopyBuffer rule: a Buffer-typed member must not
// alias the buffer the original structure's member handle names.
func (f *Freestore) deepCopyBufferMember(clone *structureInstance, offset int) error {
	orig := BufferHandle(decodeU32(clone.data[offset:]))
	if orig == 0 {
		return nil
	}
	newBuf, err := f.buffers.Copy(orig)
	if err != nil {
		return err
	}
	encodeU32Into(clone.data[offset:], uint32(newBuf))
	return nil
}

// deepCopySumTypeMember inspects the discriminator a sum-typed member
// currently holds and, when it names a structure or buffer base, deep
// copies the handle found in the payload's first 4 bytes in place —
// sum-typed storage is inline (discriminator + payload), never a
// handle itself, so only the payload can need this treatment.
func (f *Freestore) deepCopySumTypeMember(clone *structureInstance, offset int, layout *SumTypeLayout) error {
	disc := TypeID(decodeU32(clone.data[offset:]))
	payloadOffset := offset + 4
	switch {
	case disc == TypeBuffer:
		return f.deepCopyBufferMember(clone, payloadOffset)
	case disc.IsCustom():
		if _, ok := f.types.Structure(disc); ok {
			return f.deepCopyStructureMember(clone, payloadOffset)
		}
	}
	return nil
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func encodeU32Into(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
