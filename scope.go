package epoch

// Arena-indexed activation records (spec §9 REDESIGN FLAGS: "model
// activation records as indices into a per-context arena; a parent is
// an index, never an owning pointer"). Grounded in
// original_source/Shared/Metadata/ActiveScope.cpp's
// BindParametersToStack, which walks a scope's declared variables in
// *reverse* (C++ rbegin()/rend()) to line them up against a
// calling-convention stack where the last-pushed parameter sits
// closest to the top; StackAlloc/StackFree's bump-pointer arena is
// mirrored here as a Go slice addressed by integer index instead of
// a custom VirtualAlloc'd byte range.

// ActivationRecord is one entry of the arena: a materialized
// DefineLexicalScope plus the storage it owns. Parent is an arena
// index, -1 at the root.
type ActivationRecord struct {
	Scope  *ScopeDescriptor
	Parent int

	// slots holds one entry per declared variable, same order as
	// Scope.Vars. A slot is either owned inline storage or, for
	// IsReference variables, a pointer at another record's slot.
	slots []varSlot
}

type varSlot struct {
	isRef    bool
	value    []byte
	refOwner int // arena index of the record the reference targets, or -1
	refIndex int // slot index within refOwner
}

// ScopeArena is the per-execution-context bump allocator for
// activation records. Records are never freed individually; EndEntity
// truncates the arena back to the mark it held on entry, the Go
// analogue of StackFree(DataSize) unwinding a single contiguous range.
type ScopeArena struct {
	types   *TypeTable
	records []ActivationRecord
}

func NewScopeArena(types *TypeTable) *ScopeArena {
	return &ScopeArena{types: types}
}

// Open allocates a fresh activation record for desc, parented at
// parent (-1 for none), and returns its arena index.
func (a *ScopeArena) Open(desc *ScopeDescriptor, parent int) int {
	rec := ActivationRecord{
		Scope:  desc,
		Parent: parent,
		slots:  make([]varSlot, len(desc.Vars)),
	}
	a.records = append(a.records, rec)
	return len(a.records) - 1
}

// Mark returns the current arena height, to later Truncate back to.
func (a *ScopeArena) Mark() int { return len(a.records) }

// Truncate discards every record at or above mark, mirroring
// StackFree unwinding the activation records an entity opened.
func (a *ScopeArena) Truncate(mark int) {
	a.records = a.records[:mark]
}

func (a *ScopeArena) Record(idx int) *ActivationRecord { return &a.records[idx] }

// BindParametersToStack pops parameter-origin variables off the
// supplied data stack into the record at idx, walking declared
// variables in reverse order so the last-pushed argument lines up
// with the last-declared parameter — the direct translation of
// ActiveScope::BindParametersToStack's reverse iteration. pop is
// handed the exact storage size of the variable being bound.
//
// A reference parameter does not consume storage_size(v.Type) bytes
// of value at all (spec §4.3 bullet 1: "a reference parameter
// consumes (pointer, type)"): it consumes a 4-byte packed arena
// pointer (the same packBindRef/unpackBindRef encoding
// BindReferenceIndirect uses) followed by a 4-byte type tag, and the
// bound slot becomes an alias into the referenced record's slot
// rather than owned storage.
func (a *ScopeArena) BindParametersToStack(idx int, pop func(size int) []byte) error {
	rec := &a.records[idx]
	for i := len(rec.Scope.Vars) - 1; i >= 0; i-- {
		v := rec.Scope.Vars[i]
		if v.Origin != OriginParameter {
			continue
		}
		if v.IsReference {
			raw := pop(8)
			ptr := decodeU32(raw[0:4])
			targetIdx, targetSlot := unpackBindRef(ptr)
			a.BindReference(idx, i, targetIdx, targetSlot)
			continue
		}
		sz, err := a.types.StorageSize(v.Type)
		if err != nil {
			return err
		}
		rec.slots[i] = varSlot{value: pop(sz)}
	}
	return nil
}

// Lookup finds the declared variable named name, searching idx and
// then its parent chain, returning the owning arena index and slot
// position.
func (a *ScopeArena) Lookup(idx int, name string) (int, int, bool) {
	for idx >= 0 {
		rec := &a.records[idx]
		for i, v := range rec.Scope.Vars {
			if v.Name == name {
				return idx, i, true
			}
		}
		idx = rec.Parent
	}
	return 0, 0, false
}

func (a *ScopeArena) Get(idx, slot int) []byte {
	rec := &a.records[idx]
	if rec.slots[slot].isRef {
		owner := rec.slots[slot].refOwner
		return a.records[owner].slots[rec.slots[slot].refIndex].value
	}
	return rec.slots[slot].value
}

func (a *ScopeArena) Set(idx, slot int, value []byte) {
	rec := &a.records[idx]
	if rec.slots[slot].isRef {
		owner := rec.slots[slot].refOwner
		a.records[owner].slots[rec.slots[slot].refIndex].value = value
		return
	}
	rec.slots[slot].value = value
}

// BindReference makes slot at idx an alias for targetIdx/targetSlot,
// the arena form of IBindRef/IBindMemberRef resolving to a
// cross-record reference rather than an owned value.
func (a *ScopeArena) BindReference(idx, slot, targetIdx, targetSlot int) {
	a.records[idx].slots[slot] = varSlot{isRef: true, refOwner: targetIdx, refIndex: targetSlot}
}
