package epoch

import "bytes"

// runtime_ops.go holds the VM's operand stack and the variable/member
// binding operations (spec §4.2's Read/Assign/BindRef family). Split
// out of runtime.go the way the teacher splits vm.go from
// vm_program.go: one file for the dispatch loop's shape, another for
// the primitives it calls.

// dataStack is the VM's operand stack: a flat byte buffer, values
// pushed and popped at their declared storage width. There is no
// per-value type tag — callers always know the width they're asking
// for from the type that produced it.
type dataStack struct {
	buf []byte
}

func (s *dataStack) push(v []byte) {
	s.buf = append(s.buf, v...)
}

func (s *dataStack) pop(n int) []byte {
	if n == 0 {
		return nil
	}
	l := len(s.buf)
	v := append([]byte(nil), s.buf[l-n:]...)
	s.buf = s.buf[:l-n]
	return v
}

// peek returns the top n bytes without consuming them, for dispatch's
// pattern/type matching.
func (s *dataStack) peek(n int) []byte {
	l := len(s.buf)
	return s.buf[l-n : l]
}

func (s *dataStack) len() int { return len(s.buf) }

// bindKind distinguishes a bound arena slot from a bound structure
// member, the two L-value shapes BindRef/BindMemberRef/
// BindMemberByHandle can produce.
type bindKind int

const (
	bindVar bindKind = iota
	bindMember
)

// bindTarget is the pending L-value a BindRef chain builds up, held on
// vm.currentBind between the bind and the Assign/ReadRef that consumes
// it.
type bindTarget struct {
	kind bindKind

	arenaIdx int
	slotIdx  int

	handle StructureHandle
	member string
}

func packBindRef(arenaIdx, slotIdx int) uint32 {
	return uint32(arenaIdx)<<16 | uint32(slotIdx)
}

func unpackBindRef(v uint32) (int, int) {
	return int(v >> 16), int(v & 0xffff)
}

func (vm *VM) bindTargetType(b *bindTarget) (TypeID, error) {
	if b.kind == bindVar {
		rec := vm.arena.Record(b.arenaIdx)
		return rec.Scope.Vars[b.slotIdx].Type, nil
	}
	return vm.Freestore.MemberType(b.handle, b.member)
}

func (vm *VM) bindTargetRead(b *bindTarget) ([]byte, error) {
	if b.kind == bindVar {
		return vm.arena.Get(b.arenaIdx, b.slotIdx), nil
	}
	return vm.Freestore.CopyFromStructure(b.handle, b.member)
}

func (vm *VM) bindTargetWrite(b *bindTarget, value []byte) error {
	if b.kind == bindVar {
		vm.arena.Set(b.arenaIdx, b.slotIdx, append([]byte(nil), value...))
		return nil
	}
	return vm.Freestore.CopyToStructure(b.handle, b.member, value)
}

// bindTargetHandle reads the target's current value and interprets it
// as a structure handle, the step BindMemberRef takes to chain from
// `a` to `a.b`.
func (vm *VM) bindTargetHandle(b *bindTarget) (StructureHandle, error) {
	raw, err := vm.bindTargetRead(b)
	if err != nil {
		return 0, err
	}
	if len(raw) < handleSize {
		return 0, &FatalError{Reason: FatalMalformedStream, Detail: "bind target is not handle-sized"}
	}
	return StructureHandle(decodeU32(raw)), nil
}

// execRead pushes the current value of the named variable, the
// runtime counterpart of every bare identifier/member-chain head in
// emitter_expr.go's emitMemberChainRead.
func (vm *VM) execRead(id string) error {
	arenaIdx, slotIdx, ok := vm.arena.Lookup(vm.currentArena, id)
	if !ok {
		return &RuntimeFault{Kind: FaultUnboundReference, Target: id}
	}
	vm.stack.push(append([]byte(nil), vm.arena.Get(arenaIdx, slotIdx)...))
	return nil
}

// execBindRef starts (or, for the indirect variant, resumes) an
// L-value binding. An empty id means the handle to bind was already
// pushed onto the stack as a packed arena reference (isa.go's
// BindReferenceIndirect note).
func (vm *VM) execBindRef(id string) error {
	if id == "" {
		raw := vm.stack.pop(4)
		arenaIdx, slotIdx := unpackBindRef(decodeU32(raw))
		vm.currentBind = &bindTarget{kind: bindVar, arenaIdx: arenaIdx, slotIdx: slotIdx}
		return nil
	}
	arenaIdx, slotIdx, ok := vm.arena.Lookup(vm.currentArena, id)
	if !ok {
		return &RuntimeFault{Kind: FaultUnboundReference, Target: id}
	}
	vm.currentBind = &bindTarget{kind: bindVar, arenaIdx: arenaIdx, slotIdx: slotIdx}
	return nil
}

// execBindMemberRef chains the current binding one member deeper:
// the bound slot's value is read as a structure handle and the
// binding moves onto that handle's named member.
func (vm *VM) execBindMemberRef(member string) error {
	if vm.currentBind == nil {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "bind_member_ref with no active binding"}
	}
	h, err := vm.bindTargetHandle(vm.currentBind)
	if err != nil {
		return err
	}
	vm.currentBind = &bindTarget{kind: bindMember, handle: h, member: member}
	return nil
}

// execBindMemberByHandle binds member on a structure handle taken
// directly off the stack, for L-values reached without first binding
// a named variable (e.g. a freshly allocated structure).
func (vm *VM) execBindMemberByHandle(member string) error {
	h := StructureHandle(decodeU32(vm.stack.pop(handleSize)))
	vm.currentBind = &bindTarget{kind: bindMember, handle: h, member: member}
	return nil
}

// execReadRef pushes the bound target's current value without
// clearing the binding, so a subsequent Assign can still land in the
// same place (compound assignment's read-then-write).
func (vm *VM) execReadRef() error {
	if vm.currentBind == nil {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "read_ref with no active binding"}
	}
	val, err := vm.bindTargetRead(vm.currentBind)
	if err != nil {
		return err
	}
	vm.stack.push(append([]byte(nil), val...))
	return nil
}

// execAssign stores the top of the stack into whatever BindRef/
// BindMemberRef/BindMemberByHandle last chained to — an arena slot or
// a structure member alike (spec §8 scenario S3: `a.b = 5` emits
// `BindRef a; BindMemberRef b; Assign`, one opcode regardless of
// chain depth).
func (vm *VM) execAssign() error {
	if vm.currentBind == nil {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "assign with no active binding"}
	}
	t, err := vm.bindTargetType(vm.currentBind)
	if err != nil {
		return err
	}
	sz, err := vm.Types.StorageSize(t)
	if err != nil {
		return err
	}
	value := vm.stack.pop(sz)
	if err := vm.bindTargetWrite(vm.currentBind, value); err != nil {
		return err
	}
	vm.currentBind = nil
	return nil
}

// execAssignThroughIdentifier pops a string handle off the stack,
// resolves it as a variable name in the innermost active scope, and
// assigns the next stack value to that variable directly — no
// preceding BindRef chain at all. Spec §4.3 names this the mechanism
// for runtime-identified targets such as closure uplinks; nothing in
// this module's IR currently produces one (there is no closure
// construct), so only a hand-built instruction stream reaches it.
func (vm *VM) execAssignThroughIdentifier() error {
	raw := vm.stack.pop(4)
	name, ok := vm.Strings.Lookup(StringHandle(decodeU32(raw)))
	if !ok {
		return &RuntimeFault{Kind: FaultUnboundReference, Target: "<unresolved string handle>"}
	}
	arenaIdx, slotIdx, ok := vm.arena.Lookup(vm.currentArena, name)
	if !ok {
		return &RuntimeFault{Kind: FaultUnboundReference, Target: name}
	}
	rec := vm.arena.Record(arenaIdx)
	t := rec.Scope.Vars[slotIdx].Type
	sz, err := vm.Types.StorageSize(t)
	if err != nil {
		return err
	}
	value := vm.stack.pop(sz)
	vm.arena.Set(arenaIdx, slotIdx, append([]byte(nil), value...))
	return nil
}

// execConstructSumType builds a fresh discriminator+payload value for
// the currently bound sum-typed L-value. vtype was already popped by
// step (it sits above the value bytes on the stack).
func (vm *VM) execConstructSumType(vtype TypeID) error {
	if vm.currentBind == nil {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "construct_sum_type with no active binding"}
	}
	vsz, err := vm.Types.StorageSize(vtype)
	if err != nil {
		return err
	}
	value := vm.stack.pop(vsz)

	sumType, err := vm.bindTargetType(vm.currentBind)
	if err != nil {
		return err
	}
	sv, err := ConstructSumType(vm.Types, sumType, vtype, value)
	if err != nil {
		return err
	}
	if err := vm.bindTargetWrite(vm.currentBind, encodeSumTypeValue(sv)); err != nil {
		return err
	}
	vm.currentBind = nil
	return nil
}

// execAssignSumType re-discriminates an existing sum-typed binding.
func (vm *VM) execAssignSumType() error {
	if vm.currentBind == nil {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "assign_sum_type with no active binding"}
	}
	vtype := TypeID(decodeU32(vm.stack.pop(4)))
	vsz, err := vm.Types.StorageSize(vtype)
	if err != nil {
		return err
	}
	value := vm.stack.pop(vsz)

	sumType, err := vm.bindTargetType(vm.currentBind)
	if err != nil {
		return err
	}
	layout, ok := vm.Types.SumType(sumType)
	if !ok {
		return &FatalError{Reason: FatalUnknownType, Detail: "assign_sum_type target is not a sum type"}
	}
	raw, err := vm.bindTargetRead(vm.currentBind)
	if err != nil {
		return err
	}
	sv := decodeSumTypeValue(layout, raw)
	if err := AssignSumType(vm.Types, sumType, sv, vtype, value); err != nil {
		return err
	}
	if err := vm.bindTargetWrite(vm.currentBind, encodeSumTypeValue(sv)); err != nil {
		return err
	}
	vm.currentBind = nil
	return nil
}

// lookupVarBytes reads a variable's raw storage by name, used by
// SetRetVal where the emitter hands over a bare name rather than a
// member chain.
func (vm *VM) lookupVarBytes(name string) ([]byte, bool) {
	arenaIdx, slotIdx, ok := vm.arena.Lookup(vm.currentArena, name)
	if !ok {
		return nil, false
	}
	return vm.arena.Get(arenaIdx, slotIdx), true
}

// lookupVarBytesAndType is lookupVarBytes plus the variable's declared
// type, so SetRetVal can populate the return register's type tag
// alongside its bytes.
func (vm *VM) lookupVarBytesAndType(name string) ([]byte, TypeID, bool) {
	arenaIdx, slotIdx, ok := vm.arena.Lookup(vm.currentArena, name)
	if !ok {
		return nil, 0, false
	}
	rec := vm.arena.Record(arenaIdx)
	return vm.arena.Get(arenaIdx, slotIdx), rec.Scope.Vars[slotIdx].Type, true
}

// lookupIdentifierValue resolves a Function-typed variable to the
// callable name it holds. Function values are represented at runtime
// as a pooled string handle over the function's own name, so an
// indirect invoke is just a string-pool round trip.
func (vm *VM) lookupIdentifierValue(name string) (string, bool) {
	raw, ok := vm.lookupVarBytes(name)
	if !ok {
		return "", false
	}
	return vm.Strings.Lookup(StringHandle(decodeU32(raw)))
}

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
