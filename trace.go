package epoch

import "github.com/davecgh/go-spew/spew"

// trace.go backs the vm.trace config key: spec §7 notes that runtime
// faults carry no user-visible text "by design, an acknowledged
// limitation," so a hosting driver's only window into a failing run is
// a state dump taken on every step. go-spew is the teacher's own
// pretty-printer of choice for this kind of ad hoc struct dump.
var spewConfig = &spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// spewState renders the fields of vm a trace line actually needs:
// the operand stack, the current arena index, and the open entity/
// call stacks. Freestore/GC/Strings are omitted — they grow without
// bound over a long run and would make every trace line dominate the
// log.
func spewState(vm *VM) string {
	return spewConfig.Sprintf("%v", struct {
		Stack       []byte
		CurrentArena int
		EntityStack []entityFrame
		CallStack   []callFrame
		TypeReg     TypeID
	}{
		Stack:        vm.stack.buf,
		CurrentArena: vm.currentArena,
		EntityStack:  vm.entityStack,
		CallStack:    vm.callStack,
		TypeReg:      vm.typeReg,
	})
}
