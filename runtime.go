package epoch

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// runtime.go is C3/C4's execution engine: the byte-stack VM whose
// control flow is call/return plus entity framing instead of the
// teacher's vm.go backtracking loop. The shape is still the
// teacher's: one struct holding an instruction pointer and a stack,
// one `for { switch instr.(type) { ... } }` dispatch loop stepping
// `pc` forward, `ordinary return`/`error` replacing the teacher's
// `goto fail`-style control (Epoch has no backtracking to unwind).

// MetaHandler lets a hosting driver supply the condition semantics
// for meta-controlled entities (loops, conditionals) without this
// module needing to know what "while" or "if" means — it only knows
// entity framing (isa.go's EntityTag.scopeBearing doc).
type MetaHandler interface {
	// Enter is asked once, when the entity's InvokeMeta executes;
	// occurrence is the number of times that entity frame has asked
	// before. params is always nil: the pushed parameter values are
	// not passed to the handler. Returning false skips past the
	// entity's EndEntity (to the next alternative of its chain, if
	// any); returning true runs the body once. EndEntity does not
	// consult Enter again, so an entity body never repeats.
	Enter(tag EntityTag, occurrence int, params [][]byte) (bool, error)
}

type entityFrame struct {
	tag       EntityTag
	beginPC   int
	scopeMark int
	arenaIdx  int
	occurrence int
}

type callFrame struct {
	returnPC     int
	entityMark   int // len(entityStack) at call time, for sanity checks
}

// VM executes a decoded instruction stream against one execution
// context's worth of state: stack, return register, scope arena,
// freestore, string pool, and GC registry. Nothing here is package
// level or process-global (spec §9's "explicit runtime handle"
// redesign note): every field lives on this struct.
type VM struct {
	code    []Instruction
	pc      int
	symbols map[string]int

	stack dataStack

	retType TypeID
	retVal  []byte
	typeReg TypeID

	// typeRegs holds one (type, is_ref) record per parameter of the
	// type resolver currently being entered, populated on BeginEntity
	// and consulted by tryTypeMatch — the generalization of typeReg to
	// TypeMatch(target, n_params)'s per-parameter dispatch (spec
	// §4.2/§4.4). typeReg above still mirrors typeRegs[0] so
	// ITypeFromRegister and trace.go keep reading a single value.
	typeRegs []typeMatchArg

	arena        *ScopeArena
	currentArena int

	entityStack []entityFrame
	callStack   []callFrame

	// currentBind holds the pending L-value a BindRef/BindMemberRef
	// chain is building, consumed by the Assign family and ReadRef.
	currentBind *bindTarget

	Strings   *StringPool
	Freestore *Freestore
	Buffers   *BufferStore
	GC        *GCRegistry
	Types     *TypeTable

	cfg *Config
	log *logrus.Entry

	Marshaler *Marshaler
	Meta      MetaHandler
}

// NewVM loads a decoded program: it indexes every named entity
// (function, pattern resolver, type resolver) by a single forward
// scan, the load-time equivalent of a linker resolving symbols, done
// once instead of per call.
func NewVM(code []Instruction, types *TypeTable, cfg *Config) *VM {
	vm := &VM{
		code:         code,
		symbols:      map[string]int{},
		currentArena: -1,
		Strings:      NewStringPool(),
		GC:           NewGCRegistry(),
		Types:        types,
		cfg:          cfg,
		log:          logrus.WithField("component", "vm"),
	}
	vm.arena = NewScopeArena(types)
	vm.Buffers = NewBufferStore()
	vm.Freestore = NewFreestore(types, vm.Buffers)
	vm.Marshaler = NewMarshaler(vm)

	for i, instr := range code {
		if be, ok := instr.(IBeginEntity); ok && be.Tag.scopeBearing() {
			if _, exists := vm.symbols[be.Name]; !exists {
				vm.symbols[be.Name] = i
			}
		}
	}
	return vm
}

// traceEnabled reports whether go-spew state dumps run before each
// instruction, gated by the vm.trace config key (spec §7 notes runtime faults
// carry no user-visible text "by design, an acknowledged limitation";
// tracing is the mitigation a hosting driver reaches for).
func (vm *VM) traceEnabled() bool {
	return vm.cfg != nil && (*vm.cfg)["vm.trace"] != nil && vm.cfg.GetBool("vm.trace")
}

// Run invokes the named entrypoint and executes until Halt or the
// call stack unwinds back past it.
func (vm *VM) Run(entry string) error {
	target, ok := vm.symbols[entry]
	if !ok {
		return &FatalError{Reason: FatalScopeMismatch, Detail: fmt.Sprintf("entrypoint %q not found", entry)}
	}
	vm.pc = target
	vm.callStack = append(vm.callStack, callFrame{returnPC: -1, entityMark: 0})
	return vm.loop()
}

// RunProgram executes a full decoded program from its first
// instruction: globals initialization, the entrypoint invocation
// emitter.go wrote, and the top-level Halt that follows it. Unlike
// Run, no sentinel call frame is needed — the stream's own Halt
// instruction is what stops the loop.
func (vm *VM) RunProgram() error {
	vm.pc = 0
	return vm.loop()
}

func (vm *VM) loop() error {
	for {
		if vm.pc < 0 || vm.pc >= len(vm.code) {
			return &FatalError{Reason: FatalMalformedStream, Detail: "pc ran off the end of the stream"}
		}
		instr := vm.code[vm.pc]
		if vm.traceEnabled() {
			vm.dumpState(instr)
		}

		done, err := vm.step(instr)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step executes one instruction and reports whether the VM should
// stop (a top-level Halt was reached).
func (vm *VM) step(instr Instruction) (bool, error) {
	advance := true

	switch ii := instr.(type) {
	case IBeginEntity:
		vm.entityStack = append(vm.entityStack, entityFrame{tag: ii.Tag, beginPC: vm.pc, scopeMark: -1, arenaIdx: -1})
		// Entering a type resolver consumes one (type, is_ref) record
		// per dispatched parameter off the stack into typeRegs; the
		// caller of an indirect/overloaded invocation pushes them, one
		// per parameter in declaration order, right before the entity
		// begins (mirrors ITypeFromRegister reading typeRegs[0] back
		// out for a nested dispatch). Arity is discovered by scanning
		// ahead to the entity's first TypeMatch, the same record count
		// every candidate in the resolver declares.
		if ii.Tag == EntityTypeResolver {
			n := vm.typeResolverArity()
			regs := make([]typeMatchArg, n)
			for i := n - 1; i >= 0; i-- {
				raw := vm.stack.pop(8)
				regs[i] = typeMatchArg{Type: TypeID(decodeU32(raw[0:4])), IsRef: decodeU32(raw[4:8]) != 0}
			}
			vm.typeRegs = regs
			if len(regs) > 0 {
				vm.typeReg = regs[0].Type
			}
		}

	case IEndEntity:
		if len(vm.entityStack) == 0 {
			return false, &FatalError{Reason: FatalScopeMismatch, Detail: "end_entity with no matching begin_entity"}
		}
		frame := vm.entityStack[len(vm.entityStack)-1]
		vm.entityStack = vm.entityStack[:len(vm.entityStack)-1]
		if frame.arenaIdx >= 0 {
			vm.currentArena = vm.parentArenaOf(frame.arenaIdx)
			vm.arena.Truncate(frame.scopeMark)
		}

	case IBeginChain, IEndChain:
		// Pure bookkeeping for the disassembler; the VM only cares
		// that alternatives were already tried via Enter/occurrence
		// tracking in IInvokeMeta.

	case IInvokeMeta:
		if vm.Meta == nil {
			return false, &NotImplementedError{Feature: "meta-controlled entity with no MetaHandler installed"}
		}
		frame := &vm.entityStack[len(vm.entityStack)-1]
		enter, err := vm.Meta.Enter(ii.Tag, frame.occurrence, nil)
		if err != nil {
			return false, err
		}
		frame.occurrence++
		if !enter {
			if err := vm.skipToMatchingEnd(); err != nil {
				return false, err
			}
			advance = false
		}

	case IDefineLexicalScope:
		desc := &ScopeDescriptor{Name: ii.Name, Parent: ii.Parent, Vars: ii.Vars}
		idx := vm.arena.Open(desc, vm.currentArena)
		frame := &vm.entityStack[len(vm.entityStack)-1]
		frame.scopeMark = vm.arena.Mark() - 1
		frame.arenaIdx = idx
		if err := vm.arena.BindParametersToStack(idx, func(n int) []byte { return vm.stack.pop(n) }); err != nil {
			return false, err
		}
		vm.currentArena = idx

	case IPush:
		vm.stack.push(ii.Value)
	case IPop:
		sz, err := vm.Types.StorageSize(ii.Type)
		if err != nil {
			return false, err
		}
		vm.stack.pop(sz)

	case IRead:
		if err := vm.execRead(ii.ID); err != nil {
			return false, err
		}
	case IAssign:
		if err := vm.execAssign(); err != nil {
			return false, err
		}
	case IAssignThroughIdentifier:
		if err := vm.execAssignThroughIdentifier(); err != nil {
			return false, err
		}
	case IAssignSumType:
		if err := vm.execAssignSumType(); err != nil {
			return false, err
		}
	case IBindRef:
		if err := vm.execBindRef(ii.ID); err != nil {
			return false, err
		}
	case IBindMemberRef:
		if err := vm.execBindMemberRef(ii.Member); err != nil {
			return false, err
		}
	case IBindMemberByHandle:
		if err := vm.execBindMemberByHandle(ii.Member); err != nil {
			return false, err
		}
	case IReadRef:
		if err := vm.execReadRef(); err != nil {
			return false, err
		}

	case IInvoke:
		if err := vm.invoke(ii.Target); err != nil {
			return false, err
		}
		advance = false
	case IInvokeIndirect:
		name, ok := vm.lookupIdentifierValue(ii.VarName)
		if !ok {
			return false, &RuntimeFault{Kind: FaultUnboundReference, Target: ii.VarName}
		}
		if err := vm.invoke(name); err != nil {
			return false, err
		}
		advance = false

	case IReturn:
		outermost := len(vm.callStack) == 1
		if err := vm.execReturn(); err != nil {
			return false, err
		}
		if outermost {
			return true, nil
		}
		advance = false

	case IHalt:
		return true, nil

	case ISetRetVal:
		val, typ, ok := vm.lookupVarBytesAndType(ii.VarName)
		if !ok {
			return false, &RuntimeFault{Kind: FaultUnboundReference, Target: ii.VarName}
		}
		vm.retVal = append([]byte(nil), val...)
		vm.retType = typ

	case IDefineStructure:
		layout := &StructureLayout{TypeID: ii.Type, Members: ii.Members}
		for _, m := range ii.Members {
			if sz, err := vm.Types.StorageSize(m.Type); err == nil {
				layout.Size += sz
			}
		}
		vm.Types.DefineStructure(layout)
	case IAllocStructure:
		h, err := vm.Freestore.Alloc(ii.Type)
		if err != nil {
			return false, err
		}
		vm.stack.push(encodeU32(uint32(h)))
	case ICopyFromStructure:
		h := StructureHandle(decodeU32(vm.stack.pop(handleSize)))
		val, err := vm.Freestore.CopyFromStructure(h, ii.Member)
		if err != nil {
			return false, err
		}
		vm.stack.push(val)
	case ICopyToStructure:
		h := StructureHandle(decodeU32(vm.stack.pop(handleSize)))
		mt, err := vm.Freestore.MemberType(h, ii.Member)
		if err != nil {
			return false, err
		}
		sz, err := vm.Types.StorageSize(mt)
		if err != nil {
			return false, err
		}
		value := vm.stack.pop(sz)
		if err := vm.Freestore.CopyToStructure(h, ii.Member, value); err != nil {
			return false, err
		}
	case ICopyStructure:
		h := StructureHandle(decodeU32(vm.stack.pop(handleSize)))
		nh, err := vm.Freestore.CopyStructure(h)
		if err != nil {
			return false, err
		}
		vm.stack.push(encodeU32(uint32(nh)))
	case ICopyBuffer:
		h := BufferHandle(decodeU32(vm.stack.pop(handleSize)))
		nh, err := vm.Buffers.Copy(h)
		if err != nil {
			return false, err
		}
		vm.stack.push(encodeU32(uint32(nh)))

	case ISumTypeDef:
		max := 0
		for _, b := range ii.Bases {
			if sz, err := vm.Types.StorageSize(b); err == nil && sz > max {
				max = sz
			}
		}
		vm.Types.DefineSumType(&SumTypeLayout{TypeID: ii.Type, Bases: ii.Bases, MaxVariant: max, StorageSize: 4 + max})
	case IConstructSumType:
		// expects value bytes then a 4-byte value-type tag on top
		vtype := TypeID(decodeU32(vm.stack.pop(4)))
		if err := vm.execConstructSumType(vtype); err != nil {
			return false, err
		}
	case ITypeFromRegister:
		vm.stack.push(encodeU32(uint32(vm.typeReg)))

	case IPatternMatch:
		matched, err := vm.tryPatternMatch(ii)
		if err != nil {
			return false, err
		}
		if matched {
			advance = false
		}
	case ITypeMatch:
		matched, err := vm.tryTypeMatch(ii)
		if err != nil {
			return false, err
		}
		if matched {
			advance = false
		}

	case IPoolString:
		vm.Strings.PoolString(ii.Handle, ii.Value)

	case ITag:
		// No runtime semantics; metadata only.

	default:
		return false, &NotImplementedError{Feature: fmt.Sprintf("instruction %T", instr)}
	}

	if advance {
		vm.pc++
	}
	return false, nil
}

func (vm *VM) parentArenaOf(idx int) int {
	return vm.arena.Record(idx).Parent
}

// skipToMatchingEnd advances pc past the instruction stream belonging
// to the entity currently on top of the stack, landing just after its
// EndEntity and popping its frame.
func (vm *VM) skipToMatchingEnd() error {
	depth := 0
	for i := vm.pc + 1; i < len(vm.code); i++ {
		switch vm.code[i].(type) {
		case IBeginEntity:
			depth++
		case IEndEntity:
			if depth == 0 {
				vm.pc = i + 1
				vm.entityStack = vm.entityStack[:len(vm.entityStack)-1]
				return nil
			}
			depth--
		}
	}
	return &FatalError{Reason: FatalMalformedStream, Detail: "unterminated entity"}
}

func (vm *VM) invoke(target string) error {
	pc, ok := vm.symbols[target]
	if !ok {
		return &RuntimeFault{Kind: FaultUnboundReference, Target: target}
	}
	vm.callStack = append(vm.callStack, callFrame{returnPC: vm.pc + 1, entityMark: len(vm.entityStack)})
	vm.pc = pc
	return nil
}

func (vm *VM) execReturn() error {
	if len(vm.callStack) == 0 {
		return &FatalError{Reason: FatalScopeMismatch, Detail: "return with empty call stack"}
	}
	frame := vm.callStack[len(vm.callStack)-1]
	vm.callStack = vm.callStack[:len(vm.callStack)-1]

	for len(vm.entityStack) > frame.entityMark {
		top := vm.entityStack[len(vm.entityStack)-1]
		vm.entityStack = vm.entityStack[:len(vm.entityStack)-1]
		if top.arenaIdx >= 0 {
			vm.currentArena = vm.parentArenaOf(top.arenaIdx)
			vm.arena.Truncate(top.scopeMark)
		}
	}

	// The return register is implicitly pushed onto the caller's stack
	// on every function exit (spec §3 "Return register"; §4.3: "On
	// function exit, the VM pushes the register onto the stack for the
	// caller; callers discard unused returns with Pop"). A function
	// with no SetRetVal leaves retVal empty, matching Nothing's
	// zero-byte payload.
	if frame.returnPC >= 0 {
		vm.stack.push(vm.retVal)
		vm.retVal = nil
		vm.retType = TypeNothing
		vm.pc = frame.returnPC
	}
	return nil
}

func (vm *VM) dumpState(instr Instruction) {
	vm.log.WithFields(logrus.Fields{
		"pc":    vm.pc,
		"instr": instr.Name(),
		"state": spewState(vm),
	}).Debug("step")
}
