package epoch

// dispatch.go is C4's overload resolution: a linear scan over the
// PatternMatch/TypeMatch candidates a resolver entity lists, matching
// against values already sitting on the operand stack rather than
// popping them, so a failed candidate leaves the stack exactly as the
// next candidate (or the caller, on total exhaustion) expects it. No
// teacher analog exists for this — a PEG grammar has no overload
// dispatch — so the shape follows the field lists isa.go's
// PatternParam/TypeMatchParam already fix.

// tryPatternMatch compares the pushed argument bytes for this call
// against one candidate's literal parameters, in declaration order.
// Non-literal parameters always match (they're bound by the callee's
// own DefineLexicalScope instead). A successful match invokes the
// candidate directly in place of falling through to the next one.
func (vm *VM) tryPatternMatch(ii IPatternMatch) (bool, error) {
	total := 0
	sizes := make([]int, len(ii.Params))
	for i, p := range ii.Params {
		sz, err := vm.Types.StorageSize(p.Type)
		if err != nil {
			return false, err
		}
		sizes[i] = sz
		total += sz
	}
	if vm.stack.len() < total {
		return false, &FatalError{Reason: FatalStackUnderflow, Detail: "pattern_match arguments"}
	}

	window := vm.stack.peek(total)
	off := 0
	matched := true
	for i, p := range ii.Params {
		sz := sizes[i]
		if p.HasLiteral && !bytesEqual(window[off:off+sz], p.Literal) {
			matched = false
		}
		off += sz
	}

	if matched {
		if err := vm.invoke(ii.Target); err != nil {
			return false, err
		}
		return true, nil
	}
	if vm.isLastCandidate() {
		return false, &RuntimeFault{Kind: FaultPatternMatchExhausted, Target: ii.Target}
	}
	return false, nil
}

// typeMatchArg is one (type, is_ref) record of the type register,
// populated per dispatched parameter when a type resolver's entity
// frame is entered (spec §4.2/§4.4: TypeMatch(target, n_params) with
// a per-parameter (is_ref, type) record).
type typeMatchArg struct {
	Type  TypeID
	IsRef bool
}

// typeResolverArity discovers how many parameters the type resolver
// entity beginning at vm.pc dispatches on, by scanning ahead to its
// first TypeMatch — every candidate in one resolver declares the same
// arity, so the first is authoritative.
func (vm *VM) typeResolverArity() int {
	for i := vm.pc + 1; i < len(vm.code); i++ {
		switch c := vm.code[i].(type) {
		case ITypeMatch:
			return len(c.Params)
		case IEndEntity:
			return 0
		}
	}
	return 0
}

// tryTypeMatch compares the type register — one (type, is_ref) record
// per dispatched parameter, populated when the resolver's entity frame
// was entered — against every one of this candidate's declared
// parameters in turn; a reference-taking parameter and a value-taking
// parameter of the same type are distinct candidates.
func (vm *VM) tryTypeMatch(ii ITypeMatch) (bool, error) {
	matched := len(ii.Params) == len(vm.typeRegs)
	for i := 0; matched && i < len(ii.Params); i++ {
		p, reg := ii.Params[i], vm.typeRegs[i]
		if p.Type != reg.Type || p.IsRef != reg.IsRef {
			matched = false
		}
	}
	if matched {
		if err := vm.invoke(ii.Target); err != nil {
			return false, err
		}
		return true, nil
	}
	if vm.isLastCandidate() {
		return false, &RuntimeFault{Kind: FaultTypeMatchExhausted, Target: ii.Target}
	}
	return false, nil
}

// isLastCandidate reports whether the instruction at pc is the final
// PatternMatch/TypeMatch in its run, the signal dispatch uses to turn
// a failed match into a RuntimeFault instead of silently falling
// through into whatever instruction follows the resolver (always an
// Halt, per emitter_resolver.go, but dispatch itself shouldn't assume
// that).
func (vm *VM) isLastCandidate() bool {
	if vm.pc+1 >= len(vm.code) {
		return true
	}
	switch vm.code[vm.pc].(type) {
	case IPatternMatch:
		_, ok := vm.code[vm.pc+1].(IPatternMatch)
		return !ok
	case ITypeMatch:
		_, ok := vm.code[vm.pc+1].(ITypeMatch)
		return !ok
	}
	return true
}
