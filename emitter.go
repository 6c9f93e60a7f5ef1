package epoch

import "encoding/binary"

// This file is C2: the append-only translation from the semantic IR
// (ir.go) into the C1 instruction alphabet (isa.go). It is modeled
// directly on the teacher's grammar_compiler.go: a single `emitter`
// struct accumulates instructions into `code` while walking the IR
// once, strings are pooled through a dedup map the same way
// `pushString` pools production names, and nothing is backpatched —
// Epoch's Invoke/PatternMatch/TypeMatch targets carry the callee's
// name directly and are resolved by NewVM's load-time symbol scan
// (runtime.go) instead
// of the teacher's label/openAddrs scheme, since entity framing
// (BeginEntity/EndEntity) replaces jump-label control flow entirely.

// Program is the emitter's output: a flat instruction stream plus the
// metadata encode.go needs to turn it into bytes.
type Program struct {
	Code       []Instruction
	EntryPoint string
}

type emitter struct {
	cfg   *Config
	types *TypeTable

	code        []Instruction
	diagnostics []Diagnostic

	stringPool map[string]StringHandle
	nextString StringHandle

	// scopes is the lexical scope stack currently open, innermost
	// last, used to resolve a bare identifier's declared type for the
	// value-copy rules in emitter_expr.go.
	scopes []*ScopeDescriptor
}

// Emit translates a semantic-IR Module into a Program, following the
// emission order this module's dialect of the spec fixes: pool every
// string literal first, then structure layouts, then sum type
// layouts, then the global scope (opened), then the entrypoint
// invocation, then every function body, then the global scope closed
// in the reverse of the order it was opened.
func Emit(m *Module, types *TypeTable, cfg *Config) (*Program, error) {
	e := &emitter{
		cfg:        cfg,
		types:      types,
		stringPool: map[string]StringHandle{},
		// Handle 0 is reserved (spec §3: "the handle 0 is reserved");
		// the first pooled literal gets handle 1.
		nextString: 1,
	}

	e.prewalkStrings(m)
	e.emitStructures(m)
	e.emitSumTypes(m)

	for _, g := range m.Globals {
		e.emit(IBeginEntity{Tag: EntityGlobals, Name: g.Name})
		if g.Scope != nil {
			e.pushScope(g.Scope)
			e.emit(IDefineLexicalScope{Name: g.Scope.Name, Parent: g.Scope.Parent, Vars: g.Scope.Vars})
		} else {
			e.pushScope(&ScopeDescriptor{Name: g.Name})
		}
		if err := e.emitBlock(g.Body); err != nil {
			return nil, err
		}
	}

	if m.EntryPoint != "" {
		e.emit(IInvoke{Target: m.EntryPoint})
	}
	e.emit(IHalt{})

	for _, fn := range m.Functions {
		if err := e.emitFunction(fn); err != nil {
			return nil, err
		}
	}

	for i := len(m.Globals) - 1; i >= 0; i-- {
		e.popScope()
		e.emit(IEndEntity{})
	}

	if err := EmitDiagnostics(e.diagnostics); err != nil {
		return nil, err
	}

	return &Program{Code: e.code, EntryPoint: m.EntryPoint}, nil
}

func (e *emitter) emit(i Instruction) { e.code = append(e.code, i) }

func (e *emitter) report(d Diagnostic) { e.diagnostics = append(e.diagnostics, d) }

// poolString emits a PoolString instruction the first time a given
// string is seen and returns its handle on every call thereafter
// (spec §3: PoolString is idempotent).
func (e *emitter) poolString(s string) StringHandle {
	if h, ok := e.stringPool[s]; ok {
		return h
	}
	h := e.nextString
	e.nextString++
	e.stringPool[s] = h
	e.emit(IPoolString{Handle: h, Value: s})
	return h
}

func (e *emitter) pushScope(s *ScopeDescriptor) { e.scopes = append(e.scopes, s) }

func (e *emitter) popScope() { e.scopes = e.scopes[:len(e.scopes)-1] }

// lookupVar walks the open scope stack innermost-first, matching the
// runtime's own parent-chain lookup (scope.go).
func (e *emitter) lookupVar(name string) (ScopeVarRecord, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		for _, v := range e.scopes[i].Vars {
			if v.Name == name {
				return v, true
			}
		}
	}
	return ScopeVarRecord{}, false
}

// prewalkStrings pools every string literal before any other
// instruction is emitted, per this module's program layout.
func (e *emitter) prewalkStrings(m *Module) {
	for _, g := range m.Globals {
		e.prewalkBlockStrings(g.Body)
	}
	for _, fn := range m.Functions {
		if fn.Body != nil {
			e.prewalkBlockStrings(fn.Body)
		}
	}
}

func (e *emitter) prewalkBlockStrings(b *CodeBlock) {
	if b == nil {
		return
	}
	for _, entry := range b.Entries {
		switch en := entry.(type) {
		case AssignmentEntry:
			e.prewalkAssignStrings(en.Assign)
		case StatementEntry:
			for _, a := range en.Args {
				e.prewalkExprStrings(a)
			}
		case InnerBlockEntry:
			e.prewalkBlockStrings(en.Block)
		case EntityEntry:
			e.prewalkEntityStrings(en.Primary)
			for _, c := range en.Chain {
				e.prewalkEntityStrings(c)
			}
		}
	}
}

func (e *emitter) prewalkEntityStrings(inv EntityInvocation) {
	for _, p := range inv.Params {
		e.prewalkExprStrings(p)
	}
	e.prewalkBlockStrings(inv.Body)
}

func (e *emitter) prewalkAssignStrings(a *Assignment) {
	if a == nil {
		return
	}
	if a.RHSAssign != nil {
		e.prewalkAssignStrings(a.RHSAssign)
	}
	if a.RHSExpr != nil {
		e.prewalkExprStrings(a.RHSExpr)
	}
}

func (e *emitter) prewalkExprStrings(expr *Expression) {
	if expr == nil {
		return
	}
	for _, atom := range expr.Atoms {
		switch a := atom.(type) {
		case LiteralStringAtom:
			e.poolString(a.Value)
		case ParentheticalAtom:
			e.prewalkExprStrings(a.Inner)
		case InnerStatementAtom:
			for _, arg := range a.Stmt.Args {
				e.prewalkExprStrings(arg)
			}
		}
	}
}

func (e *emitter) emitStructures(m *Module) {
	for _, s := range m.Structures {
		e.emit(IDefineStructure{Type: s.Type, Members: s.Members})
		layout := &StructureLayout{TypeID: s.Type, Name: s.Name, Members: s.Members}
		for _, mem := range s.Members {
			if sz, err := e.types.StorageSize(mem.Type); err == nil {
				layout.Size += sz
			}
		}
		e.types.DefineStructure(layout)
	}
}

func (e *emitter) emitSumTypes(m *Module) {
	for _, st := range m.SumTypes {
		e.emit(ISumTypeDef{Type: st.Type, Bases: st.Bases})
		max := 0
		for _, b := range st.Bases {
			if sz, err := e.types.StorageSize(b); err == nil && sz > max {
				max = sz
			}
		}
		e.types.DefineSumType(&SumTypeLayout{
			TypeID:      st.Type,
			Name:        st.Name,
			Bases:       st.Bases,
			MaxVariant:  max,
			StorageSize: 4 + max,
		})
	}
}

func (e *emitter) emitFunction(fn FunctionDef) error {
	if fn.Resolver != nil {
		tag := EntityPatternResolver
		if fn.Resolver.Kind == ResolverType {
			tag = EntityTypeResolver
		}
		e.emit(IBeginEntity{Tag: tag, Name: fn.Name})
		if err := e.emitResolver(fn.Resolver); err != nil {
			return err
		}
		e.emit(IEndEntity{})
		return nil
	}

	e.emit(IBeginEntity{Tag: EntityFunction, Name: fn.Name})
	if fn.Scope != nil {
		e.pushScope(fn.Scope)
		e.emit(IDefineLexicalScope{Name: fn.Scope.Name, Parent: fn.Scope.Parent, Vars: fn.Scope.Vars})
	} else {
		e.pushScope(&ScopeDescriptor{Name: fn.Name})
	}

	if err := e.emitBlock(fn.Body); err != nil {
		return err
	}

	e.popScope()
	e.emit(IReturn{})
	e.emit(IEndEntity{})
	return nil
}

func (e *emitter) emitBlock(b *CodeBlock) error {
	if b == nil {
		return nil
	}
	for _, entry := range b.Entries {
		if err := e.emitEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) emitEntry(entry Entry) error {
	switch en := entry.(type) {
	case AssignmentEntry:
		return e.emitAssignment(en.Assign)
	case StatementEntry:
		return e.emitStatement(&en)
	case PreOpStatementEntry:
		return e.emitPreOp(&en)
	case PostOpStatementEntry:
		return e.emitPostOp(&en)
	case InnerBlockEntry:
		return e.emitBlock(en.Block)
	case EntityEntry:
		return e.emitEntity(&en)
	default:
		return &NotImplementedError{Feature: "unknown code block entry kind"}
	}
}

func (e *emitter) emitStatement(s *StatementEntry) error {
	for _, arg := range s.Args {
		if err := e.emitExpression(arg); err != nil {
			return err
		}
	}
	e.emit(IInvoke{Target: s.Name})
	return nil
}

func (e *emitter) emitEntity(en *EntityEntry) error {
	if err := e.emitEntityInvocation(en.Primary); err != nil {
		return err
	}
	if len(en.Chain) > 0 {
		e.emit(IBeginChain{})
		for _, c := range en.Chain {
			if err := e.emitEntityInvocation(c); err != nil {
				return err
			}
		}
		e.emit(IEndChain{})
	}
	return nil
}

func (e *emitter) emitEntityInvocation(inv EntityInvocation) error {
	for _, p := range inv.Params {
		if err := e.emitExpression(p); err != nil {
			return err
		}
	}
	e.emit(IBeginEntity{Tag: inv.Tag, Name: inv.ScopeName})
	if inv.Scope != nil {
		e.pushScope(inv.Scope)
		e.emit(IDefineLexicalScope{Name: inv.Scope.Name, Parent: inv.Scope.Parent, Vars: inv.Scope.Vars})
	}
	e.emit(IInvokeMeta{Tag: inv.Tag})
	if err := e.emitBlock(inv.Body); err != nil {
		return err
	}
	if inv.Scope != nil {
		e.popScope()
	}
	e.emit(IEndEntity{})
	return nil
}

func encodeI32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}
