package epoch

import (
	"encoding/binary"
	"math"
)

// Value-copy rules, reference binding, and assignment emission (spec
// §4.2/§4.3): primitives are copied by value on every read; Buffer and
// Structure operands get an explicit CopyBuffer/CopyStructure right
// after the read that produced their handle, so no two live bindings
// ever alias the same freestore slot by accident. Grounded the same
// way grammar_compiler.go structures one function per AST node kind,
// though here a type switch replaces the teacher's Accept/Visitor
// pair since this IR has no third-party extension surface.

func (e *emitter) emitExpression(expr *Expression) error {
	for _, atom := range expr.Atoms {
		if err := e.emitAtom(atom); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) emitAtom(atom ExpressionAtom) error {
	switch a := atom.(type) {
	case ParentheticalAtom:
		// Open Question (spec §9): parenthetical atoms carry no scope
		// of their own, so this is a pass-through to the inner
		// expression rather than a framed region.
		return e.emitExpression(a.Inner)

	case IdentifierAtom:
		return e.emitMemberChainRead(&MemberChain{Path: a.Path})

	case OperatorAtom:
		e.emit(IRead{ID: a.Name})
		return nil

	case LiteralStringAtom:
		h := e.poolString(a.Value)
		e.emit(IPush{Type: TypeString, Value: encodeU32(uint32(h))})
		return nil

	case LiteralBoolAtom:
		v := byte(0)
		if a.Value {
			v = 1
		}
		e.emit(IPush{Type: TypeBoolean, Value: []byte{v}})
		return nil

	case LiteralI32Atom:
		e.emit(IPush{Type: TypeInteger32, Value: encodeI32(a.Value)})
		return nil

	case LiteralI16Atom:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(a.Value))
		e.emit(IPush{Type: TypeInteger16, Value: b})
		return nil

	case LiteralRealAtom:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(a.Value))
		e.emit(IPush{Type: TypeReal32, Value: b})
		return nil

	case InnerStatementAtom:
		return e.emitStatement(a.Stmt)

	default:
		return &NotImplementedError{Feature: "unsupported expression atom"}
	}
}

// emitMemberChainRead reads a bare identifier or walks a member chain
// `a.b.c`, applying the value-copy rule for the chain's resolved type
// at the very end.
func (e *emitter) emitMemberChainRead(mc *MemberChain) error {
	if len(mc.Path) == 0 {
		return &NotImplementedError{Feature: "empty member chain read"}
	}

	e.emit(IRead{ID: mc.Path[0]})

	rec, known := e.lookupVar(mc.Path[0])
	t := rec.Type

	for _, member := range mc.Path[1:] {
		e.emit(ICopyFromStructure{Member: member})
		if known {
			if layout, ok := e.types.Structure(t); ok {
				if m, ok := layout.MemberByName(member); ok {
					t = m.Type
					known = true
					continue
				}
			}
			known = false
		}
	}

	if known {
		e.emitCopyIfHandle(t)
	}
	return nil
}

// emitCopyIfHandle appends the deep-copy instruction a handle-typed
// value needs right after being read, so the reader's binding can
// never alias the freestore slot the original owner holds.
func (e *emitter) emitCopyIfHandle(t TypeID) {
	if t == TypeBuffer {
		e.emit(ICopyBuffer{})
		return
	}
	if t.IsCustom() {
		if _, ok := e.types.Structure(t); ok {
			e.emit(ICopyStructure{})
		}
	}
}

// emitBindMemberChain binds a reference to an L-value path, leaving
// the bound reference ready for ReadRef/Assign.
func (e *emitter) emitBindMemberChain(mc *MemberChain) error {
	if len(mc.Path) == 0 {
		return &NotImplementedError{Feature: "empty assignment target"}
	}
	e.emit(IBindRef{ID: mc.Path[0]})
	for _, member := range mc.Path[1:] {
		e.emit(IBindMemberRef{Member: member})
	}
	return nil
}

func (e *emitter) emitAssignment(a *Assignment) error {
	if a.RHSAssign != nil {
		// Right-associative chained assignment: `a = b = c` evaluates
		// the innermost assignment first, then re-reads its target's
		// freshly stored value as this assignment's own RHS.
		if err := e.emitAssignment(a.RHSAssign); err != nil {
			return err
		}
		if err := e.emitMemberChainRead(a.RHSAssign.LHS); err != nil {
			return err
		}
	} else {
		if err := e.emitExpression(a.RHSExpr); err != nil {
			return err
		}
	}

	if a.Op != "" && a.Op != "=" {
		// Compound assignment (`x += expr`): the RHS is already on the
		// stack; push the current value of the target and invoke the
		// named operator, whose result replaces both operands.
		if err := e.emitMemberChainRead(a.LHS); err != nil {
			return err
		}
		e.emit(IInvoke{Target: a.Op})
	}

	if err := e.emitBindMemberChain(a.LHS); err != nil {
		return err
	}
	// Assign consumes whatever BindRef/BindMemberRef chained to, be it
	// an arena slot or a structure member (spec §8 scenario S3: `a.b =
	// 5` emits `BindRef a; BindMemberRef b; Assign`, not a separate
	// opcode per chain length).
	e.emit(IAssign{})
	return nil
}

// emitPreOp / emitPostOp model `++x` / `x++`: the operand is bound by
// reference and the named operator is invoked directly against that
// binding. Nothing is emitted after the Invoke to read or discard the
// return register; both forms only ever occur in statement position
// (spec §4.2 Entry kinds).
func (e *emitter) emitPreOp(s *PreOpStatementEntry) error {
	if err := e.emitBindMemberChain(s.Operand); err != nil {
		return err
	}
	e.emit(IInvoke{Target: s.Op})
	return nil
}

func (e *emitter) emitPostOp(s *PostOpStatementEntry) error {
	if err := e.emitBindMemberChain(s.Operand); err != nil {
		return err
	}
	e.emit(IInvoke{Target: s.Op})
	return nil
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
