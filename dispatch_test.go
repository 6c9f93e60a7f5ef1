package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Testable property #7 (spec §8): pattern-match dispatch is
// deterministic — given a fixed candidate order and a fixed argument
// value, the same candidate is always selected, and candidates are
// tried in declaration order without consuming the operand stack
// until one actually matches.
func TestPatternMatchSelectsFirstMatchingLiteral(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		IPatternMatch{Target: "base", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: true, Literal: encodeI32(0)},
		}},
		IPatternMatch{Target: "recurse", Params: []PatternParam{
			{Type: TypeInteger32},
		}},
		IHalt{},

		IBeginEntity{Tag: EntityFunction, Name: "base"},
		IEndEntity{},
		IBeginEntity{Tag: EntityFunction, Name: "recurse"},
		IEndEntity{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.stack.push(encodeI32(0))

	vm.pc = 0
	matched, err := vm.tryPatternMatch(code[0].(IPatternMatch))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, vm.symbols["base"], vm.pc)
	assert.Equal(t, 4, vm.stack.len(), "a matched candidate must not have consumed the peeked argument")
}

func TestPatternMatchFallsThroughOnMismatch(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		IPatternMatch{Target: "base", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: true, Literal: encodeI32(0)},
		}},
		IPatternMatch{Target: "recurse", Params: []PatternParam{
			{Type: TypeInteger32},
		}},
		IHalt{},

		IBeginEntity{Tag: EntityFunction, Name: "base"},
		IEndEntity{},
		IBeginEntity{Tag: EntityFunction, Name: "recurse"},
		IEndEntity{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.stack.push(encodeI32(9))

	vm.pc = 0
	matched, err := vm.tryPatternMatch(code[0].(IPatternMatch))
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, 4, vm.stack.len(), "a failed candidate must leave the stack untouched for the next one")

	vm.pc = 1
	matched, err = vm.tryPatternMatch(code[1].(IPatternMatch))
	require.NoError(t, err)
	assert.True(t, matched, "a parameter with no literal always matches")
}

// Exhausting every candidate with no unconditional fallback raises a
// RuntimeFault rather than silently falling through into whatever
// instruction follows the resolver (spec §9 Open Question decision).
func TestPatternMatchExhaustionIsRuntimeFault(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		IPatternMatch{Target: "zero_case", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: true, Literal: encodeI32(0)},
		}},
		IPatternMatch{Target: "one_case", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: true, Literal: encodeI32(1)},
		}},
		IHalt{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.stack.push(encodeI32(7))

	vm.pc = 0
	matched, err := vm.tryPatternMatch(code[0].(IPatternMatch))
	require.NoError(t, err)
	assert.False(t, matched)

	vm.pc = 1
	_, err = vm.tryPatternMatch(code[1].(IPatternMatch))
	require.Error(t, err)
	var rf *RuntimeFault
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, FaultPatternMatchExhausted, rf.Kind)
	assert.True(t, rf.Recoverable())
}

// TypeMatch dispatch compares the type register populated on entry
// to a type-resolver entity, not the operand stack.
func TestTypeMatchSelectsOnRegisteredType(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		ITypeMatch{Target: "int_case", Params: []TypeMatchParam{{Type: TypeInteger32}}},
		ITypeMatch{Target: "string_case", Params: []TypeMatchParam{{Type: TypeString}}},
		IHalt{},

		IBeginEntity{Tag: EntityFunction, Name: "int_case"},
		IEndEntity{},
		IBeginEntity{Tag: EntityFunction, Name: "string_case"},
		IEndEntity{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.typeRegs = []typeMatchArg{{Type: TypeString}}

	vm.pc = 0
	matched, err := vm.tryTypeMatch(code[0].(ITypeMatch))
	require.NoError(t, err)
	assert.False(t, matched)

	vm.pc = 1
	matched, err = vm.tryTypeMatch(code[1].(ITypeMatch))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, vm.symbols["string_case"], vm.pc)
}

func TestTypeMatchExhaustionIsRuntimeFault(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		ITypeMatch{Target: "int_case", Params: []TypeMatchParam{{Type: TypeInteger32}}},
		IHalt{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.typeRegs = []typeMatchArg{{Type: TypeBoolean}}

	vm.pc = 0
	_, err := vm.tryTypeMatch(code[0].(ITypeMatch))
	require.Error(t, err)
	var rf *RuntimeFault
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, FaultTypeMatchExhausted, rf.Kind)
}

// A multi-parameter type resolver must compare every declared
// parameter, not just the first: two candidates sharing a first
// parameter type only diverge on the second, and a candidate whose
// first parameter is a reference must not match a value-taking
// dispatch of the same type.
func TestTypeMatchComparesEveryParameter(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		ITypeMatch{Target: "int_ref_string", Params: []TypeMatchParam{
			{Type: TypeInteger32, IsRef: true},
			{Type: TypeString},
		}},
		ITypeMatch{Target: "int_int", Params: []TypeMatchParam{
			{Type: TypeInteger32},
			{Type: TypeInteger32},
		}},
		ITypeMatch{Target: "int_string", Params: []TypeMatchParam{
			{Type: TypeInteger32},
			{Type: TypeString},
		}},
		IHalt{},

		IBeginEntity{Tag: EntityFunction, Name: "int_ref_string"},
		IEndEntity{},
		IBeginEntity{Tag: EntityFunction, Name: "int_int"},
		IEndEntity{},
		IBeginEntity{Tag: EntityFunction, Name: "int_string"},
		IEndEntity{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.typeRegs = []typeMatchArg{{Type: TypeInteger32}, {Type: TypeString}}

	vm.pc = 0
	matched, err := vm.tryTypeMatch(code[0].(ITypeMatch))
	require.NoError(t, err)
	assert.False(t, matched, "first candidate's first parameter is a reference, the dispatched value is not")

	vm.pc = 1
	matched, err = vm.tryTypeMatch(code[1].(ITypeMatch))
	require.NoError(t, err)
	assert.False(t, matched, "second candidate's second parameter type disagrees")

	vm.pc = 2
	matched, err = vm.tryTypeMatch(code[2].(ITypeMatch))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, vm.symbols["int_string"], vm.pc)
}

// BeginEntity of a type resolver pops one (type, is_ref) record per
// dispatched parameter off the data stack, in declaration order,
// discovering arity from the entity's first TypeMatch.
func TestBeginEntityTypeResolverPopsOneRecordPerParameter(t *testing.T) {
	types := NewTypeTable()
	code := []Instruction{
		IBeginEntity{Tag: EntityTypeResolver, Name: "dispatch"},
		ITypeMatch{Target: "t", Params: []TypeMatchParam{
			{Type: TypeInteger32},
			{Type: TypeString, IsRef: true},
		}},
		IHalt{},
		IEndEntity{},

		IBeginEntity{Tag: EntityFunction, Name: "t"},
		IEndEntity{},
	}
	vm := NewVM(code, types, NewConfig())
	vm.stack.push(encodeU32(uint32(TypeInteger32)))
	vm.stack.push(encodeU32(0))
	vm.stack.push(encodeU32(uint32(TypeString)))
	vm.stack.push(encodeU32(1))
	before := vm.stack.len()

	vm.pc = 0
	_, err := vm.step(code[0])
	require.NoError(t, err)
	assert.Equal(t, before-16, vm.stack.len(), "each (type, is_ref) record is an 8-byte pair")
	require.Len(t, vm.typeRegs, 2)
	assert.Equal(t, typeMatchArg{Type: TypeInteger32}, vm.typeRegs[0])
	assert.Equal(t, typeMatchArg{Type: TypeString, IsRef: true}, vm.typeRegs[1])
	assert.Equal(t, TypeInteger32, vm.typeReg, "typeReg mirrors typeRegs[0] for ITypeFromRegister")
}
