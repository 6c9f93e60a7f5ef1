package epoch

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Testable property #2 (spec §8): disassembling any emitted stream
// and re-assembling the text reproduces an identical instruction
// sequence; the leading "%06d" index on every line is a discardable
// comment, not semantic content.
func TestDisassembleAssembleRoundTrip(t *testing.T) {
	code := []Instruction{
		IBeginEntity{Tag: EntityFunction, Name: "f"},
		IDefineLexicalScope{Name: "f", Vars: []ScopeVarRecord{
			{Name: "x", Type: TypeInteger32, Origin: OriginParameter},
			{Name: "y", Type: TypeInteger32, Origin: OriginLocal, IsReference: true},
		}},
		IPush{Type: TypeInteger32, Value: encodeI32(42)},
		IBindRef{ID: "x"},
		IAssign{},
		IRead{ID: "x"},
		IBindMemberRef{Member: "m"},
		IInvoke{Target: "debugwrite"},
		ISetRetVal{VarName: "x"},
		IReturn{},
		IEndEntity{},
		IHalt{},
	}

	text := Disassemble(code)
	got, err := Assemble(text)
	require.NoError(t, err)

	if diff := cmp.Diff(code, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// An indirect bind_ref (the empty-ID sentinel used by
// BindMemberByHandle-driven indirection) must also survive the
// textual round trip via its "$indirect" marker.
func TestDisassembleAssembleIndirectBindRef(t *testing.T) {
	code := []Instruction{
		IBindRef{ID: ""},
		IAssign{},
	}
	text := Disassemble(code)
	got, err := Assemble(text)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

// PatternMatch params round-trip both the literal and wildcard forms.
func TestDisassembleAssemblePatternMatch(t *testing.T) {
	code := []Instruction{
		IPatternMatch{Target: "fact_base", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: true, Literal: encodeI32(0)},
		}},
		IPatternMatch{Target: "fact_rec", Params: []PatternParam{
			{Type: TypeInteger32, HasLiteral: false},
		}},
		IHalt{},
	}
	text := Disassemble(code)
	got, err := Assemble(text)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

// HighlightDisassemble wraps the same tokens in ANSI color codes but
// must never change the underlying instruction text enough to break
// re-assembly once color codes are stripped by the terminal (this
// module doesn't test ANSI stripping, only that the plain and colored
// renderers agree on structure).
func TestHighlightDisassembleSameLineCountAsPlain(t *testing.T) {
	code := []Instruction{
		IInvoke{Target: "entrypoint"},
		IHalt{},
	}
	plain := Disassemble(code)
	colored := HighlightDisassemble(code)
	assert.Equal(t, strings.Count(plain, "\n"), strings.Count(colored, "\n"))
	assert.NotEqual(t, plain, colored)
}
