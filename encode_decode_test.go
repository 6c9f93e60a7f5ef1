package epoch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("round trips a representative instruction set", func(t *testing.T) {
		code := []Instruction{
			IBeginEntity{Tag: EntityGlobals, Name: "g"},
			IDefineLexicalScope{Name: "g", Parent: "", Vars: []ScopeVarRecord{
				{Name: "x", Type: TypeInteger32, Origin: OriginLocal},
			}},
			IPush{Type: TypeInteger32, Value: encodeU32(42)},
			IBindRef{ID: "x"},
			IAssign{},
			IEndEntity{},
			IInvoke{Target: "main"},
			IHalt{},
			IBeginEntity{Tag: EntityFunction, Name: "main"},
			IDefineLexicalScope{Name: "main", Parent: ""},
			IAllocStructure{Type: CustomBase + 1},
			IBindMemberByHandle{Member: "field"},
			IReadRef{},
			IPop{Type: TypeInteger32},
			IReturn{},
			IEndEntity{},
			IDefineStructure{Type: CustomBase + 1, Members: []StructureMember{
				{Name: "field", Type: TypeInteger32, Offset: 0},
			}},
			ISumTypeDef{Type: CustomBase + 2, Bases: []TypeID{TypeInteger32, TypeBoolean}},
			IPatternMatch{Target: "a", Params: []PatternParam{
				{Type: TypeInteger32, HasLiteral: true, Literal: encodeU32(1)},
			}},
			ITypeMatch{Target: "b", Params: []TypeMatchParam{{IsRef: true, Type: TypeInteger32}}},
			IPoolString{Handle: 0, Value: "hello"},
			ITag{Entity: "main", Key: "doc", Items: []string{"a", "b"}},
		}

		bc, err := Encode(&Program{Code: code})
		require.NoError(t, err)

		got, err := Decode(bc)
		require.NoError(t, err)

		if diff := cmp.Diff(code, got); diff != "" {
			t.Fatalf("decoded stream differs from original (-want +got):\n%s", diff)
		}
	})

	t.Run("bind_ref indirect variant survives the empty-ID sentinel", func(t *testing.T) {
		code := []Instruction{IBindRef{ID: ""}, IHalt{}}
		bc, err := Encode(&Program{Code: code})
		require.NoError(t, err)
		got, err := Decode(bc)
		require.NoError(t, err)
		assert.Equal(t, code, got)
	})

	t.Run("rejects a stream with a bad magic", func(t *testing.T) {
		_, err := Decode(&Bytecode{Bytes: []byte("NOPE")})
		require.Error(t, err)
		var fe *FatalError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FatalMalformedStream, fe.Reason)
	})

	t.Run("rejects an unsupported stream version", func(t *testing.T) {
		bc, err := Encode(&Program{Code: []Instruction{IHalt{}}})
		require.NoError(t, err)
		corrupted := append([]byte(nil), bc.Bytes...)
		corrupted[len(magic)] = streamVersion + 1
		_, err = Decode(&Bytecode{Bytes: corrupted})
		require.Error(t, err)
	})

	t.Run("a repeated name is interned once", func(t *testing.T) {
		code := []Instruction{
			IInvoke{Target: "foo"},
			IInvoke{Target: "foo"},
			IInvoke{Target: "bar"},
			IHalt{},
		}
		bc, err := Encode(&Program{Code: code})
		require.NoError(t, err)

		got, err := Decode(bc)
		require.NoError(t, err)
		assert.Equal(t, code, got)
	})
}
