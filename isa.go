package epoch

// This file is C1: the closed instruction alphabet shared by the
// emitter (C2) and the runtime (C3/C4). Opcode assignments are the
// binary compatibility contract described in spec §6 — their order
// must never change once a stream format ships.

// StringHandle, BufferHandle and StructureHandle are stable 32-bit
// identifiers for pooled/freestore resources. Handle zero is reserved
// for the string pool (the empty/NUL entry); buffer and structure
// handle zero are simply never allocated by Freestore.Alloc or
// BufferStore.Alloc.
type StringHandle uint32
type BufferHandle uint32
type StructureHandle uint32

// EntityTag names the framed region a BeginEntity/EndEntity pair
// opens. A handful of tags carry VM-meaningful behavior (activation
// records, dispatch); any other string is accepted and treated as an
// opaque, meta-controlled region (loops, conditionals, and other
// constructs whose control semantics belong to the host VM, not this
// contract).
type EntityTag string

const (
	EntityFunction        EntityTag = "Function"
	EntityPatternResolver EntityTag = "PatternMatchingResolver"
	EntityTypeResolver    EntityTag = "TypeResolver"
	EntityFreeBlock       EntityTag = "FreeBlock"
	EntityGlobals         EntityTag = "Globals"
)

// scopeBearing reports whether entities of this tag are named,
// invocable units (functions and resolvers) that NewVM indexes in its
// symbol table. Whether any entity activates a lexical scope is
// decided separately, by a DefineLexicalScope instruction following
// its BeginEntity, for every tag alike.
func (t EntityTag) scopeBearing() bool {
	switch t {
	case EntityFunction, EntityPatternResolver, EntityTypeResolver:
		return true
	default:
		return false
	}
}

// VarOrigin classifies a scope variable's storage role.
type VarOrigin int

const (
	OriginLocal VarOrigin = iota
	OriginParameter
	OriginReturn
)

func (o VarOrigin) String() string {
	switch o {
	case OriginParameter:
		return "parameter"
	case OriginReturn:
		return "return"
	default:
		return "local"
	}
}

// ScopeVarRecord is one entry of a DefineLexicalScope instruction, and
// of the ScopeDescriptor it materializes in the emitter/runtime.
type ScopeVarRecord struct {
	Name        string
	Type        TypeID
	Origin      VarOrigin
	IsReference bool
}

// PatternParam is one per-parameter record following a PatternMatch
// instruction's header.
type PatternParam struct {
	Type       TypeID
	HasLiteral bool
	// Literal holds the wire-encoded bytes of the declared type's
	// storage size; only integers are supported per spec §4.2 (other
	// literal types are an emitter-reported not-implemented error).
	Literal []byte
}

// TypeMatchParam is one per-parameter record following a TypeMatch
// instruction's header.
type TypeMatchParam struct {
	IsRef bool
	Type  TypeID
}

// Instruction is implemented by every IR node the emitter produces.
// Unlike a jump-threaded machine, Epoch's control flow is carried by
// entity framing and named Invoke targets, so there is no label type
// in this instruction set — Invoke/call targets are resolved by name
// through the symbol table NewVM builds when a program is loaded (see
// runtime.go).
type Instruction interface {
	Name() string
}

// ---- Framing ----

type IBeginEntity struct {
	Tag  EntityTag
	Name string
}

func (IBeginEntity) Name() string { return "begin_entity" }

type IEndEntity struct{}

func (IEndEntity) Name() string { return "end_entity" }

type IBeginChain struct{}

func (IBeginChain) Name() string { return "begin_chain" }

type IEndChain struct{}

func (IEndChain) Name() string { return "end_chain" }

type IInvokeMeta struct{ Tag EntityTag }

func (IInvokeMeta) Name() string { return "invoke_meta" }

type IDefineLexicalScope struct {
	Name   string
	Parent string
	Vars   []ScopeVarRecord
}

func (IDefineLexicalScope) Name() string { return "define_lexical_scope" }

// ---- Stack ----

type IPush struct {
	Type  TypeID
	Value []byte
}

func (IPush) Name() string { return "push" }

type IPop struct{ Type TypeID }

func (IPop) Name() string { return "pop" }

// ---- Variables ----

type IRead struct{ ID string }

func (IRead) Name() string { return "read" }

type IAssign struct{}

func (IAssign) Name() string { return "assign" }

type IAssignThroughIdentifier struct{}

func (IAssignThroughIdentifier) Name() string { return "assign_through_identifier" }

type IAssignSumType struct{}

func (IAssignSumType) Name() string { return "assign_sum_type" }

// IBindRef binds the reference target named by ID. An empty ID marks
// the BindReferenceIndirect variant, where the handle to bind is
// already sitting on top of the stack instead of being named here.
type IBindRef struct{ ID string }

func (IBindRef) Name() string { return "bind_ref" }

type IBindMemberRef struct{ Member string }

func (IBindMemberRef) Name() string { return "bind_member_ref" }

type IBindMemberByHandle struct{ Member string }

func (IBindMemberByHandle) Name() string { return "bind_member_by_handle" }

type IReadRef struct{}

func (IReadRef) Name() string { return "read_ref" }

// ---- Control ----

type IInvoke struct{ Target string }

func (IInvoke) Name() string { return "invoke" }

type IInvokeIndirect struct{ VarName string }

func (IInvokeIndirect) Name() string { return "invoke_indirect" }

type IReturn struct{}

func (IReturn) Name() string { return "return" }

type IHalt struct{}

func (IHalt) Name() string { return "halt" }

type ISetRetVal struct{ VarName string }

func (ISetRetVal) Name() string { return "set_ret_val" }

// ---- Structures ----

type IDefineStructure struct {
	Type    TypeID
	Members []StructureMember
}

func (IDefineStructure) Name() string { return "define_structure" }

type IAllocStructure struct{ Type TypeID }

func (IAllocStructure) Name() string { return "alloc_structure" }

type ICopyFromStructure struct{ Member string }

func (ICopyFromStructure) Name() string { return "copy_from_structure" }

type ICopyToStructure struct{ Member string }

func (ICopyToStructure) Name() string { return "copy_to_structure" }

type ICopyStructure struct{}

func (ICopyStructure) Name() string { return "copy_structure" }

type ICopyBuffer struct{}

func (ICopyBuffer) Name() string { return "copy_buffer" }

// ---- Sum types ----

type ISumTypeDef struct {
	Type  TypeID
	Bases []TypeID
}

func (ISumTypeDef) Name() string { return "sum_type_def" }

type IConstructSumType struct{}

func (IConstructSumType) Name() string { return "construct_sum_type" }

type ITypeFromRegister struct{}

func (ITypeFromRegister) Name() string { return "type_from_register" }

// ---- Dispatch ----

type IPatternMatch struct {
	Target string
	Params []PatternParam
}

func (IPatternMatch) Name() string { return "pattern_match" }

type ITypeMatch struct {
	Target string
	Params []TypeMatchParam
}

func (ITypeMatch) Name() string { return "type_match" }

// ---- Pool / Meta ----

type IPoolString struct {
	Handle StringHandle
	Value  string
}

func (IPoolString) Name() string { return "pool_string" }

// ITag attaches arbitrary key/value metadata to the entity currently
// open on the emission stack (source maps, documentation, debug
// hints). It carries no runtime semantics; the VM skips it.
type ITag struct {
	Entity string
	Key    string
	Items  []string
}

func (ITag) Name() string { return "tag" }

// ---- Wire opcodes ----

// NOTE: changing the order of these values breaks the on-disk/ wire
// ABI (spec §6: "Opcode assignments are stable and form the
// compatibility contract").
const (
	opBeginEntity byte = iota
	opEndEntity
	opBeginChain
	opEndChain
	opInvokeMeta
	opDefineLexicalScope
	opPush
	opPop
	opRead
	opAssign
	opAssignThroughIdentifier
	opAssignSumType
	opBindRef
	opBindMemberRef
	opBindMemberByHandle
	opReadRef
	opInvoke
	opInvokeIndirect
	opReturn
	opHalt
	opSetRetVal
	opDefineStructure
	opAllocStructure
	opCopyFromStructure
	opCopyToStructure
	opCopyStructure
	opCopyBuffer
	opSumTypeDef
	opConstructSumType
	opTypeFromRegister
	opPatternMatch
	opTypeMatch
	opPoolString
	opTag
)

var opNames = map[byte]string{
	opBeginEntity:             "begin_entity",
	opEndEntity:               "end_entity",
	opBeginChain:              "begin_chain",
	opEndChain:                "end_chain",
	opInvokeMeta:              "invoke_meta",
	opDefineLexicalScope:      "define_lexical_scope",
	opPush:                    "push",
	opPop:                     "pop",
	opRead:                    "read",
	opAssign:                  "assign",
	opAssignThroughIdentifier: "assign_through_identifier",
	opAssignSumType:           "assign_sum_type",
	opBindRef:                 "bind_ref",
	opBindMemberRef:           "bind_member_ref",
	opBindMemberByHandle:      "bind_member_by_handle",
	opReadRef:                 "read_ref",
	opInvoke:                  "invoke",
	opInvokeIndirect:          "invoke_indirect",
	opReturn:                  "return",
	opHalt:                    "halt",
	opSetRetVal:               "set_ret_val",
	opDefineStructure:         "define_structure",
	opAllocStructure:          "alloc_structure",
	opCopyFromStructure:       "copy_from_structure",
	opCopyToStructure:         "copy_to_structure",
	opCopyStructure:           "copy_structure",
	opCopyBuffer:              "copy_buffer",
	opSumTypeDef:              "sum_type_def",
	opConstructSumType:        "construct_sum_type",
	opTypeFromRegister:        "type_from_register",
	opPatternMatch:            "pattern_match",
	opTypeMatch:               "type_match",
	opPoolString:              "pool_string",
	opTag:                     "tag",
}
