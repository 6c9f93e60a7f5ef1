package epoch

import "encoding/binary"

// This file is C1's wire format: turning a flat []Instruction into
// bytes. It follows the teacher's vm_encoder.go shape (one forward
// pass, append-only byte slice, binary.LittleEndian helpers) but has
// no label table to resolve, because nothing in this instruction set
// jumps to a byte offset — Invoke/PatternMatch/TypeMatch carry a
// callee name, and it's runtime.go's job (not the encoder's) to map
// names to stream positions when a program is loaded, the same way a
// linker resolves symbols once rather than the compiler guessing
// addresses up front.
//
// Every name-shaped field (identifiers, entity names, member names)
// is interned into a single name pool emitted as a header, so each
// such field is encoded as a fixed-width uint32 index instead of a
// variable-length string splice in the middle of the stream. Push
// values, PoolString text and per-instruction record lists keep their
// variable length.

const (
	magic         = "EPBC"
	streamVersion = 1
)

// Bytecode is the encoded form of a Program: the name pool plus the
// opcode stream.
type Bytecode struct {
	Bytes []byte
}

type encoder struct {
	names    []string
	namesIdx map[string]uint32
	code     []byte
}

func Encode(p *Program) (*Bytecode, error) {
	e := &encoder{namesIdx: map[string]uint32{}}

	for _, instr := range p.Code {
		e.internNames(instr)
	}
	for _, instr := range p.Code {
		if err := e.encodeInstruction(instr); err != nil {
			return nil, err
		}
	}

	var out []byte
	out = append(out, magic...)
	out = append(out, streamVersion)
	out = appendU32(out, uint32(len(e.names)))
	for _, n := range e.names {
		out = appendString(out, n)
	}
	out = appendU32(out, uint32(len(e.code)))
	out = append(out, e.code...)

	return &Bytecode{Bytes: out}, nil
}

func (e *encoder) name(s string) uint32 {
	if idx, ok := e.namesIdx[s]; ok {
		return idx
	}
	idx := uint32(len(e.names))
	e.namesIdx[s] = idx
	e.names = append(e.names, s)
	return idx
}

func (e *encoder) internNames(instr Instruction) {
	switch ii := instr.(type) {
	case IBeginEntity:
		e.name(string(ii.Tag))
		e.name(ii.Name)
	case IDefineLexicalScope:
		e.name(ii.Name)
		e.name(ii.Parent)
		for _, v := range ii.Vars {
			e.name(v.Name)
		}
	case IRead:
		e.name(ii.ID)
	case IBindRef:
		if ii.ID != "" {
			e.name(ii.ID)
		}
	case IBindMemberRef:
		e.name(ii.Member)
	case IBindMemberByHandle:
		e.name(ii.Member)
	case IInvoke:
		e.name(ii.Target)
	case IInvokeIndirect:
		e.name(ii.VarName)
	case ISetRetVal:
		e.name(ii.VarName)
	case IDefineStructure:
		for _, m := range ii.Members {
			e.name(m.Name)
		}
	case ICopyFromStructure:
		e.name(ii.Member)
	case ICopyToStructure:
		e.name(ii.Member)
	case IPatternMatch:
		e.name(ii.Target)
	case ITypeMatch:
		e.name(ii.Target)
	case ITag:
		e.name(ii.Entity)
		e.name(ii.Key)
		for _, it := range ii.Items {
			e.name(it)
		}
	}
}

func (e *encoder) encodeInstruction(instr Instruction) error {
	switch ii := instr.(type) {
	case IBeginEntity:
		e.code = append(e.code, opBeginEntity)
		e.code = appendU32(e.code, e.name(string(ii.Tag)))
		e.code = appendU32(e.code, e.name(ii.Name))
	case IEndEntity:
		e.code = append(e.code, opEndEntity)
	case IBeginChain:
		e.code = append(e.code, opBeginChain)
	case IEndChain:
		e.code = append(e.code, opEndChain)
	case IInvokeMeta:
		e.code = append(e.code, opInvokeMeta)
		e.code = appendU32(e.code, e.name(string(ii.Tag)))
	case IDefineLexicalScope:
		e.code = append(e.code, opDefineLexicalScope)
		e.code = appendU32(e.code, e.name(ii.Name))
		e.code = appendU32(e.code, e.name(ii.Parent))
		e.code = appendU16(e.code, uint16(len(ii.Vars)))
		for _, v := range ii.Vars {
			e.code = appendU32(e.code, e.name(v.Name))
			e.code = appendU32(e.code, uint32(v.Type))
			e.code = append(e.code, byte(v.Origin))
			e.code = appendBool(e.code, v.IsReference)
		}

	case IPush:
		e.code = append(e.code, opPush)
		e.code = appendU32(e.code, uint32(ii.Type))
		e.code = appendU16(e.code, uint16(len(ii.Value)))
		e.code = append(e.code, ii.Value...)
	case IPop:
		e.code = append(e.code, opPop)
		e.code = appendU32(e.code, uint32(ii.Type))

	case IRead:
		e.code = append(e.code, opRead)
		e.code = appendU32(e.code, e.name(ii.ID))
	case IAssign:
		e.code = append(e.code, opAssign)
	case IAssignThroughIdentifier:
		e.code = append(e.code, opAssignThroughIdentifier)
	case IAssignSumType:
		e.code = append(e.code, opAssignSumType)
	case IBindRef:
		e.code = append(e.code, opBindRef)
		if ii.ID == "" {
			e.code = appendU32(e.code, 0xFFFFFFFF)
		} else {
			e.code = appendU32(e.code, e.name(ii.ID))
		}
	case IBindMemberRef:
		e.code = append(e.code, opBindMemberRef)
		e.code = appendU32(e.code, e.name(ii.Member))
	case IBindMemberByHandle:
		e.code = append(e.code, opBindMemberByHandle)
		e.code = appendU32(e.code, e.name(ii.Member))
	case IReadRef:
		e.code = append(e.code, opReadRef)

	case IInvoke:
		e.code = append(e.code, opInvoke)
		e.code = appendU32(e.code, e.name(ii.Target))
	case IInvokeIndirect:
		e.code = append(e.code, opInvokeIndirect)
		e.code = appendU32(e.code, e.name(ii.VarName))
	case IReturn:
		e.code = append(e.code, opReturn)
	case IHalt:
		e.code = append(e.code, opHalt)
	case ISetRetVal:
		e.code = append(e.code, opSetRetVal)
		e.code = appendU32(e.code, e.name(ii.VarName))

	case IDefineStructure:
		e.code = append(e.code, opDefineStructure)
		e.code = appendU32(e.code, uint32(ii.Type))
		e.code = appendU16(e.code, uint16(len(ii.Members)))
		for _, m := range ii.Members {
			e.code = appendU32(e.code, e.name(m.Name))
			e.code = appendU32(e.code, uint32(m.Type))
			e.code = appendU32(e.code, uint32(m.Offset))
		}
	case IAllocStructure:
		e.code = append(e.code, opAllocStructure)
		e.code = appendU32(e.code, uint32(ii.Type))
	case ICopyFromStructure:
		e.code = append(e.code, opCopyFromStructure)
		e.code = appendU32(e.code, e.name(ii.Member))
	case ICopyToStructure:
		e.code = append(e.code, opCopyToStructure)
		e.code = appendU32(e.code, e.name(ii.Member))
	case ICopyStructure:
		e.code = append(e.code, opCopyStructure)
	case ICopyBuffer:
		e.code = append(e.code, opCopyBuffer)

	case ISumTypeDef:
		e.code = append(e.code, opSumTypeDef)
		e.code = appendU32(e.code, uint32(ii.Type))
		e.code = appendU16(e.code, uint16(len(ii.Bases)))
		for _, b := range ii.Bases {
			e.code = appendU32(e.code, uint32(b))
		}
	case IConstructSumType:
		e.code = append(e.code, opConstructSumType)
	case ITypeFromRegister:
		e.code = append(e.code, opTypeFromRegister)

	case IPatternMatch:
		e.code = append(e.code, opPatternMatch)
		e.code = appendU32(e.code, e.name(ii.Target))
		e.code = appendU16(e.code, uint16(len(ii.Params)))
		for _, p := range ii.Params {
			e.code = appendU32(e.code, uint32(p.Type))
			e.code = appendBool(e.code, p.HasLiteral)
			e.code = appendU16(e.code, uint16(len(p.Literal)))
			e.code = append(e.code, p.Literal...)
		}
	case ITypeMatch:
		e.code = append(e.code, opTypeMatch)
		e.code = appendU32(e.code, e.name(ii.Target))
		e.code = appendU16(e.code, uint16(len(ii.Params)))
		for _, p := range ii.Params {
			e.code = appendBool(e.code, p.IsRef)
			e.code = appendU32(e.code, uint32(p.Type))
		}

	case IPoolString:
		e.code = append(e.code, opPoolString)
		e.code = appendU32(e.code, uint32(ii.Handle))
		e.code = appendString(e.code, ii.Value)

	case ITag:
		e.code = append(e.code, opTag)
		e.code = appendU32(e.code, e.name(ii.Entity))
		e.code = appendU32(e.code, e.name(ii.Key))
		e.code = appendU16(e.code, uint16(len(ii.Items)))
		for _, it := range ii.Items {
			e.code = appendU32(e.code, e.name(it))
		}

	default:
		return &NotImplementedError{Feature: "encoding unknown instruction"}
	}
	return nil
}

func appendU16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func appendU32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendString(b []byte, s string) []byte {
	b = appendU16(b, uint16(len(s)))
	return append(b, s...)
}
