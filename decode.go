package epoch

import "encoding/binary"

// decode.go is encode.go's mirror image: bytes back to []Instruction,
// used for disassembly and the round-trip property tests (the teacher
// has no equivalent, since its VM only ever executes bytes and never
// reconstructs the label-threaded IR it started from; this module's
// entity-framed control flow is IR-transparent enough that round
// tripping it back is cheap).

type decoder struct {
	names []string
	code  []byte
	pos   int
}

// Decode parses a Bytecode stream back into an instruction list.
func Decode(bc *Bytecode) ([]Instruction, error) {
	b := bc.Bytes
	if len(b) < len(magic)+1+4 || string(b[:len(magic)]) != magic {
		return nil, &FatalError{Reason: FatalMalformedStream, Detail: "bad magic"}
	}
	pos := len(magic)
	if b[pos] != streamVersion {
		return nil, &FatalError{Reason: FatalMalformedStream, Detail: "unsupported stream version"}
	}
	pos++

	nameCount := binary.LittleEndian.Uint32(b[pos:])
	pos += 4

	d := &decoder{}
	for i := uint32(0); i < nameCount; i++ {
		s, n := readString(b[pos:])
		d.names = append(d.names, s)
		pos += n
	}

	codeLen := binary.LittleEndian.Uint32(b[pos:])
	pos += 4
	if pos+int(codeLen) > len(b) {
		return nil, &FatalError{Reason: FatalMalformedStream, Detail: "truncated code section"}
	}
	d.code = b[pos : pos+int(codeLen)]

	var out []Instruction
	for d.pos < len(d.code) {
		instr, err := d.decodeOne()
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
	}
	return out, nil
}

func (d *decoder) name(idx uint32) string {
	if idx == 0xFFFFFFFF {
		return ""
	}
	if int(idx) >= len(d.names) {
		return ""
	}
	return d.names[idx]
}

func (d *decoder) u8() byte {
	v := d.code[d.pos]
	d.pos++
	return v
}

func (d *decoder) u16() uint16 {
	v := binary.LittleEndian.Uint16(d.code[d.pos:])
	d.pos += 2
	return v
}

func (d *decoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.code[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) bytes(n int) []byte {
	v := d.code[d.pos : d.pos+n]
	d.pos += n
	return v
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) str() string {
	s, n := readString(d.code[d.pos:])
	d.pos += n
	return s
}

func (d *decoder) decodeOne() (Instruction, error) {
	op := d.u8()
	switch op {
	case opBeginEntity:
		tag := d.name(d.u32())
		name := d.name(d.u32())
		return IBeginEntity{Tag: EntityTag(tag), Name: name}, nil
	case opEndEntity:
		return IEndEntity{}, nil
	case opBeginChain:
		return IBeginChain{}, nil
	case opEndChain:
		return IEndChain{}, nil
	case opInvokeMeta:
		return IInvokeMeta{Tag: EntityTag(d.name(d.u32()))}, nil
	case opDefineLexicalScope:
		name := d.name(d.u32())
		parent := d.name(d.u32())
		n := d.u16()
		var vars []ScopeVarRecord
		if n > 0 {
			vars = make([]ScopeVarRecord, 0, n)
		}
		for i := uint16(0); i < n; i++ {
			vname := d.name(d.u32())
			vtype := TypeID(d.u32())
			origin := VarOrigin(d.u8())
			isRef := d.bool()
			vars = append(vars, ScopeVarRecord{Name: vname, Type: vtype, Origin: origin, IsReference: isRef})
		}
		return IDefineLexicalScope{Name: name, Parent: parent, Vars: vars}, nil

	case opPush:
		t := TypeID(d.u32())
		n := d.u16()
		return IPush{Type: t, Value: append([]byte(nil), d.bytes(int(n))...)}, nil
	case opPop:
		return IPop{Type: TypeID(d.u32())}, nil

	case opRead:
		return IRead{ID: d.name(d.u32())}, nil
	case opAssign:
		return IAssign{}, nil
	case opAssignThroughIdentifier:
		return IAssignThroughIdentifier{}, nil
	case opAssignSumType:
		return IAssignSumType{}, nil
	case opBindRef:
		return IBindRef{ID: d.name(d.u32())}, nil
	case opBindMemberRef:
		return IBindMemberRef{Member: d.name(d.u32())}, nil
	case opBindMemberByHandle:
		return IBindMemberByHandle{Member: d.name(d.u32())}, nil
	case opReadRef:
		return IReadRef{}, nil

	case opInvoke:
		return IInvoke{Target: d.name(d.u32())}, nil
	case opInvokeIndirect:
		return IInvokeIndirect{VarName: d.name(d.u32())}, nil
	case opReturn:
		return IReturn{}, nil
	case opHalt:
		return IHalt{}, nil
	case opSetRetVal:
		return ISetRetVal{VarName: d.name(d.u32())}, nil

	case opDefineStructure:
		t := TypeID(d.u32())
		n := d.u16()
		members := make([]StructureMember, 0, n)
		for i := uint16(0); i < n; i++ {
			name := d.name(d.u32())
			mt := TypeID(d.u32())
			off := int(d.u32())
			members = append(members, StructureMember{Name: name, Type: mt, Offset: off})
		}
		return IDefineStructure{Type: t, Members: members}, nil
	case opAllocStructure:
		return IAllocStructure{Type: TypeID(d.u32())}, nil
	case opCopyFromStructure:
		return ICopyFromStructure{Member: d.name(d.u32())}, nil
	case opCopyToStructure:
		return ICopyToStructure{Member: d.name(d.u32())}, nil
	case opCopyStructure:
		return ICopyStructure{}, nil
	case opCopyBuffer:
		return ICopyBuffer{}, nil

	case opSumTypeDef:
		t := TypeID(d.u32())
		n := d.u16()
		bases := make([]TypeID, 0, n)
		for i := uint16(0); i < n; i++ {
			bases = append(bases, TypeID(d.u32()))
		}
		return ISumTypeDef{Type: t, Bases: bases}, nil
	case opConstructSumType:
		return IConstructSumType{}, nil
	case opTypeFromRegister:
		return ITypeFromRegister{}, nil

	case opPatternMatch:
		target := d.name(d.u32())
		n := d.u16()
		params := make([]PatternParam, 0, n)
		for i := uint16(0); i < n; i++ {
			t := TypeID(d.u32())
			hasLit := d.bool()
			litLen := d.u16()
			lit := append([]byte(nil), d.bytes(int(litLen))...)
			params = append(params, PatternParam{Type: t, HasLiteral: hasLit, Literal: lit})
		}
		return IPatternMatch{Target: target, Params: params}, nil
	case opTypeMatch:
		target := d.name(d.u32())
		n := d.u16()
		params := make([]TypeMatchParam, 0, n)
		for i := uint16(0); i < n; i++ {
			isRef := d.bool()
			t := TypeID(d.u32())
			params = append(params, TypeMatchParam{IsRef: isRef, Type: t})
		}
		return ITypeMatch{Target: target, Params: params}, nil

	case opPoolString:
		h := StringHandle(d.u32())
		v := d.str()
		return IPoolString{Handle: h, Value: v}, nil

	case opTag:
		entity := d.name(d.u32())
		key := d.name(d.u32())
		n := d.u16()
		items := make([]string, 0, n)
		for i := uint16(0); i < n; i++ {
			items = append(items, d.name(d.u32()))
		}
		return ITag{Entity: entity, Key: key, Items: items}, nil

	default:
		return nil, &FatalError{Reason: FatalMalformedStream, Detail: "unknown opcode"}
	}
}

func readString(b []byte) (string, int) {
	n := binary.LittleEndian.Uint16(b)
	return string(b[2 : 2+n]), 2 + int(n)
}
