package epoch

import (
	"fmt"
	"strconv"
	"strings"
)

// assemble.go is disasm.go's inverse: parsing the plain listing
// Disassemble produces back into []Instruction. The teacher has no
// equivalent — langlang's bytecode only ever flows compiler-to-VM —
// but Epoch's line-oriented, entity-framed stream is regular enough
// that a human-editable round trip is worth supporting, and it is what
// lets the property test for encode/decode/disasm/assemble close the
// loop without ever invoking the compiler front end.

// Assemble parses listing text (as produced by Disassemble, with or
// without its leading "NNNNNN  " index comments) into an instruction
// stream.
func Assemble(text string) ([]Instruction, error) {
	var out []Instruction
	for lineNo, line := range strings.Split(text, "\n") {
		line = stripIndexComment(line)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields, err := tokenizeLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		instr, err := assembleInstruction(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		out = append(out, instr)
	}
	return out, nil
}

// stripIndexComment removes the "%06d  " prefix Disassemble writes in
// front of every line, if present.
func stripIndexComment(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if len(trimmed) < 6 {
		return line
	}
	digits := trimmed[:6]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return line
		}
	}
	return trimmed[6:]
}

// tokenizeLine splits a line into the mnemonic and its operands,
// treating 'single-quoted' runs as one token (so a quoted name may
// contain spaces) and everything else as whitespace-delimited words.
func tokenizeLine(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\'':
			if inQuote {
				fields = append(fields, "'"+cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case c == ' ' && !inQuote:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return fields, nil
}

func unquote(tok string) (string, bool) {
	if strings.HasPrefix(tok, "'") {
		return tok[1:], true
	}
	return tok, false
}

func assembleInstruction(fields []string) (Instruction, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty instruction")
	}
	op := fields[0]
	args := fields[1:]

	switch op {
	case "begin_entity":
		if len(args) < 2 {
			return nil, fmt.Errorf("begin_entity needs tag and name")
		}
		name, _ := unquote(args[1])
		return IBeginEntity{Tag: EntityTag(args[0]), Name: name}, nil
	case "end_entity":
		return IEndEntity{}, nil
	case "begin_chain":
		return IBeginChain{}, nil
	case "end_chain":
		return IEndChain{}, nil
	case "invoke_meta":
		if len(args) < 1 {
			return nil, fmt.Errorf("invoke_meta needs a tag")
		}
		return IInvokeMeta{Tag: EntityTag(args[0])}, nil
	case "define_lexical_scope":
		if len(args) < 2 {
			return nil, fmt.Errorf("define_lexical_scope needs name and parent")
		}
		name, _ := unquote(args[0])
		parent, _ := unquote(args[1])
		vars := make([]ScopeVarRecord, 0, len(args)-2)
		for _, tok := range args[2:] {
			v, err := parseScopeVar(tok)
			if err != nil {
				return nil, err
			}
			vars = append(vars, v)
		}
		return IDefineLexicalScope{Name: name, Parent: parent, Vars: vars}, nil

	case "push":
		if len(args) < 2 {
			return nil, fmt.Errorf("push needs type and value")
		}
		t, err := parseTypeID(args[0])
		if err != nil {
			return nil, err
		}
		val, err := parseLiteralBytes(t, args[1])
		if err != nil {
			return nil, err
		}
		return IPush{Type: t, Value: val}, nil
	case "pop":
		if len(args) < 1 {
			return nil, fmt.Errorf("pop needs a type")
		}
		t, err := parseTypeID(args[0])
		if err != nil {
			return nil, err
		}
		return IPop{Type: t}, nil

	case "read":
		id, err := requireName(args, "read")
		if err != nil {
			return nil, err
		}
		return IRead{ID: id}, nil
	case "assign":
		return IAssign{}, nil
	case "assign_through_identifier":
		return IAssignThroughIdentifier{}, nil
	case "assign_sum_type":
		return IAssignSumType{}, nil
	case "bind_ref":
		if len(args) < 1 {
			return nil, fmt.Errorf("bind_ref needs an operand")
		}
		if args[0] == "$indirect" {
			return IBindRef{ID: ""}, nil
		}
		id, _ := unquote(args[0])
		return IBindRef{ID: id}, nil
	case "bind_member_ref":
		m, err := requireName(args, "bind_member_ref")
		if err != nil {
			return nil, err
		}
		return IBindMemberRef{Member: m}, nil
	case "bind_member_by_handle":
		m, err := requireName(args, "bind_member_by_handle")
		if err != nil {
			return nil, err
		}
		return IBindMemberByHandle{Member: m}, nil
	case "read_ref":
		return IReadRef{}, nil

	case "invoke":
		target, err := requireName(args, "invoke")
		if err != nil {
			return nil, err
		}
		return IInvoke{Target: target}, nil
	case "invoke_indirect":
		v, err := requireName(args, "invoke_indirect")
		if err != nil {
			return nil, err
		}
		return IInvokeIndirect{VarName: v}, nil
	case "return":
		return IReturn{}, nil
	case "halt":
		return IHalt{}, nil
	case "set_ret_val":
		v, err := requireName(args, "set_ret_val")
		if err != nil {
			return nil, err
		}
		return ISetRetVal{VarName: v}, nil

	case "define_structure":
		if len(args) < 1 {
			return nil, fmt.Errorf("define_structure needs a type")
		}
		t, err := parseTypeID(args[0])
		if err != nil {
			return nil, err
		}
		members := make([]StructureMember, 0, len(args)-1)
		for _, tok := range args[1:] {
			m, err := parseStructureMember(tok)
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		return IDefineStructure{Type: t, Members: members}, nil
	case "alloc_structure":
		t, err := requireType(args, "alloc_structure")
		if err != nil {
			return nil, err
		}
		return IAllocStructure{Type: t}, nil
	case "copy_from_structure":
		m, err := requireName(args, "copy_from_structure")
		if err != nil {
			return nil, err
		}
		return ICopyFromStructure{Member: m}, nil
	case "copy_to_structure":
		m, err := requireName(args, "copy_to_structure")
		if err != nil {
			return nil, err
		}
		return ICopyToStructure{Member: m}, nil
	case "copy_structure":
		return ICopyStructure{}, nil
	case "copy_buffer":
		return ICopyBuffer{}, nil

	case "sum_type_def":
		if len(args) < 1 {
			return nil, fmt.Errorf("sum_type_def needs a type")
		}
		t, err := parseTypeID(args[0])
		if err != nil {
			return nil, err
		}
		bases := make([]TypeID, 0, len(args)-1)
		for _, tok := range args[1:] {
			b, err := parseTypeID(tok)
			if err != nil {
				return nil, err
			}
			bases = append(bases, b)
		}
		return ISumTypeDef{Type: t, Bases: bases}, nil
	case "construct_sum_type":
		return IConstructSumType{}, nil
	case "type_from_register":
		return ITypeFromRegister{}, nil

	case "pattern_match":
		if len(args) < 1 {
			return nil, fmt.Errorf("pattern_match needs a target")
		}
		target, _ := unquote(args[0])
		params := make([]PatternParam, 0, len(args)-1)
		for _, tok := range args[1:] {
			p, err := parsePatternParam(tok)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
		return IPatternMatch{Target: target, Params: params}, nil
	case "type_match":
		if len(args) < 1 {
			return nil, fmt.Errorf("type_match needs a target")
		}
		target, _ := unquote(args[0])
		params := make([]TypeMatchParam, 0, len(args)-1)
		for _, tok := range args[1:] {
			isRef := strings.HasSuffix(tok, "&")
			t, err := parseTypeID(strings.TrimSuffix(tok, "&"))
			if err != nil {
				return nil, err
			}
			params = append(params, TypeMatchParam{IsRef: isRef, Type: t})
		}
		return ITypeMatch{Target: target, Params: params}, nil

	case "pool_string":
		if len(args) < 2 {
			return nil, fmt.Errorf("pool_string needs a handle and a value")
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad pool_string handle %q: %w", args[0], err)
		}
		v, _ := unquote(args[1])
		return IPoolString{Handle: StringHandle(n), Value: v}, nil

	case "tag":
		if len(args) < 2 {
			return nil, fmt.Errorf("tag needs an entity and a key")
		}
		entity, _ := unquote(args[0])
		key, _ := unquote(args[1])
		items := make([]string, 0, len(args)-2)
		for _, tok := range args[2:] {
			it, _ := unquote(tok)
			items = append(items, it)
		}
		return ITag{Entity: entity, Key: key, Items: items}, nil

	default:
		return nil, fmt.Errorf("unknown mnemonic %q", op)
	}
}

func requireName(args []string, op string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%s needs a name operand", op)
	}
	name, _ := unquote(args[0])
	return name, nil
}

func requireType(args []string, op string) (TypeID, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s needs a type operand", op)
	}
	return parseTypeID(args[0])
}

var typeIDByName = func() map[string]TypeID {
	m := map[string]TypeID{}
	for id, name := range primitiveNames {
		m[name] = id
	}
	return m
}()

func parseTypeID(tok string) (TypeID, error) {
	if id, ok := typeIDByName[tok]; ok {
		return id, nil
	}
	if strings.HasPrefix(tok, "custom(") || strings.HasPrefix(tok, "type(") {
		inner := strings.TrimSuffix(tok[strings.IndexByte(tok, '(')+1:], ")")
		n, err := strconv.ParseUint(inner, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad type id %q: %w", tok, err)
		}
		return TypeID(n), nil
	}
	return 0, fmt.Errorf("unrecognized type name %q", tok)
}

// parseLiteralBytes inverts formatLiteralBytes for the handful of
// types the emitter ever pushes as a literal (spec §4.2: only integer
// and boolean literals are supported; everything else round-trips
// through its hex fallback).
func parseLiteralBytes(t TypeID, tok string) ([]byte, error) {
	switch t {
	case TypeInteger32:
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad Integer32 literal %q: %w", tok, err)
		}
		out := make([]byte, 4)
		encodeU32Into(out, uint32(int32(n)))
		return out, nil
	case TypeBoolean:
		if tok == "true" {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		b, err := hexDecode(tok)
		if err != nil {
			return nil, fmt.Errorf("bad literal %q: %w", tok, err)
		}
		return b, nil
	}
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var v byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseScopeVar inverts the "name:type/origin&" literal formatting
// disasm.go writes for each DefineLexicalScope entry.
func parseScopeVar(tok string) (ScopeVarRecord, error) {
	isRef := strings.HasSuffix(tok, "&")
	tok = strings.TrimSuffix(tok, "&")
	nameType := strings.SplitN(tok, ":", 2)
	if len(nameType) != 2 {
		return ScopeVarRecord{}, fmt.Errorf("bad scope var %q", tok)
	}
	typeOrigin := strings.SplitN(nameType[1], "/", 2)
	if len(typeOrigin) != 2 {
		return ScopeVarRecord{}, fmt.Errorf("bad scope var %q", tok)
	}
	t, err := parseTypeID(typeOrigin[0])
	if err != nil {
		return ScopeVarRecord{}, err
	}
	origin, err := parseVarOrigin(typeOrigin[1])
	if err != nil {
		return ScopeVarRecord{}, err
	}
	return ScopeVarRecord{Name: nameType[0], Type: t, Origin: origin, IsReference: isRef}, nil
}

func parseVarOrigin(s string) (VarOrigin, error) {
	switch s {
	case "local":
		return OriginLocal, nil
	case "parameter":
		return OriginParameter, nil
	case "return":
		return OriginReturn, nil
	default:
		return 0, fmt.Errorf("unrecognized var origin %q", s)
	}
}

// parseStructureMember inverts "name:type@offset".
func parseStructureMember(tok string) (StructureMember, error) {
	nameRest := strings.SplitN(tok, ":", 2)
	if len(nameRest) != 2 {
		return StructureMember{}, fmt.Errorf("bad structure member %q", tok)
	}
	typeOffset := strings.SplitN(nameRest[1], "@", 2)
	if len(typeOffset) != 2 {
		return StructureMember{}, fmt.Errorf("bad structure member %q", tok)
	}
	t, err := parseTypeID(typeOffset[0])
	if err != nil {
		return StructureMember{}, err
	}
	off, err := strconv.Atoi(typeOffset[1])
	if err != nil {
		return StructureMember{}, fmt.Errorf("bad offset in %q: %w", tok, err)
	}
	return StructureMember{Name: nameRest[0], Type: t, Offset: off}, nil
}

// parsePatternParam inverts "type=value" or "type=_" for a wildcard
// (non-literal) parameter.
func parsePatternParam(tok string) (PatternParam, error) {
	parts := strings.SplitN(tok, "=", 2)
	if len(parts) != 2 {
		return PatternParam{}, fmt.Errorf("bad pattern param %q", tok)
	}
	t, err := parseTypeID(parts[0])
	if err != nil {
		return PatternParam{}, err
	}
	if parts[1] == "_" {
		return PatternParam{Type: t, HasLiteral: false}, nil
	}
	lit, err := parseLiteralBytes(t, parts[1])
	if err != nil {
		return PatternParam{}, err
	}
	return PatternParam{Type: t, HasLiteral: true, Literal: lit}, nil
}
