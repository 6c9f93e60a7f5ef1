package epoch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/epochlang/epoch/ascii"
)

// disasm.go is C1's textual surface: a listing printer modeled on the
// teacher's vm_program.go prettyString/HighlightPrettyString pair
// (same FormatFunc-based plain/colored split, same ascii.Theme). Its
// counterpart, the assembler in assemble.go, parses that same text
// back into []Instruction — something the teacher has no analogue for, since PEG bytecode is
// only ever produced by its own compiler. Entity framing makes Epoch's
// instruction stream line-oriented enough that a human-editable
// listing format is cheap to support both ways.

type asmToken int

const (
	tokNone asmToken = iota
	tokComment
	tokLabel
	tokLiteral
	tokOperator
	tokOperand
)

type formatFunc func(input string, token asmToken) string

var asmTheme = map[asmToken]string{
	tokNone:     ascii.Reset,
	tokComment:  ascii.DefaultTheme.Comment,
	tokLabel:    ascii.DefaultTheme.Label,
	tokLiteral:  ascii.DefaultTheme.Literal,
	tokOperator: ascii.DefaultTheme.Operator,
	tokOperand:  ascii.DefaultTheme.Operand,
}

// Disassemble renders code as plain, uncolored assembly text.
func Disassemble(code []Instruction) string {
	return disassemble(code, func(s string, _ asmToken) string { return s })
}

// HighlightDisassemble renders code the same way, wrapped in the
// default ANSI theme, for a terminal-facing `epochasm disassemble` run.
func HighlightDisassemble(code []Instruction) string {
	return disassemble(code, func(s string, t asmToken) string {
		return asmTheme[t] + s + asmTheme[tokNone]
	})
}

func disassemble(code []Instruction, format formatFunc) string {
	var s strings.Builder

	writeComment := func(i string) { s.WriteString(format(i, tokComment)) }
	writeOp := func(name string) {
		s.WriteString(format(fmt.Sprintf("%-24s", name), tokOperator))
	}
	writeOperand := func(v string) {
		s.WriteString(" ")
		s.WriteString(format(v, tokOperand))
	}
	writeLiteral := func(v string) {
		s.WriteString(" ")
		s.WriteString(format(v, tokLiteral))
	}
	writeLabel := func(v string) {
		s.WriteString(" ")
		s.WriteString(format(v, tokLabel))
	}

	indent := 0
	for idx, instr := range code {
		writeComment(fmt.Sprintf("%06d  ", idx))
		switch instr.(type) {
		case IEndEntity, IEndChain:
			if indent > 0 {
				indent--
			}
		}
		s.WriteString(strings.Repeat("    ", indent))

		switch ii := instr.(type) {
		case IBeginEntity:
			writeOp(ii.Name())
			writeLabel(string(ii.Tag))
			writeOperand(quote(ii.Name))
			indent++
		case IEndEntity:
			writeOp(ii.Name())
		case IBeginChain:
			writeOp(ii.Name())
			indent++
		case IEndChain:
			writeOp(ii.Name())
		case IInvokeMeta:
			writeOp(ii.Name())
			writeLabel(string(ii.Tag))
		case IDefineLexicalScope:
			writeOp(ii.Name())
			writeOperand(quote(ii.Name))
			writeOperand(quote(ii.Parent))
			for _, v := range ii.Vars {
				writeLiteral(fmt.Sprintf("%s:%s/%s%s", v.Name, v.Type, v.Origin, refSuffix(v.IsReference)))
			}

		case IPush:
			writeOp(ii.Name())
			writeLabel(ii.Type.String())
			writeLiteral(formatLiteralBytes(ii.Type, ii.Value))
		case IPop:
			writeOp(ii.Name())
			writeLabel(ii.Type.String())

		case IRead:
			writeOp(ii.Name())
			writeOperand(quote(ii.ID))
		case IAssign:
			writeOp(ii.Name())
		case IAssignThroughIdentifier:
			writeOp(ii.Name())
		case IAssignSumType:
			writeOp(ii.Name())
		case IBindRef:
			writeOp(ii.Name())
			if ii.ID == "" {
				writeOperand("$indirect")
			} else {
				writeOperand(quote(ii.ID))
			}
		case IBindMemberRef:
			writeOp(ii.Name())
			writeOperand(quote(ii.Member))
		case IBindMemberByHandle:
			writeOp(ii.Name())
			writeOperand(quote(ii.Member))
		case IReadRef:
			writeOp(ii.Name())

		case IInvoke:
			writeOp(ii.Name())
			writeOperand(quote(ii.Target))
		case IInvokeIndirect:
			writeOp(ii.Name())
			writeOperand(quote(ii.VarName))
		case IReturn:
			writeOp(ii.Name())
		case IHalt:
			writeOp(ii.Name())
		case ISetRetVal:
			writeOp(ii.Name())
			writeOperand(quote(ii.VarName))

		case IDefineStructure:
			writeOp(ii.Name())
			writeLabel(ii.Type.String())
			for _, m := range ii.Members {
				writeLiteral(fmt.Sprintf("%s:%s@%d", m.Name, m.Type, m.Offset))
			}
		case IAllocStructure:
			writeOp(ii.Name())
			writeLabel(ii.Type.String())
		case ICopyFromStructure:
			writeOp(ii.Name())
			writeOperand(quote(ii.Member))
		case ICopyToStructure:
			writeOp(ii.Name())
			writeOperand(quote(ii.Member))
		case ICopyStructure:
			writeOp(ii.Name())
		case ICopyBuffer:
			writeOp(ii.Name())

		case ISumTypeDef:
			writeOp(ii.Name())
			writeLabel(ii.Type.String())
			for _, b := range ii.Bases {
				writeLiteral(b.String())
			}
		case IConstructSumType:
			writeOp(ii.Name())
		case ITypeFromRegister:
			writeOp(ii.Name())

		case IPatternMatch:
			writeOp(ii.Name())
			writeOperand(quote(ii.Target))
			for _, p := range ii.Params {
				if p.HasLiteral {
					writeLiteral(fmt.Sprintf("%s=%s", p.Type, formatLiteralBytes(p.Type, p.Literal)))
				} else {
					writeLiteral(p.Type.String() + "=_")
				}
			}
		case ITypeMatch:
			writeOp(ii.Name())
			writeOperand(quote(ii.Target))
			for _, p := range ii.Params {
				writeLiteral(fmt.Sprintf("%s%s", p.Type, refSuffix(p.IsRef)))
			}

		case IPoolString:
			writeOp(ii.Name())
			writeLabel(strconv.FormatUint(uint64(ii.Handle), 10))
			writeLiteral(quote(ii.Value))

		case ITag:
			writeOp(ii.Name())
			writeOperand(quote(ii.Entity))
			writeOperand(quote(ii.Key))
			for _, it := range ii.Items {
				writeLiteral(quote(it))
			}

		default:
			writeOp(instr.Name())
		}
		s.WriteString("\n")
	}
	return s.String()
}

func refSuffix(isRef bool) string {
	if isRef {
		return "&"
	}
	return ""
}

func quote(s string) string { return "'" + s + "'" }

func formatLiteralBytes(t TypeID, raw []byte) string {
	switch t {
	case TypeInteger32:
		if len(raw) == 4 {
			return strconv.FormatInt(int64(int32(decodeU32(raw))), 10)
		}
	case TypeBoolean:
		if len(raw) >= 1 && raw[0] != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%x", raw)
}
