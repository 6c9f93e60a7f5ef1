package epoch

import (
	"fmt"
	"strings"
)

// This file is the ambient error taxonomy spec §7 describes, collapsed
// from the teacher's two-tier split (errors.go's ParsingError/
// backtrackingError, query_errors.go's GrammarError/Diagnostic
// collector) into Epoch's four classes: Fatal, Recoverable
// (compile-time diagnostics), Runtime, and NotImplemented.

// FatalReason enumerates the conditions spec §7 calls Fatal: the
// executing context cannot continue and must terminate.
type FatalReason int

const (
	FatalUnknownType FatalReason = iota
	FatalMalformedStream
	FatalStackUnderflow
	FatalScopeMismatch
	FatalInvalidDiscriminator
	FatalArenaExhausted
)

func (r FatalReason) String() string {
	switch r {
	case FatalUnknownType:
		return "unknown type"
	case FatalMalformedStream:
		return "malformed instruction stream"
	case FatalStackUnderflow:
		return "stack underflow"
	case FatalScopeMismatch:
		return "scope mismatch"
	case FatalInvalidDiscriminator:
		return "invalid sum type discriminator"
	case FatalArenaExhausted:
		return "activation arena exhausted"
	default:
		return "fatal error"
	}
}

// FatalError terminates the executing context. There is no recovery
// path; a hosting driver catching one should tear the VM down.
type FatalError struct {
	Reason FatalReason
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// RuntimeFaultKind enumerates the conditions spec §7 calls Runtime:
// currently surfaced as an unconditional Halt, but returned here as a
// typed, inspectable value so a hosting driver can tell them apart
// (spec §9's Open Question about pattern-match exhaustion).
type RuntimeFaultKind int

const (
	FaultPatternMatchExhausted RuntimeFaultKind = iota
	FaultTypeMatchExhausted
	FaultUnboundReference
)

func (k RuntimeFaultKind) String() string {
	switch k {
	case FaultPatternMatchExhausted:
		return "no pattern overload matched"
	case FaultTypeMatchExhausted:
		return "no type overload matched"
	case FaultUnboundReference:
		return "reference to unbound identifier"
	default:
		return "runtime fault"
	}
}

// RuntimeFault is raised by dispatch and reference resolution. Today
// every RuntimeFault halts the VM loop (spec §7: "no catch construct
// exists yet"); Recoverable reports whether a future catch construct
// would be able to resume past it, which is true for every kind this
// module raises except FaultUnboundReference.
type RuntimeFault struct {
	Kind   RuntimeFaultKind
	Target string
}

func (f *RuntimeFault) Error() string {
	if f.Target == "" {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Target)
}

func (f *RuntimeFault) Recoverable() bool {
	return f.Kind != FaultUnboundReference
}

// NotImplementedError marks a construct the spec acknowledges but this
// implementation does not yet support (spec §7: unsupported marshaling
// types, non-integer pattern-match literals).
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("not implemented: %s", e.Feature)
}

// ---- Recoverable / compile-time diagnostics ----

type DiagnosticSeverity int

const (
	DiagnosticError DiagnosticSeverity = iota
	DiagnosticWarning
)

func (s DiagnosticSeverity) String() string {
	if s == DiagnosticWarning {
		return "warning"
	}
	return "error"
}

// SourceSpan is a half-open (line, column) range within one source
// file, used for caret-style CLI diagnostics.
type SourceSpan struct {
	StartLine, StartColumn int
	EndLine, EndColumn     int
}

// Diagnostic is one recoverable compile-time finding: the emitter
// collects these instead of aborting so a single pass can report every
// problem it finds (spec §7 "collected into a diagnostics list").
type Diagnostic struct {
	FilePath string
	Span     SourceSpan
	Severity DiagnosticSeverity
	Message  string
	Code     string
}

// FormatCLI renders a diagnostic as `message in path line L column C`,
// followed by ` [code]` when Code is set; Caret supplies the pointer
// line that goes under it.
func (d Diagnostic) FormatCLI() string {
	base := fmt.Sprintf("%s in %s line %d column %d", d.Message, d.FilePath, d.Span.StartLine, d.Span.StartColumn)
	if d.Code == "" {
		return base
	}
	return fmt.Sprintf("%s [%s]", base, d.Code)
}

// Caret renders a two-line `source line` + `^` pointer under the
// diagnostic's starting column, for terminal-attached reporting.
func (d Diagnostic) Caret(sourceLine string) string {
	col := d.Span.StartColumn - 1
	if col < 0 {
		col = 0
	}
	if col > len(sourceLine) {
		col = len(sourceLine)
	}
	return sourceLine + "\n" + strings.Repeat(" ", col) + "^"
}

// CompileErrors collects every Diagnostic an emitter pass produced.
// It implements error so a single compile can be treated as one
// failure while still reporting everything that's wrong.
type CompileErrors struct {
	Diagnostics []Diagnostic
}

func (e *CompileErrors) Error() string {
	if len(e.Diagnostics) == 0 {
		return "compile error (no details)"
	}
	if len(e.Diagnostics) == 1 {
		return e.Diagnostics[0].FormatCLI()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors found:\n", len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		b.WriteString("  ")
		b.WriteString(d.FormatCLI())
		b.WriteRune('\n')
	}
	return b.String()
}

func (e *CompileErrors) HasErrors() bool {
	for _, d := range e.Diagnostics {
		if d.Severity == DiagnosticError {
			return true
		}
	}
	return false
}

func (e *CompileErrors) ErrorCount() int {
	n := 0
	for _, d := range e.Diagnostics {
		if d.Severity == DiagnosticError {
			n++
		}
	}
	return n
}

// EmitDiagnostics wraps a collected diagnostics slice as an error,
// returning nil when there is nothing to report so callers can treat
// the common case as a plain `if err != nil`.
func EmitDiagnostics(diagnostics []Diagnostic) error {
	if len(diagnostics) == 0 {
		return nil
	}
	return &CompileErrors{Diagnostics: diagnostics}
}
