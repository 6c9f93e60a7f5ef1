package epoch

import "unicode/utf16"

// StringPool is the runtime-side counterpart to the emitter's string
// interning (emitter.go's poolString): a monotonic handle table of
// UTF-16 code-unit strings (spec §4.1's wire format for String
// payloads), built the same dedup-by-map way the teacher's
// grammar_compiler.go builds its `strings`/`stringsMap` pair, kept
// idempotent per spec §3 so replaying a PoolString instruction for an
// already-known handle is a no-op rather than a second allocation.
type StringPool struct {
	values  []string
	set     []bool
	handles map[string]StringHandle
	units   [][]uint16
}

// NewStringPool reserves handle 0 for the empty string (spec §3: "The
// handle 0 is reserved"), the same way Freestore leaves structure
// handle 0 unallocated.
func NewStringPool() *StringPool {
	p := &StringPool{handles: map[string]StringHandle{}}
	p.values = append(p.values, "")
	p.units = append(p.units, nil)
	p.set = append(p.set, true)
	p.handles[""] = 0
	return p
}

// PoolString installs s under handle if it isn't already known, and
// is a no-op when it is (idempotence is load-bearing: a program may
// legally replay the same literal's PoolString instruction from more
// than one call site).
func (p *StringPool) PoolString(handle StringHandle, s string) {
	for int(handle) >= len(p.values) {
		p.values = append(p.values, "")
		p.units = append(p.units, nil)
		p.set = append(p.set, false)
	}
	if p.set[handle] {
		return
	}
	p.set[handle] = true
	p.values[handle] = s
	p.units[handle] = utf16.Encode([]rune(s))
	p.handles[s] = handle
}

func (p *StringPool) Lookup(handle StringHandle) (string, bool) {
	if int(handle) >= len(p.values) {
		return "", false
	}
	return p.values[handle], true
}

// HandleOf returns the handle a given string was pooled under, if
// any. Used by marshaling and tests that need to round-trip a value
// back to its handle.
func (p *StringPool) HandleOf(s string) (StringHandle, bool) {
	h, ok := p.handles[s]
	return h, ok
}

// WideUnits returns the UTF-16 code units backing a pooled string, the
// representation foreign marshaling hands to native callees (spec
// §4.4: strings cross the foreign boundary as wide-string pointers).
func (p *StringPool) WideUnits(handle StringHandle) ([]uint16, bool) {
	if int(handle) >= len(p.units) {
		return nil, false
	}
	return p.units[handle], true
}

func (p *StringPool) Len() int { return len(p.values) }
