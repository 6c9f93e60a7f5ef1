package epoch

// Pattern/type resolver emission (spec §4.2 "Pattern resolver" /
// "Type resolver"). There's no teacher analog for overload dispatch —
// a PEG grammar has no concept of it — so this is built straight from
// the field lists the spec gives for PatternMatch/TypeMatch, and
// mirrors the linear-scan shape dispatch.go uses at runtime.

func (e *emitter) emitResolver(r *ResolverDef) error {
	switch r.Kind {
	case ResolverPattern:
		return e.emitPatternResolver(r.Targets)
	case ResolverType:
		return e.emitTypeResolver(r.Targets)
	default:
		return &NotImplementedError{Feature: "unknown resolver kind"}
	}
}

func (e *emitter) emitPatternResolver(targets []ResolverTarget) error {
	for _, target := range targets {
		params := make([]PatternParam, 0, len(target.PatternParams))
		for _, p := range target.PatternParams {
			pp := PatternParam{Type: p.Type}
			if p.Literal != nil {
				if p.Type != TypeInteger32 {
					// Only Integer32-width literal matching is
					// supported; anything else is an acknowledged gap
					// (spec §7 Not-implemented class).
					return &NotImplementedError{Feature: "pattern literal of non-integer32 type"}
				}
				pp.HasLiteral = true
				pp.Literal = encodeI32(*p.Literal)
			}
			params = append(params, pp)
		}
		e.emit(IPatternMatch{Target: target.Name, Params: params})
	}
	e.emit(IHalt{})
	return nil
}

func (e *emitter) emitTypeResolver(targets []ResolverTarget) error {
	for _, target := range targets {
		params := make([]TypeMatchParam, 0, len(target.TypeParams))
		for _, p := range target.TypeParams {
			params = append(params, TypeMatchParam{IsRef: p.IsRef, Type: p.Type})
		}
		e.emit(ITypeMatch{Target: target.Name, Params: params})
	}
	e.emit(IHalt{})
	return nil
}
