package epoch

// Sum type storage: a discriminator (the concrete base TypeID
// currently held) followed by a payload sized for the widest declared
// base (types.go's SumTypeLayout.StorageSize). Layout grounded in
// spec §3/§4.3's literal description; original_source's
// Shared/Metadata/Variant.h name confirms this is the tagged-union
// shape Epoch calls a sum type.

// SumTypeValue is the in-memory representation of one sum-typed
// binding's storage slot.
type SumTypeValue struct {
	Discriminator TypeID
	Payload       []byte
}

// ConstructSumType validates that value's declared type is one of
// typeID's bases, then builds the discriminator+payload slot
// (IConstructSumType). An invalid discriminator is Fatal (spec §7):
// it can only originate from a malformed or adversarial stream, never
// from a well-formed compile.
func ConstructSumType(types *TypeTable, typeID TypeID, valueType TypeID, value []byte) (*SumTypeValue, error) {
	layout, ok := types.SumType(typeID)
	if !ok {
		return nil, &FatalError{Reason: FatalUnknownType, Detail: "construct of undeclared sum type"}
	}
	if !layout.HasBase(valueType) {
		return nil, &FatalError{Reason: FatalInvalidDiscriminator, Detail: "value type is not a declared base of this sum type"}
	}
	payload := make([]byte, layout.MaxVariant)
	copy(payload, value)
	return &SumTypeValue{Discriminator: valueType, Payload: payload}, nil
}

// AssignSumType re-discriminates an existing sum type slot in place
// (IAssignSumType), validating the new value's type the same way
// construction does.
func AssignSumType(types *TypeTable, typeID TypeID, sv *SumTypeValue, valueType TypeID, value []byte) error {
	layout, ok := types.SumType(typeID)
	if !ok {
		return &FatalError{Reason: FatalUnknownType, Detail: "assign to undeclared sum type"}
	}
	if !layout.HasBase(valueType) {
		return &FatalError{Reason: FatalInvalidDiscriminator, Detail: "value type is not a declared base of this sum type"}
	}
	if len(sv.Payload) != layout.MaxVariant {
		sv.Payload = make([]byte, layout.MaxVariant)
	}
	sv.Discriminator = valueType
	copy(sv.Payload, value)
	for i := len(value); i < len(sv.Payload); i++ {
		sv.Payload[i] = 0
	}
	return nil
}

// TypeFromRegister reads the discriminator currently held, the
// runtime counterpart of ITypeFromRegister feeding a TypeMatch
// resolver.
func TypeFromRegister(sv *SumTypeValue) TypeID { return sv.Discriminator }

// encodeSumTypeValue/decodeSumTypeValue convert between the in-memory
// SumTypeValue and the flat discriminator+payload bytes a sum-typed
// slot stores in the arena or freestore (its storage size is always
// exactly 4+MaxVariant, per types.go's SumTypeLayout.StorageSize).
func encodeSumTypeValue(sv *SumTypeValue) []byte {
	out := make([]byte, 4+len(sv.Payload))
	encodeU32Into(out, uint32(sv.Discriminator))
	copy(out[4:], sv.Payload)
	return out
}

func decodeSumTypeValue(layout *SumTypeLayout, raw []byte) *SumTypeValue {
	sv := &SumTypeValue{Discriminator: TypeID(decodeU32(raw)), Payload: make([]byte, layout.MaxVariant)}
	copy(sv.Payload, raw[4:])
	return sv
}
