package core

import (
	"crypto/sha256"
	"fmt"

	"selfvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// Canonical CBOR: identical values always produce identical bytes.
var encOptions = cbor.EncOptions{
	Sort: cbor.SortCanonical,

	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,

	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// A DataMap for a multi-terabyte file still fits well below these limits.
	MaxArrayElements: 1 << 24,
	MaxMapPairs:      10000,
	MaxNestedLevels:  100,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// CalculateHash encodes v canonically and returns the SHA-256 of the encoding.
func CalculateHash(v any) (types.Hash, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal object: %w", err)
	}

	sum := sha256.Sum256(data)
	return types.HashFromBytes(sum[:]), data, nil
}

// DecodeObject decodes with the strict decoder.
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
