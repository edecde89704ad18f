// Package tier implements the bounded key-value stores backing each cache
// level: an in-process map (L1), a Redis client (L2), and a disk or S3
// store (L3). All implement types.TierStore so the manager never
// special-cases a tier.
package tier

import (
	"encoding/json"

	"github.com/tiercache/tiercache/pkg/errors"
)

// EvictionHook is called with the number of keys a capacity eviction pass
// removed. Expiry removals never pass through it.
type EvictionHook func(n int)

func noopHook(int) {}

// encodeValue serializes a value for a networked or persistent tier.
func encodeValue(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeSerializationFailed,
			"value cannot be encoded").WithComponent("tier")
	}
	return data, nil
}

// decodeValue deserializes a value previously written by encodeValue.
func decodeValue(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDeserializationFailed,
			"stored value cannot be decoded").WithComponent("tier")
	}
	return v, nil
}
