// Package fingerprint computes deterministic content fingerprints of
// serialized records, used to detect local/remote divergence without
// comparing payloads field by field.
//
// The fingerprint is taken over the decoded value rather than the raw
// bytes, so formatting differences (key order, whitespace) between two
// serializations of the same record do not register as divergence.
package fingerprint

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

// Sum returns the fingerprint of a JSON payload.
func Sum(data []byte) (uint64, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return 0, fmt.Errorf("failed to decode payload: %w", err)
	}

	hash, err := hashstructure.Hash(value, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to hash payload: %w", err)
	}

	return hash, nil
}

// Equal reports whether two JSON payloads have the same content
// fingerprint.
func Equal(a, b []byte) (bool, error) {
	ha, err := Sum(a)
	if err != nil {
		return false, err
	}
	hb, err := Sum(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
