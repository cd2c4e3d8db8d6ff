// internal/canonhash/canonhash.go
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical encodes v as JSON with object keys sorted at every depth.
// Numbers keep their literal text.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonhash: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonhash: decode: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("canonhash: re-encode: %w", err)
	}
	return out, nil
}

// Sum returns the lowercase hex SHA-256 of the canonical encoding of v.
func Sum(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustSum is Sum for values that are always serializable.
func MustSum(v any) string {
	h, err := Sum(v)
	if err != nil {
		panic(err)
	}
	return h
}

// IsDigest reports whether s looks like a Sum result.
func IsDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
