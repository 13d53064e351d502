// Package hash computes stable content hashes of normalized object
// representations. The hash is the cheap equality oracle the reconciler
// uses to detect per-object change without a shared transaction.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Content returns a hex-encoded SHA-256 over the canonical form of v.
// Two values that differ only in map key order, or in the presence of
// explicit nulls, hash identically.
func Content(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, normalize(v)); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// normalize round-trips v through JSON so structs, maps and typed
// slices all reduce to the same generic shape before hashing.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// writeCanonical emits a deterministic JSON encoding: object keys sorted
// at every level, nil-valued keys dropped.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if val[k] == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kj)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		b.Write(data)
		return nil
	}
}
