package ids

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalJSON encodes v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace, numbers in their shortest
// round-trip form. encoding/json sorts map[string]T keys but emits struct
// fields in declaration order, so the marshalled bytes are passed through
// CanonicalizeBytes, which re-sorts every object's keys. CanonicalizeBytes
// also serves JSON received from elsewhere (e.g. a tool's raw payload),
// where key order in the source text is not under our control.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeBytes(data)
}

// CanonicalizeBytes decodes arbitrary JSON text and re-encodes it in
// canonical form. Two JSON documents with the same logical content but
// different key order or whitespace produce identical canonical bytes.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Hash returns the lowercase hex-encoded SHA-256 digest of v's canonical
// JSON encoding. Used for input_hash/output_hash/code_hash fields.
func Hash(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the lowercase hex-encoded SHA-256 digest of raw bytes
// that are assumed to already be canonical JSON (or any deterministic byte
// sequence, such as sandbox source code for a code_hash).
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
