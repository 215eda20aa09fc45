package statemanager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Ledger persists the first response produced for an idempotency key
type Ledger interface {
	// Lookup returns the stored response for key, or nil when the key is unused.
	// A key bound to a different operation or request hash yields ErrIdempotencyKeyReuse.
	Lookup(ctx context.Context, key, operationID, requestHash string) ([]byte, error)

	// Record binds key to the committed outcome. Recording an existing key is a no-op.
	Record(ctx context.Context, key, operationID, requestHash string, response []byte) error
}

// HashRequest returns a hex sha256 digest of payload in canonical JSON form.
// Object keys are sorted at every depth so structurally equal payloads hash
// identically regardless of field order.
func HashRequest(payload interface{}) (string, error) {
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = b
	}

	canonical, err := canonicalJSON(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-encodes raw through a generic value; encoding/json writes
// map keys in sorted order. Numbers are kept verbatim via UseNumber.
func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode payload: trailing data")
	}
	return json.Marshal(v)
}
