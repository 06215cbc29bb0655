package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashed identities. The version suffix allows a later
// algorithm change without colliding with stored keys.
const (
	DomainFilter   = "liveview/filter/v1"
	DomainDocument = "liveview/document/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FilterKey computes a stable key for a query text and its bound parameters.
// Two filters with the same text and equal parameters share a key regardless
// of parameter map ordering.
func FilterKey(text string, params IRObject) (string, error) {
	if params == nil {
		params = IRObject{}
	}
	obj := IRObject{
		"params": params,
		"text":   IRString(text),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FilterKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFilter, canonical), nil
}

// DocumentHash hashes a document body. Used to skip no-op writes.
func DocumentHash(body IRObject) (string, error) {
	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("DocumentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustFilterKey is like FilterKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFilterKey(text string, params IRObject) string {
	key, err := FilterKey(text, params)
	if err != nil {
		panic(err)
	}
	return key
}
