package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainModule = "tunedb/module/v1"
)

// Hash is a fixed-size content hash. The zero Hash is never produced by
// StructuralHash for a valid module.
type Hash [sha256.Size]byte

// String returns the lower-case hex form used in every persisted record.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses the hex form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("hash %q: expected %d hex characters, got %d", s, hex.EncodedLen(len(h)), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// StructuralHash computes the content hash of a module.
// Two modules with the same functions, buffers, blocks and loops hash equal
// regardless of function declaration order.
func StructuralHash(mod *Module) (Hash, error) {
	if mod == nil {
		return Hash{}, fmt.Errorf("StructuralHash: nil module")
	}
	canonical, err := MarshalCanonical(mod.ToValue())
	if err != nil {
		return Hash{}, fmt.Errorf("StructuralHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModule, canonical), nil
}

// MustStructuralHash is like StructuralHash but panics on error.
// Use only in tests or when the module is known to be valid.
func MustStructuralHash(mod *Module) Hash {
	h, err := StructuralHash(mod)
	if err != nil {
		panic(err)
	}
	return h
}
