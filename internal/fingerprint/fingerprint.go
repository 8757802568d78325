// Package fingerprint binds documents and metadata to fixed-size Keccak-256 digests.
//
// Digests are deterministic and unsalted: the same bytes always produce the same
// digest, and structured values are hashed over their canonical JSON encoding so
// that a value fingerprinted at submission verifies identically later.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a 256-bit content fingerprint.
type Digest [Size]byte

// Bytes fingerprints raw content.
func Bytes(data []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(d[:0])
	return d
}

// Object fingerprints the canonical JSON encoding of v.
func Object(v any) (Digest, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return Digest{}, err
	}
	return Bytes(canonical), nil
}

// Verify recomputes the fingerprint of v and compares it with want.
func Verify(v any, want Digest) (bool, error) {
	got, err := Object(v)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// Parse decodes a 0x-prefixed hex digest.
func Parse(s string) (Digest, error) {
	var d Digest
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != Size*2 {
		return d, fmt.Errorf("fingerprint: digest must be %d hex characters, got %d", Size*2, len(raw))
	}
	if _, err := hex.Decode(d[:], []byte(raw)); err != nil {
		return d, fmt.Errorf("fingerprint: invalid digest: %w", err)
	}
	return d, nil
}

// String renders the digest as lower-case 0x-prefixed hex.
func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
