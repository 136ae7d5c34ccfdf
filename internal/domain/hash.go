package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hash is a 32-byte content hash standing in for an off-system document.
type Hash [32]byte

// ParseHash parses 64 hex characters, optionally prefixed with 0x.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("hash is %d bytes, want %d", len(decoded), len(h))
	}
	copy(h[:], decoded)
	return h, nil
}

// ParseHashes parses every element of in, reporting the index of the first
// malformed one.
func ParseHashes(in []string) ([]Hash, error) {
	out := make([]Hash, 0, len(in))
	for i, s := range in {
		h, err := ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("hashes[%d]: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// HashFile returns the SHA-256 digest of the file at path.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashStrings renders hashes in their text form.
func HashStrings(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
