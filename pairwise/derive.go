package pairwise

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Algorithm selects the derivation construction.
type Algorithm int

const (
	// AlgorithmLegacySHA1 reproduces the historical byte layout:
	// base64(SHA-1(rpID || '!' || value || '!' || salt)). Required when
	// identifiers must match values already released by version-2 era
	// deployments.
	AlgorithmLegacySHA1 Algorithm = iota

	// AlgorithmHMACSHA256 is the keyed construction for new deployments:
	// base64url(HMAC-SHA-256(key=salt, value || '!' || rpID)), unpadded.
	AlgorithmHMACSHA256
)

// String returns the algorithm name for logs and configuration.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmLegacySHA1:
		return "legacy-sha1"
	case AlgorithmHMACSHA256:
		return "hmac-sha256"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "legacy-sha1":
		return AlgorithmLegacySHA1, nil
	case "hmac-sha256":
		return AlgorithmHMACSHA256, nil
	default:
		return 0, fmt.Errorf("unknown derivation algorithm %q", s)
	}
}

// MinSaltLength is the smallest salt accepted at connector construction.
const MinSaltLength = 16

// derive computes the deterministic pairwise identifier for (salt, value,
// rpID) under the given algorithm. Identical inputs always produce the
// identical identifier; distinct relying parties produce unlinkable ones.
func derive(alg Algorithm, salt []byte, value, rpID string) string {
	switch alg {
	case AlgorithmHMACSHA256:
		mac := hmac.New(sha256.New, salt)
		mac.Write([]byte(value))
		mac.Write([]byte{'!'})
		mac.Write([]byte(rpID))
		return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	default:
		h := sha1.New()
		h.Write([]byte(rpID))
		h.Write([]byte{'!'})
		h.Write([]byte(value))
		h.Write([]byte{'!'})
		h.Write(salt)
		return base64.StdEncoding.EncodeToString(h.Sum(nil))
	}
}

// fingerprint digests the source value for use as a store lookup aid.
// It is never released to a relying party.
func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
