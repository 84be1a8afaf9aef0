// Package canonicalization builds the dedup keys curated records are
// upserted on (§3.2). Business-key tables key on a fixed tuple of fields;
// the partial-market table keys on a SHA-256 hash of its tuple instead,
// because its business fields include free-text (artiNombre) that is
// impractical to index directly. Both builders are pure functions over
// strings — no dependency on the record or storage types — so they stay
// reusable from both the orchestrator and storage-layer tests.
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// BusinessKey joins parts with a separator that cannot appear in a single
// numeric or short-code field, giving a stable composite key for indexing
// and in-batch dedup (§4.5 step 1).
func BusinessKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// HashKey returns the SHA-256 hex digest of parts joined the same way as
// BusinessKey, for the partial-market table's hash-key strategy (§3.2).
// Re-submitting a record with identical business fields always yields the
// same 64-character key.
func HashKey(parts ...string) string {
	return hashSHA256(strings.Join(parts, "|"))
}

// hashSHA256 computes the SHA-256 hash of the input string.
func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
