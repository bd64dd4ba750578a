// Package recordid derives stable fallback identifiers for prompts whose source omits one.
package recordid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix marks identifiers generated locally rather than supplied by the source.
const Prefix = "gen:"

// FromPrompt returns a deterministic id for a prompt pair. Whitespace runs are
// collapsed first so re-captured copies of the same prompt map to the same id.
func FromPrompt(prompt, negative string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(strings.Fields(prompt), " ")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(negative), " ")))
	sum := h.Sum(nil)
	return Prefix + hex.EncodeToString(sum[:16])
}

// IsGenerated reports whether id was produced by FromPrompt.
func IsGenerated(id string) bool {
	return strings.HasPrefix(id, Prefix)
}
