// Package fingerprint derives stable cache keys for generated audio.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Derive maps a normalized content identifier and a voice selection to a
// deterministic, collision-resistant key. Concurrent requests from independent
// processes converge on the same key for the same pair, which is what makes
// the cache claim race safe.
func Derive(normalizedIdentifier, voiceID string) string {
	h := sha256.Sum256([]byte(normalizedIdentifier + "|" + voiceID))
	return hex.EncodeToString(h[:])
}

// NormalizeIdentifier canonicalizes a content identifier so trivially
// different spellings of the same source map to one cache row. URLs lose
// their scheme, fragment, trailing slash and case differences in the host.
func NormalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)

	// Strip the fragment; it never changes the fetched content.
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}

	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			s = s[len(scheme):]
			lower = lower[len(scheme):]
			break
		}
	}

	// Lowercase the host part only; paths may be case-sensitive.
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = strings.ToLower(s[:i]) + s[i:]
	} else {
		s = strings.ToLower(s)
	}

	return strings.TrimSuffix(s, "/")
}
