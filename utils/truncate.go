// Package utils provides utility functions for the application.
package utils

import (
	"encoding/json"
	"unicode/utf8"
)

// TruncatedFlagKey marks a JSON document that was cut down to fit a store
// column limit. Consumers must treat flagged documents as partial.
const TruncatedFlagKey = "_truncated"

// truncatedEnvelope replaces an oversized JSON document. The preview keeps the
// head of the original text so operators can still identify the record.
type truncatedEnvelope struct {
	Truncated     bool   `json:"_truncated"`
	OriginalBytes int    `json:"original_bytes"`
	Preview       string `json:"preview"`
}

// TruncateJSON enforces a maximum byte size on a persisted JSON field. Fields
// at or under the limit pass through unchanged. Oversized fields are replaced
// with a flagged envelope rather than being silently cut, so a read side can
// always tell a partial snapshot from a full one. The returned bool reports
// whether truncation happened.
func TruncateJSON(raw json.RawMessage, maxBytes int) (json.RawMessage, bool) {
	if maxBytes <= 0 || len(raw) <= maxBytes {
		return raw, false
	}

	// The limit is enforced on the marshaled envelope, not on the raw preview
	// bytes: embedding the preview as a JSON string re-escapes quotes and
	// backslashes, so a preview sized against the input can still overflow.
	// Each dropped raw byte removes at least one output byte, so shrinking by
	// the overage converges.
	preview := raw
	if len(preview) > maxBytes {
		preview = preview[:maxBytes]
	}
	for {
		// Do not split a multi-byte rune at the cut point.
		for len(preview) > 0 && !utf8.Valid(preview) {
			preview = preview[:len(preview)-1]
		}
		out, err := json.Marshal(truncatedEnvelope{
			Truncated:     true,
			OriginalBytes: len(raw),
			Preview:       string(preview),
		})
		if err != nil {
			// Marshalling a plain struct cannot realistically fail; fall back
			// to the minimal flag document.
			return []byte(`{"_truncated":true}`), true
		}
		if len(out) <= maxBytes || len(preview) == 0 {
			// An empty-preview envelope is the floor; limits below its size
			// cannot be met without losing the flag itself.
			return out, true
		}
		over := len(out) - maxBytes
		if over > len(preview) {
			over = len(preview)
		}
		preview = preview[:len(preview)-over]
	}
}

// IsTruncatedJSON reports whether a stored JSON field carries the truncation
// flag.
func IsTruncatedJSON(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	flag, ok := probe[TruncatedFlagKey]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(flag, &b); err != nil {
		return false
	}
	return b
}
