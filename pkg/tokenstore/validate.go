package tokenstore

import (
	"encoding/base64"
	"strings"
)

// ValidateTokenStructure performs a format-only sanity check on a JWT-shaped
// token: non-empty, exactly three dot-separated non-empty segments, each
// decodable as base64 once the URL-safe alphabet is normalized to standard.
//
// This is NOT verification. A syntactically well-formed but forged token
// passes.
func ValidateTokenStructure(token string) bool {
	if token == "" {
		return false
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return false
	}

	for _, seg := range segments {
		if seg == "" {
			return false
		}
		if !decodableBase64(seg) {
			return false
		}
	}

	return true
}

// decodableBase64 reports whether s decodes as base64 after mapping the
// URL-safe alphabet back to standard and re-padding.
func decodableBase64(s string) bool {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}

	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
