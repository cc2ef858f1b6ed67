package util

import (
	"errors"
	"strings"
)

// maxFileNameLen keeps object keys well under S3's 1024-byte key limit even
// after the owner-hash prefix and random ID are added.
const maxFileNameLen = 200

// SanitizeFileName normalizes an uploaded file name for use inside a storage
// key. Path separators and control characters are replaced, traversal
// patterns are rejected, and overlong names are truncated preserving the
// extension.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, s)
	if s == "" {
		return "", errors.New("invalid file name")
	}
	if len(s) > maxFileNameLen {
		ext := ""
		if i := strings.LastIndex(s, "."); i > 0 && len(s)-i <= 16 {
			ext = s[i:]
		}
		s = s[:maxFileNameLen-len(ext)] + ext
	}
	return s, nil
}
