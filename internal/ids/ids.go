// Package ids generates opaque 16-hex-char identifiers for file_ids and
// conflict ids.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New16Hex returns a 16-character lowercase hex identifier derived from a
// fresh UUIDv4.
func New16Hex() string {
	u := uuid.New()
	s := strings.ReplaceAll(u.String(), "-", "")
	return s[:16]
}
