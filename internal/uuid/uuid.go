// Package uuid generates the random identifiers given to export archives and
// realtime clients.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// clientIDPrefix marks identifiers handed to WebSocket connections.
const clientIDPrefix = "ws-"

// NewArchiveID returns a random v4 identifier for an export archive.
func NewArchiveID() string {
	return uuid.NewString()
}

// ParseArchiveID checks that s is a v4 archive identifier as written by
// NewArchiveID and returns it in canonical lower-case form.
func ParseArchiveID(s string) (string, error) {
	if len(s) != 36 {
		return "", fmt.Errorf("archive id %q: want 36 characters, got %d", s, len(s))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("archive id %q: %w", s, err)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return "", fmt.Errorf("archive id %q: not a random (v4) id", s)
	}
	return id.String(), nil
}

// NewClientID returns a short identifier for one WebSocket connection. It is
// only used in logs, so eight hex digits are enough.
func NewClientID() string {
	id := uuid.New()
	return clientIDPrefix + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// IsClientID reports whether s has the shape produced by NewClientID.
func IsClientID(s string) bool {
	hex, ok := strings.CutPrefix(s, clientIDPrefix)
	if !ok || len(hex) != 8 {
		return false
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
