package hunt

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// CompactID is the public form of an id: URL-safe base64 of the UUID bytes
// without padding (22 characters).
func CompactID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseCompactID(s string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode compact id: %w", err)
	}
	return uuid.FromBytes(raw)
}
