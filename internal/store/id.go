package store

import (
	"strings"

	"github.com/google/uuid"
)

// generatePrefixedID returns {prefix}_{32 hex chars} from a UUIDv7, so ids
// sort by creation time. Falls back to a random v4 if the clock read fails.
func generatePrefixedID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}
