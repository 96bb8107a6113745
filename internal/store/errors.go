package store

import (
	"errors"

	"github.com/dotcommander/lore/internal/apperr"
)

// entityKnowledge is the entity name used in structured errors.
const entityKnowledge = "knowledge"

// dbErr wraps a driver error as an apperr.DatabaseError unless it already
// carries a domain classification.
func dbErr(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	var rec interface{ ErrorCode() string }
	if errors.As(err, &rec) {
		return err
	}
	return &apperr.DatabaseError{
		Op:        op,
		Entity:    entity,
		ID:        id,
		Retryable: isRetryableError(err),
		Cause:     err,
	}
}
