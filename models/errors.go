package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLabel indicates a state or decision label (or ordinal) that is
// not part of the fixed taxonomy. Callers must not mutate anything when they
// see this.
var ErrUnknownLabel = errors.New("unknown label")

// ValidationError reports required ticket fields that are missing or
// inconsistent before a write.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ticket validation failed: missing %s", strings.Join(e.Missing, ", "))
}
