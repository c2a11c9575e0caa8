package domain

import (
	"errors"
	"fmt"
)

// Assessment pipeline errors. None of them are retried: the same input and
// the same bundle always fail the same way.
var (
	// ErrUnknownCategory means a categorical value has no code in the bundle.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrArtifactLoad means the model bundle is missing, corrupt or does not
	// match the expected feature layout. Fatal at startup.
	ErrArtifactLoad = errors.New("artifact load failure")

	// ErrMalformedProfile means a field is outside its declared domain.
	ErrMalformedProfile = errors.New("malformed profile")
)

// UnknownCategoryError reports which field carried an unmapped value.
type UnknownCategoryError struct {
	Field string
	Value string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("%s: %s=%q", ErrUnknownCategory, e.Field, e.Value)
}

// Unwrap allows errors.Is(err, ErrUnknownCategory).
func (e *UnknownCategoryError) Unwrap() error {
	return ErrUnknownCategory
}
