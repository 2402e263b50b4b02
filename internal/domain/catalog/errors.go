package catalog

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors returned by catalog stores and the service.
var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrCategoryNotFound is returned when a product references a category
	// that does not exist.
	ErrCategoryNotFound = errors.New("category not found")
)

// DuplicateNameError indicates a category with the same name already exists.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("category %q already exists", e.Name)
}

// ValidationError indicates a required field is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
