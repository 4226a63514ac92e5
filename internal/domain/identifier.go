package domain

import "fmt"

// HasIdentifier is implemented by every response type that carries the id of
// the resource it describes.
type HasIdentifier interface {
	GetID() (string, bool)
}

// IdentifierOf extracts the id from v or reports ErrInvalidArgument when the
// response did not carry one.
func IdentifierOf(v HasIdentifier) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: missing response", ErrInvalidArgument)
	}
	id, ok := v.GetID()
	if !ok || id == "" {
		return "", fmt.Errorf("%w: response carries no identifier", ErrInvalidArgument)
	}
	return id, nil
}
