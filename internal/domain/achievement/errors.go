package achievement

import "errors"

var (
	// ErrInvalidCatalog is returned when a catalog cannot be read or decoded.
	ErrInvalidCatalog = errors.New("invalid badge catalog")
	// ErrDuplicateBadge is returned when two catalog entries share an id.
	ErrDuplicateBadge = errors.New("duplicate badge id")
	// ErrInvalidCriteria is returned for missing or malformed criteria parameters.
	ErrInvalidCriteria = errors.New("invalid badge criteria")
)
