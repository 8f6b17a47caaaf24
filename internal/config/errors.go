package config

import "errors"

// Sentinel errors returned by Load and Validate.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
	// ErrUnknownBackend accompanies ErrInvalidConfig when the transport or
	// store kind is not one of the supported backends.
	ErrUnknownBackend = errors.New("unknown backend")
)
