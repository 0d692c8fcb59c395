// Package validation provides common validation utilities for configuration
// parameters across the bufstream module.
//
// Every helper returns a *errors.ValidationError (wrapping
// errors.ErrInvalidConfiguration) so constructors and the daemon's config
// loader report problems with the same shape.
package validation
