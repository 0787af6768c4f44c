package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The entity store returns these
// (optionally wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: identifier already taken
//   - ErrInvalidState: entity in the wrong state for the requested transition
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
