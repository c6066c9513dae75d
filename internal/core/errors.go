package core

import "executioncore/pkg/apperrors"

// ErrOrderNotFound and ErrPositionNotFound are returned by read paths when no
// row matches; repositories never wrap these in driver-specific errors so
// callers can compare with apperrors.IsCode directly.
var (
	ErrOrderNotFound    = apperrors.New(apperrors.CodeOrderNotFound, "order not found")
	ErrPositionNotFound = apperrors.New(apperrors.CodePositionNotFound, "position not found")
)
