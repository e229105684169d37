package domain

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)
