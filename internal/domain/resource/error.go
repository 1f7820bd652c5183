package resource

import (
	"errors"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrConflict          = errors.New("document already exists")
	ErrInvalidData       = errors.New("invalid document data")
	ErrUnknownCollection = errors.New("unknown collection")
)
