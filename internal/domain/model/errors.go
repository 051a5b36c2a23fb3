package model

import "errors"

// ErrValidation marks input the domain refuses to persist.
var ErrValidation = errors.New("validation failed")
