package repository

import "errors"

// ErrNotFound is returned when a row is absent or a conditional update
// matched nothing. Usecases treat the latter as a lost race.
var ErrNotFound = errors.New("repository: not found")
