package sorting

import (
	"errors"
	"fmt"
)

var (
	ErrStopped        = errors.New("engine stopped")
	ErrAlreadyStarted = errors.New("engine already started")
)

// SortError reports a failure inside one algorithm's run.
type SortError struct {
	Algorithm Algorithm
	Cause     string
}

func (e *SortError) Error() string {
	return fmt.Sprintf("%s: sort failed: %s", e.Algorithm, e.Cause)
}

// halt unwinds an algorithm from inside an operation.
type halt struct {
	err error
}
