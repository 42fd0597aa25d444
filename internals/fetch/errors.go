package fetch

import "fmt"

// IntegrityError is returned when fetched content does not hash to the
// value resolved for it. It is never auto corrected: the operator has to
// fix the lockfile or the hash cache.
type IntegrityError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"integrity check failed for %s\n\texpected hash \"%s\"\n\tbut got       \"%s\"",
		e.ID,
		e.Expected,
		e.Actual,
	)
}

// Error is a failed fetch of a single package
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
