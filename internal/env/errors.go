package env

import (
	"errors"
	"fmt"
)

// LocatorErrorKind classifies workload location failures.
type LocatorErrorKind int

const (
	// KindNotFound means the selector matched no workload instance.
	KindNotFound LocatorErrorKind = iota
	// KindQueryFailed means the control interface could not be queried.
	KindQueryFailed
)

func (k LocatorErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindQueryFailed:
		return "QueryFailed"
	default:
		return "Unknown"
	}
}

// LocatorError is returned by Profile.Locate. Location failures are fatal to
// a run: there is nothing to validate without a workload.
type LocatorError struct {
	Kind        LocatorErrorKind
	Environment string
	Selector    string
	Err         error
}

func (e *LocatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("locating workload %q in %s: %s: %v", e.Selector, e.Environment, e.Kind, e.Err)
	}
	return fmt.Sprintf("locating workload %q in %s: %s", e.Selector, e.Environment, e.Kind)
}

func (e *LocatorError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a LocatorError of kind NotFound.
func IsNotFound(err error) bool {
	var le *LocatorError
	return errors.As(err, &le) && le.Kind == KindNotFound
}
