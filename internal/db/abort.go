package db

import "errors"

type abortError struct {
	err error
}

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort marks err as a domain outcome rather than a storage failure. The
// executor rolls back, skips retries and returns err to the caller as is.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

func unwrapAbort(err error) (error, bool) {
	var a *abortError
	if errors.As(err, &a) {
		return a.err, true
	}
	return nil, false
}
