package gateway

import (
	"errors"
	"net/http"
)

// ValidationError is a local rejection; the file never reached the network.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// TransportError is a network failure or a non-2xx answer. Status is 0 when
// no response was received.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string { return e.Message }

func (e *TransportError) Unwrap() error { return e.Err }

// Permission reports whether the remote side refused the caller.
func (e *TransportError) Permission() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPermission(err error) bool {
	var t *TransportError
	return errors.As(err, &t) && t.Permission()
}
