package shibauth

import (
	"errors"
	"fmt"
)

// ErrMissingIdentityProvider is returned when the request carries no
// identity-provider header. The front end either did not run the SSO
// handshake or is misconfigured.
var ErrMissingIdentityProvider = errors.New("shibauth: identity provider header missing")

// UnauthorizedIdPError is returned when the asserting IdP is not on the
// authorized allowlist.
type UnauthorizedIdPError struct {
	IdP string
}

func (e *UnauthorizedIdPError) Error() string {
	return fmt.Sprintf("shibauth: unauthorized identity provider: %s", e.IdP)
}

// MissingAttributeError is returned when a required attribute is absent
// from the assertion.
type MissingAttributeError struct {
	Field string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("shibauth: required attribute missing: %s", e.Field)
}
