// Package auth holds the resolved caller identity and the ownership gate
// applied to every job operation. Token issuance and verification belong to
// an external identity provider; this package only consumes its output.
package auth

import "errors"

// ErrForbidden is returned when an identity may not access a job.
var ErrForbidden = errors.New("forbidden")

// Identity is the authenticated caller as resolved by the identity provider.
type Identity struct {
	ID     string
	Groups []string
	Admin  bool
}

// Authorize decides read/write eligibility for a job: the owner and any
// admin are allowed, everyone else is denied.
func Authorize(id Identity, owner string) error {
	if id.Admin || id.ID == owner {
		return nil
	}
	return ErrForbidden
}
