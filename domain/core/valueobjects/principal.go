package valueobjects

import pkgerrors "loci/pkg/errors"

// Principal is the caller identity handed to every core operation.
// An authenticated caller has a UserID. A guest has only an opaque,
// client-generated session token, which stands in for the owner on
// guest nexus records.
type Principal struct {
	UserID       string
	GuestSession string
}

// UserPrincipal builds a principal for an authenticated subject.
func UserPrincipal(userID string) Principal {
	return Principal{UserID: userID}
}

// GuestPrincipal builds a principal for an anonymous session.
func GuestPrincipal(session string) Principal {
	return Principal{GuestSession: session}
}

// IsAuthenticated reports whether the caller has a stable identity.
func (p Principal) IsAuthenticated() bool {
	return p.UserID != ""
}

// IsGuest reports whether the caller is an anonymous session.
func (p Principal) IsGuest() bool {
	return p.UserID == "" && p.GuestSession != ""
}

// IsAnonymous reports whether no identity at all was supplied.
func (p Principal) IsAnonymous() bool {
	return p.UserID == "" && p.GuestSession == ""
}

// GuestOwnerPrefix namespaces guest owner keys away from user IDs.
const GuestOwnerPrefix = "guest:"

// OwnerKey is the value stamped into owner fields on records this caller creates.
func (p Principal) OwnerKey() string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.GuestSession != "" {
		return GuestOwnerPrefix + p.GuestSession
	}
	return ""
}

// RequireUser fails with Unauthenticated unless the caller is a signed-in user.
func (p Principal) RequireUser() error {
	if !p.IsAuthenticated() {
		return pkgerrors.NewUnauthenticatedError("this operation requires a signed-in user")
	}
	return nil
}

// RequireAny fails with Unauthenticated when no identity was supplied at all.
func (p Principal) RequireAny() error {
	if p.IsAnonymous() {
		return pkgerrors.NewUnauthenticatedError("")
	}
	return nil
}
