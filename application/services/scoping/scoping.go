// Package scoping decides which records a caller may see.
//
// A record is visible to its owner. A record with no owner is visible when
// its parent container is shared: the public manual nexus, a nexus flagged
// shared, or the caller's own guest nexus. Records created under a guest
// nexus carry no owner and inherit visibility from it.
package scoping

import (
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
)

// Visible reports whether requester may see record.
func Visible(record entities.Owned, requester valueobjects.Principal, parentShared bool) bool {
	owner := record.Owner()
	if owner == "" {
		return parentShared
	}
	return owner == requester.OwnerKey()
}

// IsSharedNexus reports whether a nexus exempts its subtree from per-record
// owner checks for this requester.
func IsSharedNexus(nexus *entities.Nexus, requester valueobjects.Principal, publicManualName string) bool {
	if nexus.IsShared {
		return true
	}
	if publicManualName != "" && nexus.Name == publicManualName && nexus.OwnerID == "" {
		return true
	}
	return nexus.IsGuest && requester.IsGuest() && nexus.OwnerID == requester.OwnerKey()
}
