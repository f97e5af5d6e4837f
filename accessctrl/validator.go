// Package accessctrl implements the pure decision function that turns a
// master/mediator/owner access-control-entry chain and a trust level into
// a permission, validating the chain's internal consistency first.
package accessctrl

import "github.com/joynr-go/clustercontroller/messaging"

// OuterEntry is the subset of a master or mediator ACE/RCE the validator
// and algorithm need: a default permission/trust-level pair plus the
// three possibility sets that bound an inner layer's concrete choices.
type OuterEntry struct {
	DefaultRequiredTrustLevel messaging.TrustLevel
	DefaultPermission         messaging.Permission

	PossiblePermissions        []messaging.Permission
	PossibleRequiredTrustLevels []messaging.TrustLevel
}

// InnerEntry is the subset of an owner ACE/RCE needed by the algorithm: a
// concrete permission and trust level.
type InnerEntry struct {
	RequiredTrustLevel messaging.TrustLevel
	Permission         messaging.Permission
}

func containsPermission(set []messaging.Permission, v messaging.Permission) bool {
	for _, p := range set {
		if p == v {
			return true
		}
	}
	return false
}

func containsTrustLevel(set []messaging.TrustLevel, v messaging.TrustLevel) bool {
	for _, t := range set {
		if t == v {
			return true
		}
	}
	return false
}

func subsetPermissions(inner, outer []messaging.Permission) bool {
	for _, v := range inner {
		if !containsPermission(outer, v) {
			return false
		}
	}
	return true
}

func subsetTrustLevels(inner, outer []messaging.TrustLevel) bool {
	for _, v := range inner {
		if !containsTrustLevel(outer, v) {
			return false
		}
	}
	return true
}

// isMediatorValid reports whether mediator narrows master correctly: its
// default permission/trust-level lie within master's possibility sets,
// and its own possibility sets are subsets of master's.
func isMediatorValid(master, mediator *OuterEntry) bool {
	if mediator == nil {
		return true
	}
	if master == nil {
		return true
	}
	if !containsPermission(master.PossiblePermissions, mediator.DefaultPermission) {
		return false
	}
	if !containsTrustLevel(master.PossibleRequiredTrustLevels, mediator.DefaultRequiredTrustLevel) {
		return false
	}
	if !subsetPermissions(mediator.PossiblePermissions, master.PossiblePermissions) {
		return false
	}
	if !subsetTrustLevels(mediator.PossibleRequiredTrustLevels, master.PossibleRequiredTrustLevels) {
		return false
	}
	return true
}

// innermostOuter returns the mediator if present, else the master, else
// nil (no outer entries at all). It does not check the mediator's
// validity; isValid rejects an invalid mediator on its own.
func innermostOuter(master, mediator *OuterEntry) *OuterEntry {
	if mediator != nil {
		return mediator
	}
	return master
}

// isOwnerValid reports whether owner's concrete choice lies within the
// innermost present outer entry's possibility sets. With no outer
// entries at all, any owner is valid (it is the sole source of policy).
func isOwnerValid(master, mediator *OuterEntry, owner *InnerEntry) bool {
	if owner == nil {
		return true
	}
	outer := innermostOuter(master, mediator)
	if outer == nil {
		return true
	}
	if !containsPermission(outer.PossiblePermissions, owner.Permission) {
		return false
	}
	if !containsTrustLevel(outer.PossibleRequiredTrustLevels, owner.RequiredTrustLevel) {
		return false
	}
	return true
}

// isValid reports whether the whole (master, mediator, owner) triple is
// internally consistent. An invalid mediator fails the whole chain
// closed, regardless of what the owner would otherwise resolve to.
func isValid(master, mediator *OuterEntry, owner *InnerEntry) bool {
	if !isMediatorValid(master, mediator) {
		return false
	}
	return isOwnerValid(master, mediator, owner)
}
