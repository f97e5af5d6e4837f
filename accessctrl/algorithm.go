package accessctrl

import "github.com/joynr-go/clustercontroller/messaging"

// GetConsumerPermission implements the three-layer delegation lattice:
// master sets bounds, mediator narrows within them, owner picks a
// concrete point. The chain is validated first; an inconsistent chain
// fails closed to NO irrespective of trust level. Otherwise the
// innermost present entry (owner, else mediator, else master) is
// compared against trustLevel.
func GetConsumerPermission(master, mediator *OuterEntry, owner *InnerEntry, trustLevel messaging.TrustLevel) messaging.Permission {
	if !isValid(master, mediator, owner) {
		return messaging.PermissionNo
	}
	required, granted, ok := innermostDecision(master, mediator, owner)
	if !ok {
		return messaging.PermissionNo
	}
	if trustLevel < required {
		return messaging.PermissionNo
	}
	return granted
}

// GetProviderPermission is the symmetric provider-side algorithm over
// registration control entries; callers pass the same OuterEntry/
// InnerEntry shapes built from Master/Mediator/Owner RCEs.
func GetProviderPermission(master, mediator *OuterEntry, owner *InnerEntry, trustLevel messaging.TrustLevel) messaging.Permission {
	return GetConsumerPermission(master, mediator, owner, trustLevel)
}

// innermostDecision picks the innermost present entry's (required trust
// level, permission) pair. ok is false only when none of the three
// entries are present.
func innermostDecision(master, mediator *OuterEntry, owner *InnerEntry) (required messaging.TrustLevel, granted messaging.Permission, ok bool) {
	if owner != nil {
		return owner.RequiredTrustLevel, owner.Permission, true
	}
	if mediator != nil {
		return mediator.DefaultRequiredTrustLevel, mediator.DefaultPermission, true
	}
	if master != nil {
		return master.DefaultRequiredTrustLevel, master.DefaultPermission, true
	}
	return messaging.TrustNone, messaging.PermissionNo, false
}
