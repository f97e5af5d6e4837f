package accessctrl

import (
	"testing"

	"github.com/joynr-go/clustercontroller/messaging"
)

func TestIsValidNoEntries(t *testing.T) {
	if !isValid(nil, nil, nil) {
		t.Fatal("expected an entirely empty chain to be valid (no policy yet)")
	}
}

func TestIsMediatorValidNarrowing(t *testing.T) {
	master := &OuterEntry{
		DefaultPermission:           messaging.PermissionYes,
		DefaultRequiredTrustLevel:   messaging.TrustMid,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionYes, messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustMid, messaging.TrustHigh},
	}

	valid := &OuterEntry{
		DefaultPermission:           messaging.PermissionNo,
		DefaultRequiredTrustLevel:   messaging.TrustHigh,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustHigh},
	}
	if !isMediatorValid(master, valid) {
		t.Fatal("expected a mediator whose choices lie within master's possibility sets to be valid")
	}

	widens := &OuterEntry{
		DefaultPermission:           messaging.PermissionYes,
		DefaultRequiredTrustLevel:   messaging.TrustMid,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionYes, messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustNone, messaging.TrustMid, messaging.TrustHigh},
	}
	if isMediatorValid(master, widens) {
		t.Fatal("expected a mediator whose possibility set is wider than master's to be invalid")
	}

	outsideDefault := &OuterEntry{
		DefaultPermission:         messaging.PermissionAsk,
		DefaultRequiredTrustLevel: messaging.TrustMid,
	}
	if isMediatorValid(master, outsideDefault) {
		t.Fatal("expected a mediator default permission outside master's possibility set to be invalid")
	}
}

func TestIsOwnerValidWithinInnermostOuter(t *testing.T) {
	master := &OuterEntry{
		PossiblePermissions:         []messaging.Permission{messaging.PermissionYes, messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustMid, messaging.TrustHigh},
	}
	mediator := &OuterEntry{
		PossiblePermissions:         []messaging.Permission{messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustHigh},
	}

	validOwner := &InnerEntry{Permission: messaging.PermissionNo, RequiredTrustLevel: messaging.TrustHigh}
	if !isOwnerValid(master, mediator, validOwner) {
		t.Fatal("expected an owner within the mediator's (innermost) possibility set to be valid")
	}

	// Valid against master but not against the narrower mediator: the
	// mediator is the innermost outer entry and must be what owner is
	// checked against.
	invalidOwner := &InnerEntry{Permission: messaging.PermissionYes, RequiredTrustLevel: messaging.TrustMid}
	if isOwnerValid(master, mediator, invalidOwner) {
		t.Fatal("expected an owner valid only against master, not the innermost mediator, to be invalid")
	}
}

func TestIsOwnerValidNoOuterEntries(t *testing.T) {
	owner := &InnerEntry{Permission: messaging.PermissionYes, RequiredTrustLevel: messaging.TrustHigh}
	if !isOwnerValid(nil, nil, owner) {
		t.Fatal("expected any owner to be valid when no outer entry constrains it")
	}
}
