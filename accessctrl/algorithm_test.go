package accessctrl

import (
	"testing"

	"github.com/joynr-go/clustercontroller/messaging"
)

func TestGetConsumerPermissionNoEntries(t *testing.T) {
	got := GetConsumerPermission(nil, nil, nil, messaging.TrustHigh)
	if got != messaging.PermissionNo {
		t.Fatalf("expected PermissionNo with no policy at all, got %v", got)
	}
}

func TestGetConsumerPermissionMasterOnly(t *testing.T) {
	master := &OuterEntry{DefaultRequiredTrustLevel: messaging.TrustMid, DefaultPermission: messaging.PermissionYes}

	if got := GetConsumerPermission(master, nil, nil, messaging.TrustHigh); got != messaging.PermissionYes {
		t.Fatalf("expected PermissionYes when trust exceeds the required level, got %v", got)
	}
	if got := GetConsumerPermission(master, nil, nil, messaging.TrustLow); got != messaging.PermissionNo {
		t.Fatalf("expected PermissionNo when trust is below the required level, got %v", got)
	}
}

func TestGetConsumerPermissionOwnerNarrowsWithinMaster(t *testing.T) {
	master := &OuterEntry{
		DefaultRequiredTrustLevel:   messaging.TrustMid,
		DefaultPermission:           messaging.PermissionNo,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionNo, messaging.PermissionYes},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustMid, messaging.TrustHigh},
	}
	owner := &InnerEntry{RequiredTrustLevel: messaging.TrustHigh, Permission: messaging.PermissionYes}

	if got := GetConsumerPermission(master, nil, owner, messaging.TrustHigh); got != messaging.PermissionYes {
		t.Fatalf("expected owner's concrete grant to win, got %v", got)
	}
	if got := GetConsumerPermission(master, nil, owner, messaging.TrustMid); got != messaging.PermissionNo {
		t.Fatalf("expected PermissionNo below owner's required trust level, got %v", got)
	}
}

func TestGetConsumerPermissionOwnerOutsideMasterBoundsFailsClosed(t *testing.T) {
	master := &OuterEntry{
		DefaultRequiredTrustLevel:   messaging.TrustMid,
		DefaultPermission:           messaging.PermissionNo,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionNo},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustMid},
	}
	owner := &InnerEntry{RequiredTrustLevel: messaging.TrustMid, Permission: messaging.PermissionYes}

	if got := GetConsumerPermission(master, nil, owner, messaging.TrustHigh); got != messaging.PermissionNo {
		t.Fatalf("expected an owner grant outside master's possibility set to fail closed, got %v", got)
	}
}

func TestGetConsumerPermissionInvalidMediatorFailsWholeChain(t *testing.T) {
	master := &OuterEntry{
		DefaultRequiredTrustLevel:   messaging.TrustMid,
		DefaultPermission:           messaging.PermissionYes,
		PossiblePermissions:         []messaging.Permission{messaging.PermissionYes},
		PossibleRequiredTrustLevels: []messaging.TrustLevel{messaging.TrustMid},
	}
	// mediator's default permission (PermissionNo) is not in master's
	// possibility set, so the chain as a whole is invalid.
	mediator := &OuterEntry{DefaultRequiredTrustLevel: messaging.TrustMid, DefaultPermission: messaging.PermissionNo}
	owner := &InnerEntry{RequiredTrustLevel: messaging.TrustMid, Permission: messaging.PermissionYes}

	if got := GetConsumerPermission(master, mediator, owner, messaging.TrustHigh); got != messaging.PermissionNo {
		t.Fatalf("expected an invalid mediator to fail the whole chain regardless of owner, got %v", got)
	}
}

func TestGetProviderPermissionDelegatesToConsumerAlgorithm(t *testing.T) {
	master := &OuterEntry{DefaultRequiredTrustLevel: messaging.TrustLow, DefaultPermission: messaging.PermissionYes}
	if got := GetProviderPermission(master, nil, nil, messaging.TrustHigh); got != messaging.PermissionYes {
		t.Fatalf("expected GetProviderPermission to match GetConsumerPermission's result, got %v", got)
	}
}
