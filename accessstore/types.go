// Package accessstore indexes access-control entries (ACE), registration
// entries (RCE), and domain-role entries (DRE) in memory, with wildcard
// precedence and an atomically-written on-disk snapshot.
package accessstore

import "github.com/joynr-go/clustercontroller/messaging"

// MasterACE bounds the choices a mediator or owner entry may make for a
// (uid, domain, interfaceName, operation) consumer.
type MasterACE struct {
	UID           string
	Domain        string
	InterfaceName string
	Operation     string

	DefaultRequiredTrustLevel messaging.TrustLevel
	DefaultConsumerPermission messaging.Permission

	PossibleConsumerPermissions                   []messaging.Permission
	PossibleRequiredTrustLevels                   []messaging.TrustLevel
	PossibleRequiredControlEntryChangeTrustLevels []messaging.TrustLevel
}

// MediatorACE has the identical shape of MasterACE; it narrows the
// possibility sets of an enclosing MasterACE.
type MediatorACE = MasterACE

// OwnerACE fixes a concrete permission and trust level for a consumer,
// within the innermost possibility set available.
type OwnerACE struct {
	UID           string
	Domain        string
	InterfaceName string
	Operation     string

	RequiredTrustLevel messaging.TrustLevel
	ConsumerPermission messaging.Permission
}

// MasterRCE is the provider-registration analogue of MasterACE, keyed
// without an operation.
type MasterRCE struct {
	UID           string
	Domain        string
	InterfaceName string

	DefaultRequiredTrustLevel messaging.TrustLevel
	DefaultProviderPermission messaging.Permission

	PossibleProviderPermissions                   []messaging.Permission
	PossibleRequiredTrustLevels                   []messaging.TrustLevel
	PossibleRequiredControlEntryChangeTrustLevels []messaging.TrustLevel
}

// MediatorRCE has the identical shape of MasterRCE.
type MediatorRCE = MasterRCE

// OwnerRCE fixes a concrete provider permission and trust level.
type OwnerRCE struct {
	UID           string
	Domain        string
	InterfaceName string

	RequiredTrustLevel messaging.TrustLevel
	ProviderPermission messaging.Permission
}

// DomainRoleEntry grants uid editorial rights over a set of domains under
// a role (MASTER or OWNER).
type DomainRoleEntry struct {
	UID    string
	Role   messaging.Role
	Domains []string
}

// recordSeparator disambiguates composite-key field boundaries the way
// the LDAC cache key does; using it instead of a printable separator
// avoids collisions with domain/interface names that happen to contain
// dots, colons, or other punctuation.
const recordSeparator = "\x1e"
