// Package ldac implements the Local Domain Access Controller: async
// policy materialization with per-(domain,interfaceName) caching, request
// queueing during first-fetch initialization, and change-notification
// driven cache invalidation.
package ldac

import (
	"context"
	"regexp"

	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/messaging"
)

// Backend is the access-policy backend LDAC consults when a
// (domain, interfaceName) key is not yet cached, and subscribes to for
// change notifications thereafter. One concrete implementation talks to
// the actual policy service; tests substitute a fake.
type Backend interface {
	FetchMasterACEs(ctx context.Context, domain, iface string) ([]accessstore.MasterACE, error)
	FetchMediatorACEs(ctx context.Context, domain, iface string) ([]accessstore.MediatorACE, error)
	FetchOwnerACEs(ctx context.Context, domain, iface string) ([]accessstore.OwnerACE, error)
	FetchDomainRoles(ctx context.Context, uid string) ([]accessstore.DomainRoleEntry, error)

	FetchMasterRCEs(ctx context.Context, domain, iface string) ([]accessstore.MasterRCE, error)
	FetchMediatorRCEs(ctx context.Context, domain, iface string) ([]accessstore.MediatorRCE, error)
	FetchOwnerRCEs(ctx context.Context, domain, iface string) ([]accessstore.OwnerRCE, error)

	// Subscribe* register a change-notification listener on the named
	// multicast partition and return an unsubscribe func. userID is
	// already sanitized and may be "+" (wildcard).
	SubscribeMasterACEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.MasterACE)) (unsubscribe func() error, err error)
	SubscribeMediatorACEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.MediatorACE)) (unsubscribe func() error, err error)
	SubscribeOwnerACEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.OwnerACE)) (unsubscribe func() error, err error)
	SubscribeDomainRoleChanged(userID string, on func(messaging.ChangeType, accessstore.DomainRoleEntry)) (unsubscribe func() error, err error)

	SubscribeMasterRCEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.MasterRCE)) (unsubscribe func() error, err error)
	SubscribeMediatorRCEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.MediatorRCE)) (unsubscribe func() error, err error)
	SubscribeOwnerRCEChanged(userID, domain, iface string, on func(messaging.ChangeType, accessstore.OwnerRCE)) (unsubscribe func() error, err error)
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// sanitizePartition strips every character that is not [A-Za-z0-9],
// as required before using a userId/domain/interfaceName as a multicast
// partition.
func sanitizePartition(s string) string {
	if s == messaging.Wildcard {
		return "+"
	}
	return nonAlnum.ReplaceAllString(s, "")
}

// cacheKey builds the per-(domain,interfaceName) cache key: domain,
// a record separator, then interfaceName.
func cacheKey(domain, iface string) string {
	return domain + "\x1e" + iface
}
