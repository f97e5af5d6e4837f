package ldac

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"github.com/joynr-go/clustercontroller/accessctrl"
	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/cmn/metrics"
	"github.com/joynr-go/clustercontroller/messaging"
)

// ConsumerResult is delivered to a ConsumerCallback: either a concrete
// permission, or the OperationNeeded sentinel asking the caller to
// re-query with a resolved operation name.
type ConsumerResult struct {
	OperationNeeded bool
	Permission      messaging.Permission
}

// ConsumerCallback receives the outcome of an async consumer-permission
// query.
type ConsumerCallback func(ConsumerResult)

// ProviderResult mirrors ConsumerResult for the provider (registration)
// side.
type ProviderResult struct {
	OperationNeeded bool
	Permission      messaging.Permission
}

// ProviderCallback receives the outcome of an async provider-permission
// query.
type ProviderCallback func(ProviderResult)

type pendingConsumerRequest struct {
	uid, domain, iface string
	trustLevel         messaging.TrustLevel
	cb                 ConsumerCallback
}

type pendingProviderRequest struct {
	uid, domain, iface string
	trustLevel         messaging.TrustLevel
	cb                 ProviderCallback
}

// Controller is the Local Domain Access Controller: it answers consumer
// and provider permission queries, caching per-(domain,interfaceName)
// policy and materializing it asynchronously from Backend on first use.
type Controller struct {
	store     *accessstore.Store
	backend   Backend
	localOnly bool

	sf singleflight.Group

	mu                sync.Mutex
	aceSubscriptions  map[string]struct{}
	acePending        map[string][]pendingConsumerRequest
	aceUnsubs         map[string][]func() error

	rceSubscriptions map[string]struct{}
	rcePending       map[string][]pendingProviderRequest
	rceUnsubs        map[string][]func() error

	roleSubscriptions map[string]struct{} // uid -> subscribed to DRE changes
}

// NewController constructs an LDAC bound to store and backend. When
// localOnly is true, all backend interaction is disabled: queries go
// directly against the store, which is assumed fully pre-provisioned.
func NewController(store *accessstore.Store, backend Backend, localOnly bool) *Controller {
	return &Controller{
		store:             store,
		backend:           backend,
		localOnly:         localOnly,
		aceSubscriptions:  make(map[string]struct{}),
		acePending:        make(map[string][]pendingConsumerRequest),
		aceUnsubs:         make(map[string][]func() error),
		rceSubscriptions:  make(map[string]struct{}),
		rcePending:        make(map[string][]pendingProviderRequest),
		rceUnsubs:         make(map[string][]func() error),
		roleSubscriptions: make(map[string]struct{}),
	}
}

// HasRole queries the DRE table for uid's role over domain. If uid is
// not yet subscribed for role-change notifications, subscribes (unless
// running local-only).
func (c *Controller) HasRole(uid, domain string, role messaging.Role) (bool, error) {
	if !c.localOnly {
		c.ensureRoleSubscribed(uid)
	}
	return c.store.HasRole(uid, domain, role)
}

// ensureRoleSubscribed subscribes to uid's domain-role change notifications
// exactly once; later calls for the same uid are no-ops.
func (c *Controller) ensureRoleSubscribed(uid string) {
	c.mu.Lock()
	_, subscribed := c.roleSubscriptions[uid]
	if !subscribed {
		c.roleSubscriptions[uid] = struct{}{}
	}
	c.mu.Unlock()

	if subscribed {
		return
	}
	if _, err := c.backend.SubscribeDomainRoleChanged(sanitizePartition(uid), func(ct messaging.ChangeType, dre accessstore.DomainRoleEntry) {
		c.applyDomainRoleChange(ct, dre)
	}); err != nil {
		glog.Errorf("ldac: subscribe domain role changed for %s: %v", uid, err)
	}
}

// GetConsumerPermissionSync is the synchronous fast path: it assumes
// policy for (domain, interfaceName) is already cached and evaluates the
// algorithm directly against operation.
func (c *Controller) GetConsumerPermissionSync(uid, domain, iface, operation string, trustLevel messaging.TrustLevel) (messaging.Permission, error) {
	master, mediator, owner, err := c.loadConsumerChain(uid, domain, iface, operation)
	if err != nil {
		return messaging.PermissionNo, err
	}
	return normalizeAsk(accessctrl.GetConsumerPermission(master, mediator, owner, trustLevel)), nil
}

// GetConsumerPermission is the async entry point. If the key is cached,
// it answers immediately (on the calling goroutine, matching "queueing
// means queueing, not a forced async hop" — only un-cached keys defer).
// If not cached, the request is queued and, if it is the first pending
// request for this key, a fetch round is kicked off; the callback fires
// once initialization completes (or aborts).
func (c *Controller) GetConsumerPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb ConsumerCallback) {
	key := cacheKey(domain, iface)

	c.mu.Lock()
	_, cached := c.aceSubscriptions[key]
	if cached {
		c.mu.Unlock()
		metrics.LDACCacheHits.WithLabelValues("consumer").Inc()
		c.answerFromCache(uid, domain, iface, trustLevel, cb)
		return
	}
	c.acePending[key] = append(c.acePending[key], pendingConsumerRequest{uid, domain, iface, trustLevel, cb})
	first := len(c.acePending[key]) == 1
	c.mu.Unlock()

	if first {
		metrics.LDACCacheMisses.WithLabelValues("consumer").Inc()
		go c.initializeACE(ctx, uid, domain, iface, key)
	}
}

func (c *Controller) answerFromCache(uid, domain, iface string, trustLevel messaging.TrustLevel, cb ConsumerCallback) {
	only, err := c.store.OnlyWildcardOperations(uid, domain, iface)
	if err != nil {
		glog.Errorf("ldac: onlyWildcardOperations(%s,%s,%s): %v", uid, domain, iface, err)
		cb(ConsumerResult{Permission: messaging.PermissionNo})
		return
	}
	if !only {
		cb(ConsumerResult{OperationNeeded: true})
		return
	}
	p, err := c.GetConsumerPermissionSync(uid, domain, iface, messaging.Wildcard, trustLevel)
	if err != nil {
		glog.Errorf("ldac: evaluate cached permission(%s,%s,%s): %v", uid, domain, iface, err)
		p = messaging.PermissionNo
	}
	cb(ConsumerResult{Permission: p})
}

// initializeACE races the three ACE fetches plus one fetch of uid's domain
// role entries, then replays every request queued for key in insertion
// order. The DRE fetch rides along with the ACE cache-miss that triggered
// it (matching the uid whose query caused the miss) rather than keying off
// key itself, since domain roles are per-uid, not per-(domain,iface).
func (c *Controller) initializeACE(ctx context.Context, uid, domain, iface, key string) {
	if c.localOnly {
		c.finishACEInit(uid, key, domain, iface, true)
		return
	}

	init := newInitializer(4, func() { c.finishACEInit(uid, key, domain, iface, true) }, func() { c.finishACEInit(uid, key, domain, iface, false) })

	fetch := func(name string, fn func() error) {
		_, err, _ := c.sf.Do(key+"|"+name, func() (interface{}, error) {
			return nil, fn()
		})
		if err != nil {
			glog.Errorf("ldac: fetch %s for (%s,%s): %v", name, domain, iface, err)
		}
		init.complete(err == nil)
	}

	go fetch("master-ace", func() error {
		entries, err := c.backend.FetchMasterACEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateMasterACE(e); err != nil {
				return err
			}
		}
		return nil
	})
	go fetch("mediator-ace", func() error {
		entries, err := c.backend.FetchMediatorACEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateMediatorACE(e); err != nil {
				return err
			}
		}
		return nil
	})
	go fetch("owner-ace", func() error {
		entries, err := c.backend.FetchOwnerACEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateOwnerACE(e); err != nil {
				return err
			}
		}
		return nil
	})
	go fetch("domain-role", func() error {
		entries, err := c.backend.FetchDomainRoles(ctx, uid)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateDomainRole(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// finishACEInit is called exactly once by the initializer, on whichever
// goroutine observes the last fetch complete. It acquires the mutex only
// to move the pending queue out and mark the key cached (or not, on
// abort); replay happens outside the lock to avoid deadlocking with a
// backend callback thread re-entering GetConsumerPermission.
func (c *Controller) finishACEInit(uid, key, domain, iface string, ok bool) {
	c.mu.Lock()
	queued := c.acePending[key]
	delete(c.acePending, key)
	if ok {
		c.aceSubscriptions[key] = struct{}{}
	}
	c.mu.Unlock()

	if ok && !c.localOnly {
		c.subscribeACEChanges(key, domain, iface)
		c.ensureRoleSubscribed(uid)
	}

	for _, req := range queued {
		if !ok {
			req.cb(ConsumerResult{Permission: messaging.PermissionNo})
			continue
		}
		c.answerFromCache(req.uid, req.domain, req.iface, req.trustLevel, req.cb)
	}
}

func (c *Controller) subscribeACEChanges(key, domain, iface string) {
	partition := "+"
	pDomain, pIface := sanitizePartition(domain), sanitizePartition(iface)
	var unsubs []func() error

	if u, err := c.backend.SubscribeMasterACEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.MasterACE) {
		c.applyMasterACEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe master ACE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}
	if u, err := c.backend.SubscribeMediatorACEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.MediatorACE) {
		c.applyMediatorACEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe mediator ACE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}
	if u, err := c.backend.SubscribeOwnerACEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.OwnerACE) {
		c.applyOwnerACEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe owner ACE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}

	c.mu.Lock()
	c.aceUnsubs[key] = unsubs
	c.mu.Unlock()
}

func (c *Controller) applyMasterACEChange(ct messaging.ChangeType, e accessstore.MasterACE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveMasterACE(e.UID, e.Domain, e.InterfaceName, e.Operation)
	default:
		err = c.store.UpdateMasterACE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply master ACE change: %v", err)
	}
}

func (c *Controller) applyMediatorACEChange(ct messaging.ChangeType, e accessstore.MediatorACE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveMediatorACE(e.UID, e.Domain, e.InterfaceName, e.Operation)
	default:
		err = c.store.UpdateMediatorACE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply mediator ACE change: %v", err)
	}
}

func (c *Controller) applyOwnerACEChange(ct messaging.ChangeType, e accessstore.OwnerACE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveOwnerACE(e.UID, e.Domain, e.InterfaceName, e.Operation)
	default:
		err = c.store.UpdateOwnerACE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply owner ACE change: %v", err)
	}
}

func (c *Controller) applyDomainRoleChange(ct messaging.ChangeType, e accessstore.DomainRoleEntry) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveDomainRole(e.UID, e.Role)
	default:
		err = c.store.UpdateDomainRole(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply domain role change: %v", err)
	}
}

// UnregisterProvider drops cached policy for (domain, interfaceName) and
// unsubscribes from its backend change notifications. Unsubscribe
// failures are logged but not fatal.
func (c *Controller) UnregisterProvider(domain, iface string) {
	key := cacheKey(domain, iface)

	c.mu.Lock()
	delete(c.aceSubscriptions, key)
	delete(c.rceSubscriptions, key)
	aceUnsubs := c.aceUnsubs[key]
	rceUnsubs := c.rceUnsubs[key]
	delete(c.aceUnsubs, key)
	delete(c.rceUnsubs, key)
	c.mu.Unlock()

	for _, u := range aceUnsubs {
		if err := u(); err != nil {
			glog.Errorf("ldac: unsubscribe ACE topic for (%s,%s): %v", domain, iface, err)
		}
	}
	for _, u := range rceUnsubs {
		if err := u(); err != nil {
			glog.Errorf("ldac: unsubscribe RCE topic for (%s,%s): %v", domain, iface, err)
		}
	}
}

// loadConsumerChain assembles the OuterEntry/InnerEntry triple the
// algorithm needs, by probing the store's four-way wildcard precedence
// lookup for each of master/mediator/owner ACE.
func (c *Controller) loadConsumerChain(uid, domain, iface, operation string) (*accessctrl.OuterEntry, *accessctrl.OuterEntry, *accessctrl.InnerEntry, error) {
	var master, mediator *accessctrl.OuterEntry
	var owner *accessctrl.InnerEntry

	m, err := c.store.GetMasterACE(uid, domain, iface, operation)
	if err != nil {
		return nil, nil, nil, err
	}
	if m != nil {
		master = &accessctrl.OuterEntry{
			DefaultRequiredTrustLevel:   m.DefaultRequiredTrustLevel,
			DefaultPermission:           m.DefaultConsumerPermission,
			PossiblePermissions:         m.PossibleConsumerPermissions,
			PossibleRequiredTrustLevels: m.PossibleRequiredTrustLevels,
		}
	}

	md, err := c.store.GetMediatorACE(uid, domain, iface, operation)
	if err != nil {
		return nil, nil, nil, err
	}
	if md != nil {
		mediator = &accessctrl.OuterEntry{
			DefaultRequiredTrustLevel:   md.DefaultRequiredTrustLevel,
			DefaultPermission:           md.DefaultConsumerPermission,
			PossiblePermissions:         md.PossibleConsumerPermissions,
			PossibleRequiredTrustLevels: md.PossibleRequiredTrustLevels,
		}
	}

	o, err := c.store.GetOwnerACE(uid, domain, iface, operation)
	if err != nil {
		return nil, nil, nil, err
	}
	if o != nil {
		owner = &accessctrl.InnerEntry{
			RequiredTrustLevel: o.RequiredTrustLevel,
			Permission:         o.ConsumerPermission,
		}
	}

	return master, mediator, owner, nil
}

// normalizeAsk maps ASK to NO uniformly, per the specification's mandate
// that the decision path never treats ASK as a grant.
func normalizeAsk(p messaging.Permission) messaging.Permission {
	if p == messaging.PermissionAsk {
		return messaging.PermissionNo
	}
	return p
}
