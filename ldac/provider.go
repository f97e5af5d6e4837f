package ldac

import (
	"context"

	"github.com/golang/glog"

	"github.com/joynr-go/clustercontroller/accessctrl"
	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/cmn/metrics"
	"github.com/joynr-go/clustercontroller/messaging"
)

// GetProviderPermissionSync is the synchronous provider-side fast path,
// symmetric to GetConsumerPermissionSync over registration control
// entries.
func (c *Controller) GetProviderPermissionSync(uid, domain, iface string, trustLevel messaging.TrustLevel) (messaging.Permission, error) {
	master, mediator, owner, err := c.loadProviderChain(uid, domain, iface)
	if err != nil {
		return messaging.PermissionNo, err
	}
	return normalizeAsk(accessctrl.GetProviderPermission(master, mediator, owner, trustLevel)), nil
}

// GetProviderPermission is the async provider-side entry point, keyed and
// queued exactly like GetConsumerPermission.
func (c *Controller) GetProviderPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb ProviderCallback) {
	key := cacheKey(domain, iface)

	c.mu.Lock()
	_, cached := c.rceSubscriptions[key]
	if cached {
		c.mu.Unlock()
		metrics.LDACCacheHits.WithLabelValues("provider").Inc()
		p, err := c.GetProviderPermissionSync(uid, domain, iface, trustLevel)
		if err != nil {
			glog.Errorf("ldac: evaluate cached provider permission(%s,%s,%s): %v", uid, domain, iface, err)
			p = messaging.PermissionNo
		}
		cb(ProviderResult{Permission: p})
		return
	}
	c.rcePending[key] = append(c.rcePending[key], pendingProviderRequest{uid, domain, iface, trustLevel, cb})
	first := len(c.rcePending[key]) == 1
	c.mu.Unlock()

	if first {
		metrics.LDACCacheMisses.WithLabelValues("provider").Inc()
		go c.initializeRCE(ctx, domain, iface, key)
	}
}

func (c *Controller) initializeRCE(ctx context.Context, domain, iface, key string) {
	if c.localOnly {
		c.finishRCEInit(key, domain, iface, true)
		return
	}

	init := newInitializer(3, func() { c.finishRCEInit(key, domain, iface, true) }, func() { c.finishRCEInit(key, domain, iface, false) })

	fetch := func(name string, fn func() error) {
		_, err, _ := c.sf.Do(key+"|"+name, func() (interface{}, error) {
			return nil, fn()
		})
		if err != nil {
			glog.Errorf("ldac: fetch %s for (%s,%s): %v", name, domain, iface, err)
		}
		init.complete(err == nil)
	}

	go fetch("master-rce", func() error {
		entries, err := c.backend.FetchMasterRCEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateMasterRCE(e); err != nil {
				return err
			}
		}
		return nil
	})
	go fetch("mediator-rce", func() error {
		entries, err := c.backend.FetchMediatorRCEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateMediatorRCE(e); err != nil {
				return err
			}
		}
		return nil
	})
	go fetch("owner-rce", func() error {
		entries, err := c.backend.FetchOwnerRCEs(ctx, domain, iface)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.store.UpdateOwnerRCE(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Controller) finishRCEInit(key, domain, iface string, ok bool) {
	c.mu.Lock()
	queued := c.rcePending[key]
	delete(c.rcePending, key)
	if ok {
		c.rceSubscriptions[key] = struct{}{}
	}
	c.mu.Unlock()

	if ok && !c.localOnly {
		c.subscribeRCEChanges(key, domain, iface)
	}

	for _, req := range queued {
		if !ok {
			req.cb(ProviderResult{Permission: messaging.PermissionNo})
			continue
		}
		p, err := c.GetProviderPermissionSync(req.uid, req.domain, req.iface, req.trustLevel)
		if err != nil {
			glog.Errorf("ldac: evaluate replayed provider permission(%s,%s,%s): %v", req.uid, req.domain, req.iface, err)
			p = messaging.PermissionNo
		}
		req.cb(ProviderResult{Permission: p})
	}
}

func (c *Controller) subscribeRCEChanges(key, domain, iface string) {
	partition := "+"
	pDomain, pIface := sanitizePartition(domain), sanitizePartition(iface)
	var unsubs []func() error

	if u, err := c.backend.SubscribeMasterRCEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.MasterRCE) {
		c.applyMasterRCEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe master RCE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}
	if u, err := c.backend.SubscribeMediatorRCEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.MediatorRCE) {
		c.applyMediatorRCEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe mediator RCE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}
	if u, err := c.backend.SubscribeOwnerRCEChanged(partition, pDomain, pIface, func(ct messaging.ChangeType, e accessstore.OwnerRCE) {
		c.applyOwnerRCEChange(ct, e)
	}); err != nil {
		glog.Errorf("ldac: subscribe owner RCE changed (%s,%s): %v", domain, iface, err)
	} else {
		unsubs = append(unsubs, u)
	}

	c.mu.Lock()
	c.rceUnsubs[key] = unsubs
	c.mu.Unlock()
}

func (c *Controller) applyMasterRCEChange(ct messaging.ChangeType, e accessstore.MasterRCE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveMasterRCE(e.UID, e.Domain, e.InterfaceName)
	default:
		err = c.store.UpdateMasterRCE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply master RCE change: %v", err)
	}
}

func (c *Controller) applyMediatorRCEChange(ct messaging.ChangeType, e accessstore.MediatorRCE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveMediatorRCE(e.UID, e.Domain, e.InterfaceName)
	default:
		err = c.store.UpdateMediatorRCE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply mediator RCE change: %v", err)
	}
}

func (c *Controller) applyOwnerRCEChange(ct messaging.ChangeType, e accessstore.OwnerRCE) {
	var err error
	switch ct {
	case messaging.ChangeRemove:
		err = c.store.RemoveOwnerRCE(e.UID, e.Domain, e.InterfaceName)
	default:
		err = c.store.UpdateOwnerRCE(e)
	}
	if err != nil {
		glog.Errorf("ldac: apply owner RCE change: %v", err)
	}
}

func (c *Controller) loadProviderChain(uid, domain, iface string) (*accessctrl.OuterEntry, *accessctrl.OuterEntry, *accessctrl.InnerEntry, error) {
	var master, mediator *accessctrl.OuterEntry
	var owner *accessctrl.InnerEntry

	m, err := c.store.GetMasterRCE(uid, domain, iface)
	if err != nil {
		return nil, nil, nil, err
	}
	if m != nil {
		master = &accessctrl.OuterEntry{
			DefaultRequiredTrustLevel:   m.DefaultRequiredTrustLevel,
			DefaultPermission:           m.DefaultProviderPermission,
			PossiblePermissions:         m.PossibleProviderPermissions,
			PossibleRequiredTrustLevels: m.PossibleRequiredTrustLevels,
		}
	}

	md, err := c.store.GetMediatorRCE(uid, domain, iface)
	if err != nil {
		return nil, nil, nil, err
	}
	if md != nil {
		mediator = &accessctrl.OuterEntry{
			DefaultRequiredTrustLevel:   md.DefaultRequiredTrustLevel,
			DefaultPermission:           md.DefaultProviderPermission,
			PossiblePermissions:         md.PossibleProviderPermissions,
			PossibleRequiredTrustLevels: md.PossibleRequiredTrustLevels,
		}
	}

	o, err := c.store.GetOwnerRCE(uid, domain, iface)
	if err != nil {
		return nil, nil, nil, err
	}
	if o != nil {
		owner = &accessctrl.InnerEntry{
			RequiredTrustLevel: o.RequiredTrustLevel,
			Permission:         o.ProviderPermission,
		}
	}

	return master, mediator, owner, nil
}
