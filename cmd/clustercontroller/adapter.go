package main

import (
	"context"

	"github.com/joynr-go/clustercontroller/ldac"
	"github.com/joynr-go/clustercontroller/messaging"
)

// consumerQuerier adapts *ldac.Controller's ConsumerCallback-shaped async
// API to the (operationNeeded, permission) two-value callback
// accesscontrol.ConsumerPermissionQuerier expects, so accesscontrol need
// not import ldac's result type directly.
type consumerQuerier struct {
	c *ldac.Controller
}

func (q consumerQuerier) GetConsumerPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb func(bool, messaging.Permission)) {
	q.c.GetConsumerPermission(ctx, uid, domain, iface, trustLevel, func(r ldac.ConsumerResult) {
		cb(r.OperationNeeded, r.Permission)
	})
}
