// Package accesscontrol implements the message-level access-control gate:
// it decides which inbound messages need a permission check, resolves the
// recipient's provider metadata through the local capabilities directory,
// and queries the local domain access controller with an operation-level
// fallback when policy is keyed per-operation.
package accesscontrol

import (
	"context"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/joynr-go/clustercontroller/cmn/debug"
	"github.com/joynr-go/clustercontroller/messaging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CapabilitiesDirectory resolves a participant id to its provider's domain
// and interface name. Only LOCAL_THEN_GLOBAL lookups are used here.
type CapabilitiesDirectory interface {
	Lookup(ctx context.Context, participantID string, scope messaging.DiscoveryScope) (*messaging.DiscoveryEntry, error)
}

// ConsumerPermissionQuerier is the subset of the local domain access
// controller's consumer-side API the access controller needs. It is
// satisfied by *ldac.Controller.
type ConsumerPermissionQuerier interface {
	GetConsumerPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb func(operationNeeded bool, permission messaging.Permission))
}

// ProviderPermissionQuerier is the subset of the local domain access
// controller's provider-side API the access controller needs.
type ProviderPermissionQuerier interface {
	GetProviderPermissionSync(uid, domain, iface string, trustLevel messaging.TrustLevel) (messaging.Permission, error)
}

// internalProviderKey is the context.Context key flagging a provider
// registration as originating from the cluster controller's own
// administrative paths, which always succeed. Go goroutines have no
// stable thread-local storage, so this rides the context explicitly
// instead of a thread-local flag.
type internalProviderKey struct{}

// WithInternalProvider marks ctx as an internal provider-registration
// context; HasProviderPermission short-circuits to true for it.
func WithInternalProvider(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalProviderKey{}, true)
}

func isInternalProvider(ctx context.Context) bool {
	v, _ := ctx.Value(internalProviderKey{}).(bool)
	return v
}

// Result is delivered by Controller.HasConsumerPermission: RETRY asks the
// caller to try again once discovery data is available.
type Result int

const (
	ResultNo Result = iota
	ResultYes
	ResultRetry
)

// Controller is the access-control gate (AC). whitelist names recipient
// participant ids exempt from any permission check.
type Controller struct {
	directory CapabilitiesDirectory
	ldac      ConsumerPermissionQuerier
	provider  ProviderPermissionQuerier
	whitelist map[string]struct{}
}

// New builds an access controller bound to directory and consumer, with
// provider permission queries routed through provider (often the same
// concrete *ldac.Controller as consumer).
func New(directory CapabilitiesDirectory, consumer ConsumerPermissionQuerier, provider ProviderPermissionQuerier, whitelist []string) *Controller {
	w := make(map[string]struct{}, len(whitelist))
	for _, id := range whitelist {
		w[id] = struct{}{}
	}
	return &Controller{directory: directory, ldac: consumer, provider: provider, whitelist: w}
}

// NeedsConsumerPermissionCheck reports whether msg must pass an ACL check.
// Messages whose recipient is whitelisted, or whose type is correlated by
// id at a higher layer (REPLY, PUBLICATION, SUBSCRIPTION_REPLY, MULTICAST),
// need none.
func (c *Controller) NeedsConsumerPermissionCheck(msg *messaging.Message) bool {
	if _, ok := c.whitelist[msg.RecipientParticipantID]; ok {
		return false
	}
	switch msg.Type {
	case messaging.MessageReply, messaging.MessagePublication, messaging.MessageSubscriptionReply, messaging.MessageMulticast:
		return false
	default:
		return true
	}
}

// HasConsumerPermission evaluates whether msg's creator may reach its
// recipient, calling cb exactly once. If no check is needed, cb fires
// immediately with ResultYes. Otherwise the recipient is resolved through
// the capabilities directory and the query is delegated to LDAC, with the
// operation-needed fallback resolved by re-querying with a concrete
// operation name extracted from the payload.
func (c *Controller) HasConsumerPermission(ctx context.Context, msg *messaging.Message, cb func(Result)) {
	if !c.NeedsConsumerPermissionCheck(msg) {
		cb(ResultYes)
		return
	}

	entry, err := c.directory.Lookup(ctx, msg.RecipientParticipantID, messaging.DiscoveryLocalThenGlobal)
	if err != nil {
		glog.Errorf("accesscontrol: lookup %s: %v", msg.RecipientParticipantID, err)
		cb(ResultRetry)
		return
	}

	c.ldac.GetConsumerPermission(ctx, msg.CreatorUserID, entry.Domain, entry.InterfaceName, messaging.TrustHigh, func(operationNeeded bool, permission messaging.Permission) {
		if !operationNeeded {
			cb(toResult(permission))
			return
		}
		c.resolveOperation(ctx, msg, entry, cb)
	})
}

// resolveOperation extracts an operation name from msg's payload according
// to its type and re-queries LDAC with it. Encrypted messages must never
// reach here — needsConsumerPermissionCheck never waives an operation-keyed
// check for one, so reaching this path with Encrypted set is a programming
// error in the caller.
func (c *Controller) resolveOperation(ctx context.Context, msg *messaging.Message, entry *messaging.DiscoveryEntry, cb func(Result)) {
	debug.Assert(!msg.Encrypted)

	operation, err := extractOperation(msg)
	if err != nil || operation == "" {
		if err != nil {
			glog.Errorf("accesscontrol: extract operation from %v message: %v", msg.Type, err)
		}
		cb(ResultNo)
		return
	}

	c.ldac.GetConsumerPermission(ctx, msg.CreatorUserID, entry.Domain, entry.InterfaceName, messaging.TrustHigh, func(_ bool, permission messaging.Permission) {
		if permission == messaging.PermissionAsk {
			debug.Assertf(false, "ASK permission reached the operation-fallback decision for %s/%s", entry.Domain, entry.InterfaceName)
		}
		cb(toResult(permission))
	})
}

type methodNamePayload struct {
	MethodName string `json:"methodName"`
}

type subscribeToNamePayload struct {
	SubscribeToName string `json:"subscribeToName"`
}

// extractOperation deserializes msg's payload according to its type to
// recover the operation name the fallback permission query is keyed on.
func extractOperation(msg *messaging.Message) (string, error) {
	switch msg.Type {
	case messaging.MessageOneWay, messaging.MessageRequest:
		var p methodNamePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", errors.Wrap(err, "decode method-name payload")
		}
		return p.MethodName, nil
	case messaging.MessageSubscriptionRequest, messaging.MessageBroadcastSubscriptionRequest, messaging.MessageMulticastSubscriptionRequest:
		var p subscribeToNamePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", errors.Wrap(err, "decode subscribe-to-name payload")
		}
		return p.SubscribeToName, nil
	default:
		return "", errors.Errorf("message type %v has no extractable operation", msg.Type)
	}
}

// toResult converts a resolved permission to a Result, normalizing ASK to
// NO with a debug-build assertion (the decision path should never produce
// ASK this late; normalizeAsk inside ldac already collapses it).
func toResult(p messaging.Permission) Result {
	switch p {
	case messaging.PermissionYes:
		return ResultYes
	case messaging.PermissionAsk:
		debug.Assertf(false, "ASK reached accesscontrol.toResult")
		return ResultNo
	default:
		return ResultNo
	}
}

// HasProviderPermission is the provider-registration gate: a direct
// synchronous LDAC query, bypassed entirely (always true) for
// registrations the cluster controller performs itself.
func (c *Controller) HasProviderPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel) (bool, error) {
	if isInternalProvider(ctx) {
		return true, nil
	}
	p, err := c.provider.GetProviderPermissionSync(uid, domain, iface, trustLevel)
	if err != nil {
		return false, errors.Wrapf(err, "provider permission query(%s,%s,%s)", uid, domain, iface)
	}
	return p == messaging.PermissionYes, nil
}
