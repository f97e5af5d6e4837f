// Package pubman implements the publication-subscription engine: it
// admits attribute, broadcast, and multicast subscription requests,
// schedules periodic and on-change publications, and tears every listener
// down again on expiry or explicit removal.
package pubman

import (
	"context"

	"github.com/joynr-go/clustercontroller/messaging"
)

// SubscriptionAttributeListener is invoked externally by a RequestCaller
// whenever the value of one of its attributes changes.
type SubscriptionAttributeListener func(value interface{})

// UnicastBroadcastListener is invoked externally by a RequestCaller
// whenever one of its broadcasts fires.
type UnicastBroadcastListener func(values []interface{})

// RequestCaller is the provider-side object the publication manager reads
// attributes from and registers change listeners with. One implementation
// exists per registered provider.
type RequestCaller interface {
	InterfaceName() string
	MajorVersion() int

	// RegisterAttributeListener installs listener for attributeName and
	// returns a function that removes it.
	RegisterAttributeListener(attributeName string, listener SubscriptionAttributeListener) (unregister func())

	// RegisterBroadcastListener installs listener for broadcastName and
	// returns a function that removes it.
	RegisterBroadcastListener(broadcastName string, listener UnicastBroadcastListener) (unregister func())
}

// RequestInterpreter invokes the getter for one named attribute on caller,
// using the get<AttributeName> naming convention.
type RequestInterpreter interface {
	InvokeGetter(ctx context.Context, caller RequestCaller, attributeName string) (interface{}, error)
}

// RequestInterpreterRegistry resolves the RequestInterpreter for an
// interface name and major version.
type RequestInterpreterRegistry interface {
	Lookup(interfaceName string, majorVersion int) (RequestInterpreter, bool)
}

// PublicationSender delivers subscription replies and publications to the
// transport layer. Wire serialization and routing are out of scope here.
type PublicationSender interface {
	SendSubscriptionReply(reply messaging.SubscriptionReply) error
	SendPublication(subscriptionID string, pub messaging.SubscriptionPublication, ttlMs int64) error
}

// kind distinguishes the three subscription admission paths.
type kind int

const (
	kindAttribute kind = iota
	kindBroadcast
	kindMulticast
)

// record is the manager's unified bookkeeping entry for one live
// subscription, regardless of kind. Fields not relevant to a kind stay
// zero.
type record struct {
	kind           kind
	subscriptionID string
	providerID     string
	request        messaging.SubscriptionRequest

	caller RequestCaller
	sender PublicationSender

	unregisterListener func()

	lastPublicationTime int64
}

// queuedRequest captures one subscription admitted before its provider
// registered a RequestCaller; it is replayed by Restore.
type queuedRequest struct {
	kind    kind
	request messaging.SubscriptionRequest
	sender  PublicationSender
}
