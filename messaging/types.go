// Package messaging holds the wire-level vocabulary shared by the
// access-control and publication-subscription engines: message types,
// discovery entries, and subscription request/reply/publication payloads.
// Actual serialization and transport are out of scope; this package fixes
// only the Go shapes the core components exchange.
package messaging

import "time"

// TrustLevel is a totally ordered classification of a message's sender.
type TrustLevel int

const (
	TrustNone TrustLevel = iota
	TrustLow
	TrustMid
	TrustHigh
)

func (t TrustLevel) String() string {
	switch t {
	case TrustNone:
		return "NONE"
	case TrustLow:
		return "LOW"
	case TrustMid:
		return "MID"
	case TrustHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Permission is the outcome of an access-control decision. ASK is
// recognized on the wire but is never returned as a grant by this
// implementation — it is uniformly treated as NO.
type Permission int

const (
	PermissionNo Permission = iota
	PermissionAsk
	PermissionYes
)

func (p Permission) String() string {
	switch p {
	case PermissionNo:
		return "NO"
	case PermissionAsk:
		return "ASK"
	case PermissionYes:
		return "YES"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes the two kinds of domain-role grant a user may hold.
type Role int

const (
	RoleMaster Role = iota
	RoleOwner
)

func (r Role) String() string {
	if r == RoleOwner {
		return "OWNER"
	}
	return "MASTER"
}

// ChangeType classifies a backend change notification for an ACE/RCE/DRE.
type ChangeType int

const (
	ChangeAdd ChangeType = iota
	ChangeUpdate
	ChangeRemove
)

// Wildcard is the token with distinct "matches anything" semantics on the
// uid and operation fields of an access/registration control entry.
const Wildcard = "*"

// MessageType classifies an inbound message for the access controller's
// type filter and the operation-needed payload fallback.
type MessageType int

const (
	MessageOneWay MessageType = iota
	MessageRequest
	MessageReply
	MessagePublication
	MessageSubscriptionRequest
	MessageSubscriptionReply
	MessageBroadcastSubscriptionRequest
	MessageMulticastSubscriptionRequest
	MessageMulticast
)

// Message is the minimal envelope the access controller inspects: who it
// is from/to, what kind it is, whether it is encrypted, and its raw
// payload (deserialized lazily, only on the operation-needed fallback
// path).
type Message struct {
	Type               MessageType
	CreatorUserID      string
	SenderParticipantID string
	RecipientParticipantID string
	Encrypted          bool
	Payload            []byte
}

// DiscoveryEntry is what the local capabilities directory returns for a
// participant id.
type DiscoveryEntry struct {
	ParticipantID string
	Domain        string
	InterfaceName string
}

// DiscoveryScope mirrors the joynr discovery scope enumeration; only
// LocalThenGlobal is used by the access controller.
type DiscoveryScope int

const (
	DiscoveryLocalOnly DiscoveryScope = iota
	DiscoveryLocalThenGlobal
	DiscoveryGlobalOnly
)

// NoExpiry marks a subscription or reply as never expiring.
const NoExpiry int64 = 0

// MaxTTLMillis is substituted for a subscription's messaging TTL when its
// qos carries NoExpiry.
const MaxTTLMillis = int64(1<<63 - 1)

// PeriodicQos configures a polling attribute subscription.
type PeriodicQos struct {
	ExpiryDateMs     int64 // NoExpiry = never
	PublicationTTLMs int64
	PeriodMs         int64
	AlertIntervalMs  int64
}

// OnChangeQos configures an on-change attribute or broadcast subscription.
type OnChangeQos struct {
	ExpiryDateMs     int64
	PublicationTTLMs int64
	MinIntervalMs    int64
}

// OnChangeWithKeepAliveQos adds a periodic keep-alive on top of on-change.
type OnChangeWithKeepAliveQos struct {
	OnChangeQos
	MaxIntervalMs int64
}

// MulticastQos carries only a validity window; multicast delivery holds
// no server-side publication state.
type MulticastQos struct {
	ExpiryDateMs int64
}

// SubscriptionQos is the sum type over the four qos shapes above. Exactly
// one field is non-nil.
type SubscriptionQos struct {
	Periodic             *PeriodicQos
	OnChange             *OnChangeQos
	OnChangeWithKeepAlive *OnChangeWithKeepAliveQos
	Multicast            *MulticastQos
}

// ExpiryDateMs returns the qos's expiry regardless of which variant is set.
func (q SubscriptionQos) ExpiryDateMs() int64 {
	switch {
	case q.Periodic != nil:
		return q.Periodic.ExpiryDateMs
	case q.OnChangeWithKeepAlive != nil:
		return q.OnChangeWithKeepAlive.ExpiryDateMs
	case q.OnChange != nil:
		return q.OnChange.ExpiryDateMs
	case q.Multicast != nil:
		return q.Multicast.ExpiryDateMs
	default:
		return NoExpiry
	}
}

// PublicationTTLMs returns the unicast messaging TTL for this qos, or
// MaxTTLMillis when the qos never expires.
func (q SubscriptionQos) PublicationTTLMs() int64 {
	var ttl int64
	switch {
	case q.Periodic != nil:
		ttl = q.Periodic.PublicationTTLMs
	case q.OnChangeWithKeepAlive != nil:
		ttl = q.OnChangeWithKeepAlive.PublicationTTLMs
	case q.OnChange != nil:
		ttl = q.OnChange.PublicationTTLMs
	default:
		return MaxTTLMillis
	}
	if q.ExpiryDateMs() == NoExpiry {
		return MaxTTLMillis
	}
	return ttl
}

// SubscriptionRequest is the admission payload for attribute, broadcast,
// and multicast subscriptions alike; SubscribeToName is an attribute name
// or a broadcast name depending on call site.
type SubscriptionRequest struct {
	SubscriptionID  string
	SubscribeToName string
	Qos             SubscriptionQos
}

// SubscriptionException is carried inside a SubscriptionReply when
// admission fails (e.g. expired on arrival).
type SubscriptionException struct {
	Message        string
	SubscriptionID string
}

func (e *SubscriptionException) Error() string { return e.Message }

// SubscriptionReply acknowledges admission of a SubscriptionRequest.
type SubscriptionReply struct {
	SubscriptionID string
	Error          *SubscriptionException
}

// SubscriptionPublication carries one delivered value or error for a live
// subscription. Exactly one of Response/Error is set.
type SubscriptionPublication struct {
	SubscriptionID string
	Response       interface{}
	Error          error
}

// Now is the single seam through which the core reads wall-clock time, so
// tests can substitute a fake clock without touching scheduling logic.
var Now = func() time.Time { return time.Now() }

// NowMs returns the current time in epoch milliseconds via Now().
func NowMs() int64 { return Now().UnixMilli() }
