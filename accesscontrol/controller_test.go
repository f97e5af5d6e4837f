package accesscontrol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/joynr-go/clustercontroller/messaging"
)

type fakeDirectory struct {
	entries map[string]*messaging.DiscoveryEntry
	err     error
}

func (d *fakeDirectory) Lookup(ctx context.Context, participantID string, scope messaging.DiscoveryScope) (*messaging.DiscoveryEntry, error) {
	if d.err != nil {
		return nil, d.err
	}
	e, ok := d.entries[participantID]
	if !ok {
		return nil, errNotFound
	}
	return e, nil
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "not found" }

type consumerCall struct {
	uid, domain, iface string
	trustLevel         messaging.TrustLevel
}

// fakeConsumerQuerier always answers with its fixed (operationNeeded,
// permission) pair and records every call it receives.
type fakeConsumerQuerier struct {
	operationNeeded bool
	permission      messaging.Permission
	calls           []consumerCall
}

func (q *fakeConsumerQuerier) GetConsumerPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb func(bool, messaging.Permission)) {
	q.calls = append(q.calls, consumerCall{uid, domain, iface, trustLevel})
	cb(q.operationNeeded, q.permission)
}

type fakeProviderQuerier struct {
	permission messaging.Permission
	err        error
}

func (q *fakeProviderQuerier) GetProviderPermissionSync(uid, domain, iface string, trustLevel messaging.TrustLevel) (messaging.Permission, error) {
	return q.permission, q.err
}

func TestNeedsConsumerPermissionCheck(t *testing.T) {
	c := New(&fakeDirectory{}, &fakeConsumerQuerier{}, &fakeProviderQuerier{}, []string{"whitelisted"})

	cases := []struct {
		name string
		msg  *messaging.Message
		want bool
	}{
		{"whitelisted recipient skips check", &messaging.Message{RecipientParticipantID: "whitelisted", Type: messaging.MessageRequest}, false},
		{"reply needs no check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageReply}, false},
		{"publication needs no check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessagePublication}, false},
		{"subscription reply needs no check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageSubscriptionReply}, false},
		{"multicast needs no check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageMulticast}, false},
		{"request needs a check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageRequest}, true},
		{"subscription request needs a check", &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageSubscriptionRequest}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.NeedsConsumerPermissionCheck(tc.msg); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasConsumerPermissionWaivedMessage(t *testing.T) {
	c := New(&fakeDirectory{}, &fakeConsumerQuerier{}, &fakeProviderQuerier{}, nil)
	msg := &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageReply}

	var got Result
	c.HasConsumerPermission(context.Background(), msg, func(r Result) { got = r })
	if got != ResultYes {
		t.Fatalf("expected a waived message to resolve ResultYes immediately, got %v", got)
	}
}

func TestHasConsumerPermissionRetriesOnLookupFailure(t *testing.T) {
	c := New(&fakeDirectory{err: errNotFound}, &fakeConsumerQuerier{}, &fakeProviderQuerier{}, nil)
	msg := &messaging.Message{RecipientParticipantID: "p1", Type: messaging.MessageRequest}

	var got Result
	c.HasConsumerPermission(context.Background(), msg, func(r Result) { got = r })
	if got != ResultRetry {
		t.Fatalf("expected a discovery-lookup failure to yield ResultRetry, got %v", got)
	}
}

func TestHasConsumerPermissionDirectGrant(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*messaging.DiscoveryEntry{
		"p1": {ParticipantID: "p1", Domain: "d1", InterfaceName: "i1"},
	}}
	ldac := &fakeConsumerQuerier{operationNeeded: false, permission: messaging.PermissionYes}
	c := New(dir, ldac, &fakeProviderQuerier{}, nil)
	msg := &messaging.Message{RecipientParticipantID: "p1", CreatorUserID: "alice", Type: messaging.MessageRequest}

	var got Result
	c.HasConsumerPermission(context.Background(), msg, func(r Result) { got = r })
	if got != ResultYes {
		t.Fatalf("expected ResultYes, got %v", got)
	}
	if len(ldac.calls) != 1 || ldac.calls[0].uid != "alice" || ldac.calls[0].domain != "d1" || ldac.calls[0].iface != "i1" {
		t.Fatalf("unexpected ldac call recorded: %+v", ldac.calls)
	}
}

func TestHasConsumerPermissionOperationFallbackExtractsMethodName(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*messaging.DiscoveryEntry{
		"p1": {ParticipantID: "p1", Domain: "d1", InterfaceName: "i1"},
	}}
	ldac := &operationFallbackQuerier{}
	c := New(dir, ldac, &fakeProviderQuerier{}, nil)

	payload, _ := json.Marshal(map[string]string{"methodName": "doThing"})
	msg := &messaging.Message{RecipientParticipantID: "p1", CreatorUserID: "alice", Type: messaging.MessageRequest, Payload: payload}

	var got Result
	c.HasConsumerPermission(context.Background(), msg, func(r Result) { got = r })
	if got != ResultYes {
		t.Fatalf("expected the operation-keyed fallback to grant ResultYes, got %v", got)
	}
	if ldac.calls != 2 {
		t.Fatalf("expected exactly one re-query after the operation-needed answer, got %d total calls", ldac.calls)
	}
}

func TestHasConsumerPermissionOperationFallbackUndecodablePayloadDeniesClosed(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*messaging.DiscoveryEntry{
		"p1": {ParticipantID: "p1", Domain: "d1", InterfaceName: "i1"},
	}}
	ldac := &operationFallbackQuerier{}
	c := New(dir, ldac, &fakeProviderQuerier{}, nil)

	msg := &messaging.Message{RecipientParticipantID: "p1", CreatorUserID: "alice", Type: messaging.MessageRequest, Payload: []byte("not json")}

	var got Result
	c.HasConsumerPermission(context.Background(), msg, func(r Result) { got = r })
	if got != ResultNo {
		t.Fatalf("expected an undecodable payload to fail closed to ResultNo, got %v", got)
	}
	if ldac.calls != 1 {
		t.Fatalf("expected no re-query once the operation cannot be extracted, got %d calls", ldac.calls)
	}
}

// operationFallbackQuerier answers operationNeeded on its first call and
// grants on its second, modeling LDAC's per-operation ACE resolving once an
// operation name becomes available.
type operationFallbackQuerier struct {
	calls int
}

func (q *operationFallbackQuerier) GetConsumerPermission(ctx context.Context, uid, domain, iface string, trustLevel messaging.TrustLevel, cb func(bool, messaging.Permission)) {
	q.calls++
	if q.calls == 1 {
		cb(true, messaging.PermissionNo)
		return
	}
	cb(false, messaging.PermissionYes)
}

func TestHasProviderPermissionInternalBypass(t *testing.T) {
	c := New(&fakeDirectory{}, &fakeConsumerQuerier{}, &fakeProviderQuerier{permission: messaging.PermissionNo}, nil)
	ctx := WithInternalProvider(context.Background())

	ok, err := c.HasProviderPermission(ctx, "alice", "d1", "i1", messaging.TrustHigh)
	if err != nil || !ok {
		t.Fatalf("expected an internal-provider context to bypass the query, got ok=%v err=%v", ok, err)
	}
}

func TestHasProviderPermissionDelegates(t *testing.T) {
	c := New(&fakeDirectory{}, &fakeConsumerQuerier{}, &fakeProviderQuerier{permission: messaging.PermissionYes}, nil)

	ok, err := c.HasProviderPermission(context.Background(), "alice", "d1", "i1", messaging.TrustHigh)
	if err != nil || !ok {
		t.Fatalf("expected a PermissionYes provider query to report true, got ok=%v err=%v", ok, err)
	}

	denied := New(&fakeDirectory{}, &fakeConsumerQuerier{}, &fakeProviderQuerier{permission: messaging.PermissionNo}, nil)
	ok, err = denied.HasProviderPermission(context.Background(), "alice", "d1", "i1", messaging.TrustHigh)
	if err != nil || ok {
		t.Fatalf("expected a PermissionNo provider query to report false, got ok=%v err=%v", ok, err)
	}
}
