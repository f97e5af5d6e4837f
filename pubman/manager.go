package pubman

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/joynr-go/clustercontroller/cmn/metrics"
	"github.com/joynr-go/clustercontroller/messaging"
)

// Manager is the publication manager (C5): it admits subscription
// requests, polls periodic attribute subscriptions, throttles on-change
// delivery, and tears subscriptions down on expiry or explicit removal.
type Manager struct {
	interpreters RequestInterpreterRegistry
	scheduler    *scheduler
	ttlUplift    time.Duration

	mu        sync.Mutex
	records   map[string]*record          // subscriptionID -> record
	queued    map[string][]queuedRequest  // providerID -> queued admissions
	scheduled map[string]func(rec *record) messaging.SubscriptionPublication // subscriptionID -> builder for the pending deferred on-change publication (latest change wins)

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// New builds a publication manager. workers sizes the scheduler's worker
// pool; ttlUplift is added to every expiry-relative deadline to avoid a
// publication in flight being rejected as stale at the receiver.
func New(interpreters RequestInterpreterRegistry, workers int, ttlUplift time.Duration) *Manager {
	return &Manager{
		interpreters: interpreters,
		scheduler:    newScheduler(workers),
		ttlUplift:    ttlUplift,
		records:      make(map[string]*record),
		queued:       make(map[string][]queuedRequest),
		scheduled:    make(map[string]func(rec *record) messaging.SubscriptionPublication),
	}
}

// AddAttributeSubscription admits an attribute subscription whose provider
// is already registered (requestCaller non-nil). Replaces any existing
// record for the same subscription id.
func (m *Manager) AddAttributeSubscription(providerID string, caller RequestCaller, req messaging.SubscriptionRequest, sender PublicationSender) {
	if m.shuttingDown.Load() {
		return
	}
	m.admit(kindAttribute, providerID, caller, req, sender)
}

// AddBroadcastSubscription admits a broadcast subscription whose provider
// is already registered.
func (m *Manager) AddBroadcastSubscription(providerID string, caller RequestCaller, req messaging.SubscriptionRequest, sender PublicationSender) {
	if m.shuttingDown.Load() {
		return
	}
	m.admit(kindBroadcast, providerID, caller, req, sender)
}

// AddMulticastSubscription admits a multicast subscription. The manager
// keeps no further state: it replies immediately and delivery is handled
// entirely by the transport layer.
func (m *Manager) AddMulticastSubscription(providerID string, req messaging.SubscriptionRequest, sender PublicationSender) {
	if m.shuttingDown.Load() {
		return
	}
	_ = sender.SendSubscriptionReply(messaging.SubscriptionReply{SubscriptionID: req.SubscriptionID})
}

// AddQueuedAttributeSubscription enqueues an attribute subscription whose
// provider has not yet registered a RequestCaller. Restore later drains it.
func (m *Manager) AddQueuedAttributeSubscription(providerID string, req messaging.SubscriptionRequest, sender PublicationSender) {
	m.enqueue(kindAttribute, providerID, req, sender)
}

// AddQueuedBroadcastSubscription is the broadcast analogue of
// AddQueuedAttributeSubscription.
func (m *Manager) AddQueuedBroadcastSubscription(providerID string, req messaging.SubscriptionRequest, sender PublicationSender) {
	m.enqueue(kindBroadcast, providerID, req, sender)
}

func (m *Manager) enqueue(k kind, providerID string, req messaging.SubscriptionRequest, sender PublicationSender) {
	m.mu.Lock()
	m.queued[providerID] = append(m.queued[providerID], queuedRequest{kind: k, request: req, sender: sender})
	m.mu.Unlock()
}

// Restore drains providerID's queued subscription requests against a
// newly registered caller, admitting every non-expired entry. It returns
// the count of subscriptions admitted — a feature this package exposes
// beyond the base conceptual description so tests can assert queue-drain
// behavior deterministically.
func (m *Manager) Restore(providerID string, caller RequestCaller, sender PublicationSender) int {
	m.mu.Lock()
	pending := m.queued[providerID]
	delete(m.queued, providerID)
	m.mu.Unlock()

	admitted := 0
	for _, q := range pending {
		s := sender
		if s == nil {
			s = q.sender
		}
		if m.admit(q.kind, providerID, caller, q.request, s) {
			admitted++
		}
	}
	return admitted
}

// admit implements the shared attribute/broadcast admission path: replace
// any prior record, register the appropriate change listener, reject
// expired-on-arrival requests, and otherwise reply, poll (attribute only),
// and schedule a cleanup runnable.
func (m *Manager) admit(k kind, providerID string, caller RequestCaller, req messaging.SubscriptionRequest, sender PublicationSender) bool {
	m.mu.Lock()
	m.stopPublicationLocked(req.SubscriptionID)
	m.mu.Unlock()

	rec := &record{
		kind:           k,
		subscriptionID: req.SubscriptionID,
		providerID:     providerID,
		request:        req,
		caller:         caller,
		sender:         sender,
	}

	if req.Qos.OnChange != nil || req.Qos.OnChangeWithKeepAlive != nil {
		switch k {
		case kindAttribute:
			rec.unregisterListener = caller.RegisterAttributeListener(req.SubscribeToName, func(value interface{}) {
				m.onAttributeChanged(req.SubscriptionID, value)
			})
		case kindBroadcast:
			rec.unregisterListener = caller.RegisterBroadcastListener(req.SubscribeToName, func(values []interface{}) {
				m.onBroadcastFired(req.SubscriptionID, values)
			})
		}
	}

	now := messaging.NowMs()
	expiry := req.Qos.ExpiryDateMs()
	if expiry != messaging.NoExpiry && expiry < now+m.ttlUplift.Milliseconds() {
		if rec.unregisterListener != nil {
			rec.unregisterListener()
		}
		_ = sender.SendSubscriptionReply(messaging.SubscriptionReply{
			SubscriptionID: req.SubscriptionID,
			Error:          &messaging.SubscriptionException{Message: "publication end is in the past", SubscriptionID: req.SubscriptionID},
		})
		return false
	}

	m.mu.Lock()
	m.records[req.SubscriptionID] = rec
	m.mu.Unlock()

	_ = sender.SendSubscriptionReply(messaging.SubscriptionReply{SubscriptionID: req.SubscriptionID})

	if k == kindAttribute {
		m.scheduler.schedule(pollRunnableID(req.SubscriptionID), 0, func() { m.poll(req.SubscriptionID) })
	}

	if req.Qos.Periodic != nil && expiry != messaging.NoExpiry {
		m.scheduleCleanup(req.SubscriptionID, expiry)
	}

	return true
}

func pollRunnableID(subscriptionID string) string   { return subscriptionID + "|poll" }
func cleanupRunnableID(subscriptionID string) string { return subscriptionID + "|cleanup" }

// scheduleCleanup arms a one-shot runnable at expiryMs+ttlUplift (clamped
// to avoid overflowing an int64 millisecond deadline) that removes the
// subscription's record.
func (m *Manager) scheduleCleanup(subscriptionID string, expiryMs int64) {
	maxCleanup := messaging.MaxTTLMillis - time.Hour.Milliseconds()
	cleanupAt := expiryMs + m.ttlUplift.Milliseconds()
	if cleanupAt < expiryMs || cleanupAt > maxCleanup {
		cleanupAt = maxCleanup
	}
	delay := time.Duration(cleanupAt-messaging.NowMs()) * time.Millisecond
	m.scheduler.schedule(cleanupRunnableID(subscriptionID), delay, func() {
		m.expire(subscriptionID)
	})
}

func (m *Manager) expire(subscriptionID string) {
	m.mu.Lock()
	_, ok := m.records[subscriptionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.StopPublication(subscriptionID)
}

// poll runs one attribute polling cycle. Every attribute subscription gets
// exactly one immediate poll from admit() regardless of qos variant, so the
// subscriber sees the current value at least once without waiting for a
// change event; only a periodic qos reschedules the poll thereafter.
func (m *Manager) poll(subscriptionID string) {
	m.mu.Lock()
	rec, ok := m.records[subscriptionID]
	m.mu.Unlock()
	if !ok || rec.kind != kindAttribute {
		return
	}

	if rec.request.Qos.Periodic == nil {
		m.pollOnce(rec, subscriptionID)
		return
	}

	period := time.Duration(rec.request.Qos.Periodic.PeriodMs) * time.Millisecond
	now := messaging.NowMs()

	m.mu.Lock()
	last := rec.lastPublicationTime
	m.mu.Unlock()

	if last != 0 {
		timeSinceLast := now - last
		if time.Duration(timeSinceLast)*time.Millisecond < period {
			delta := time.Duration(timeSinceLast) * time.Millisecond
			m.scheduler.schedule(pollRunnableID(subscriptionID), period-delta, func() { m.poll(subscriptionID) })
			return
		}
	}

	m.pollOnce(rec, subscriptionID)

	if m.stillValid(rec) {
		m.scheduler.schedule(pollRunnableID(subscriptionID), period, func() { m.poll(subscriptionID) })
	}
}

// pollOnce invokes the attribute getter through the request-interpreter
// registry and sends either a publication or a publication error, updating
// lastPublicationTime on success.
func (m *Manager) pollOnce(rec *record, subscriptionID string) {
	interp, found := m.interpreters.Lookup(rec.caller.InterfaceName(), rec.caller.MajorVersion())
	if !found {
		glog.Errorf("pubman: no request interpreter for %s v%d, subscription %s", rec.caller.InterfaceName(), rec.caller.MajorVersion(), subscriptionID)
		return
	}
	value, err := interp.InvokeGetter(context.Background(), rec.caller, rec.request.SubscribeToName)
	ttl := rec.request.Qos.PublicationTTLMs()
	if err != nil {
		_ = rec.sender.SendPublication(subscriptionID, messaging.SubscriptionPublication{SubscriptionID: subscriptionID, Error: err}, ttl)
	} else {
		_ = rec.sender.SendPublication(subscriptionID, messaging.SubscriptionPublication{SubscriptionID: subscriptionID, Response: value}, ttl)
	}
	m.mu.Lock()
	rec.lastPublicationTime = messaging.NowMs()
	m.mu.Unlock()
}

func (m *Manager) stillValid(rec *record) bool {
	expiry := rec.request.Qos.ExpiryDateMs()
	if expiry == messaging.NoExpiry {
		return true
	}
	return messaging.NowMs() < expiry+m.ttlUplift.Milliseconds()
}

// onAttributeChanged and onBroadcastFired both implement the min-interval
// throttle: send immediately unless a publication already went out (or is
// already scheduled) within minIntervalMs.
func (m *Manager) onAttributeChanged(subscriptionID string, value interface{}) {
	m.deliverOnChange(subscriptionID, func(rec *record) messaging.SubscriptionPublication {
		return messaging.SubscriptionPublication{SubscriptionID: subscriptionID, Response: value}
	})
}

func (m *Manager) onBroadcastFired(subscriptionID string, values []interface{}) {
	m.deliverOnChange(subscriptionID, func(rec *record) messaging.SubscriptionPublication {
		return messaging.SubscriptionPublication{SubscriptionID: subscriptionID, Response: values}
	})
}

func (m *Manager) deliverOnChange(subscriptionID string, build func(rec *record) messaging.SubscriptionPublication) {
	m.mu.Lock()
	rec, ok := m.records[subscriptionID]
	if !ok {
		m.mu.Unlock()
		return
	}

	minInterval := minIntervalMs(rec.request.Qos)
	now := messaging.NowMs()
	timeSinceLast := now - rec.lastPublicationTime
	if rec.lastPublicationTime != 0 && minInterval > 0 && timeSinceLast < minInterval {
		if _, pending := m.scheduled[subscriptionID]; pending {
			m.scheduled[subscriptionID] = build
			m.mu.Unlock()
			metrics.PublicationThrottleCoalesced.Inc()
			return
		}
		m.scheduled[subscriptionID] = build
		m.mu.Unlock()

		m.scheduler.schedule(subscriptionID+"|onchange", time.Duration(minInterval-timeSinceLast)*time.Millisecond, func() {
			m.mu.Lock()
			rec, ok := m.records[subscriptionID]
			latest := m.scheduled[subscriptionID]
			delete(m.scheduled, subscriptionID)
			m.mu.Unlock()
			if !ok || latest == nil {
				return
			}
			pub := latest(rec)
			ttl := rec.request.Qos.PublicationTTLMs()
			_ = rec.sender.SendPublication(subscriptionID, pub, ttl)
			m.mu.Lock()
			rec.lastPublicationTime = messaging.NowMs()
			m.mu.Unlock()
		})
		return
	}
	m.mu.Unlock()

	pub := build(rec)
	ttl := rec.request.Qos.PublicationTTLMs()
	_ = rec.sender.SendPublication(subscriptionID, pub, ttl)
	m.mu.Lock()
	rec.lastPublicationTime = messaging.NowMs()
	m.mu.Unlock()
}

func minIntervalMs(qos messaging.SubscriptionQos) int64 {
	switch {
	case qos.OnChange != nil:
		return qos.OnChange.MinIntervalMs
	case qos.OnChangeWithKeepAlive != nil:
		return qos.OnChangeWithKeepAlive.MinIntervalMs
	default:
		return 0
	}
}

// StopPublication removes subscriptionID's record, unregistering its
// change listener and canceling its scheduled runnables.
func (m *Manager) StopPublication(subscriptionID string) {
	m.mu.Lock()
	m.stopPublicationLocked(subscriptionID)
	m.mu.Unlock()
}

func (m *Manager) stopPublicationLocked(subscriptionID string) {
	rec, ok := m.records[subscriptionID]
	if !ok {
		return
	}
	delete(m.records, subscriptionID)
	delete(m.scheduled, subscriptionID)
	if rec.unregisterListener != nil {
		rec.unregisterListener()
	}
	m.scheduler.cancel(pollRunnableID(subscriptionID))
	m.scheduler.cancel(cleanupRunnableID(subscriptionID))
	m.scheduler.cancel(subscriptionID + "|onchange")
}

// RemoveAllSubscriptions tears down every live record and queued request
// belonging to providerID.
func (m *Manager) RemoveAllSubscriptions(providerID string) {
	m.mu.Lock()
	var ids []string
	for id, rec := range m.records {
		if rec.providerID == providerID {
			ids = append(ids, id)
		}
	}
	delete(m.queued, providerID)
	m.mu.Unlock()

	for _, id := range ids {
		m.StopPublication(id)
	}
}

// Shutdown blocks re-entrant admission, stops the scheduler, and tears
// every live record down exactly as an explicit removal would. Safe to
// call more than once; only the first call performs any work.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)

		m.mu.Lock()
		ids := make([]string, 0, len(m.records))
		for id := range m.records {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		for _, id := range ids {
			m.StopPublication(id)
		}

		m.scheduler.stop()
	})
}

var _ fmt.Stringer = kind(0)

func (k kind) String() string {
	switch k {
	case kindAttribute:
		return "attribute"
	case kindBroadcast:
		return "broadcast"
	case kindMulticast:
		return "multicast"
	default:
		return "unknown"
	}
}
