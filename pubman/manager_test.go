package pubman

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/joynr-go/clustercontroller/messaging"
)

type fakeCaller struct {
	iface   string
	version int

	mu            sync.Mutex
	attrListeners map[string]SubscriptionAttributeListener
	bcastListeners map[string]UnicastBroadcastListener
}

func newFakeCaller(iface string, version int) *fakeCaller {
	return &fakeCaller{
		iface:          iface,
		version:        version,
		attrListeners:  make(map[string]SubscriptionAttributeListener),
		bcastListeners: make(map[string]UnicastBroadcastListener),
	}
}

func (c *fakeCaller) InterfaceName() string { return c.iface }
func (c *fakeCaller) MajorVersion() int     { return c.version }

func (c *fakeCaller) RegisterAttributeListener(name string, listener SubscriptionAttributeListener) func() {
	c.mu.Lock()
	c.attrListeners[name] = listener
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.attrListeners, name)
		c.mu.Unlock()
	}
}

func (c *fakeCaller) RegisterBroadcastListener(name string, listener UnicastBroadcastListener) func() {
	c.mu.Lock()
	c.bcastListeners[name] = listener
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.bcastListeners, name)
		c.mu.Unlock()
	}
}

func (c *fakeCaller) fireAttribute(name string, value interface{}) {
	c.mu.Lock()
	l := c.attrListeners[name]
	c.mu.Unlock()
	if l != nil {
		l(value)
	}
}

var _ RequestCaller = (*fakeCaller)(nil)

// fakeSender records every reply and publication sent through it.
type fakeSender struct {
	mu     sync.Mutex
	replies      []messaging.SubscriptionReply
	publications []messaging.SubscriptionPublication
}

func (s *fakeSender) SendSubscriptionReply(reply messaging.SubscriptionReply) error {
	s.mu.Lock()
	s.replies = append(s.replies, reply)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) SendPublication(subscriptionID string, pub messaging.SubscriptionPublication, ttlMs int64) error {
	s.mu.Lock()
	s.publications = append(s.publications, pub)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) replyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

func (s *fakeSender) lastReply() messaging.SubscriptionReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replies[len(s.replies)-1]
}

func (s *fakeSender) publicationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.publications)
}

var _ PublicationSender = (*fakeSender)(nil)

// fakeInterpreter answers InvokeGetter with whatever value is currently set.
type fakeInterpreter struct {
	mu    sync.Mutex
	value interface{}
	err   error
	calls int
}

func (f *fakeInterpreter) InvokeGetter(ctx context.Context, caller RequestCaller, attributeName string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.value, f.err
}

func (f *fakeInterpreter) set(v interface{}) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *fakeInterpreter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInterpreterRegistry struct {
	interp *fakeInterpreter
}

func (r *fakeInterpreterRegistry) Lookup(interfaceName string, majorVersion int) (RequestInterpreter, bool) {
	if r.interp == nil {
		return nil, false
	}
	return r.interp, true
}

var _ RequestInterpreterRegistry = (*fakeInterpreterRegistry)(nil)

var _ = Describe("Manager", func() {
	var (
		interp   *fakeInterpreter
		registry *fakeInterpreterRegistry
		mgr      *Manager
	)

	BeforeEach(func() {
		interp = &fakeInterpreter{value: 42}
		registry = &fakeInterpreterRegistry{interp: interp}
		mgr = New(registry, 2, 100*time.Millisecond)
	})

	AfterEach(func() {
		mgr.Shutdown()
	})

	It("admits an attribute subscription, replies, and polls at least once", func() {
		caller := newFakeCaller("ifc", 1)
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-1",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				Periodic: &messaging.PeriodicQos{
					ExpiryDateMs: messaging.NowMs() + int64(time.Hour/time.Millisecond),
					PeriodMs:     20,
				},
			},
		}

		mgr.AddAttributeSubscription("provider-1", caller, req, sender)

		Eventually(sender.replyCount, time.Second).Should(Equal(1))
		Expect(sender.lastReply().Error).To(BeNil())

		Eventually(sender.publicationCount, time.Second).Should(BeNumerically(">=", 1))
		Expect(interp.callCount()).To(BeNumerically(">=", 1))
	})

	It("rejects a subscription request whose expiry already lies in the past", func() {
		caller := newFakeCaller("ifc", 1)
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-expired",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				OnChange: &messaging.OnChangeQos{
					ExpiryDateMs: messaging.NowMs() - 1000,
				},
			},
		}

		mgr.AddAttributeSubscription("provider-1", caller, req, sender)

		Eventually(sender.replyCount, time.Second).Should(Equal(1))
		reply := sender.lastReply()
		Expect(reply.Error).NotTo(BeNil())
		Expect(reply.SubscriptionID).To(Equal("sub-expired"))
	})

	It("sends the current value once on admission, then again when the listener fires", func() {
		caller := newFakeCaller("ifc", 1)
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-onchange",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				OnChange: &messaging.OnChangeQos{
					ExpiryDateMs: messaging.NowMs() + int64(time.Hour/time.Millisecond),
				},
			},
		}

		mgr.AddAttributeSubscription("provider-1", caller, req, sender)
		Eventually(sender.replyCount, time.Second).Should(Equal(1))

		// admit() schedules an immediate poll for every attribute
		// subscription, on-change included, so the subscriber sees the
		// current value without waiting for a change event.
		Eventually(sender.publicationCount, time.Second).Should(Equal(1))
		Expect(sender.publications[0].Response).To(Equal(42))

		caller.fireAttribute("value", 7)

		Eventually(sender.publicationCount, time.Second).Should(Equal(2))
		Expect(sender.publications[1].Response).To(Equal(7))
	})

	It("throttles back-to-back on-change deliveries within the minimum interval and coalesces them", func() {
		caller := newFakeCaller("ifc", 1)
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-throttle",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				OnChange: &messaging.OnChangeQos{
					ExpiryDateMs:  messaging.NowMs() + int64(time.Hour/time.Millisecond),
					MinIntervalMs: 200,
				},
			},
		}

		mgr.AddAttributeSubscription("provider-1", caller, req, sender)
		Eventually(sender.replyCount, time.Second).Should(Equal(1))

		// Wait out the initial poll's publication and let the min
		// interval fully elapse so the next change event publishes
		// immediately rather than itself being throttled.
		Eventually(sender.publicationCount, time.Second).Should(Equal(1))
		time.Sleep(250 * time.Millisecond)

		caller.fireAttribute("value", 1)
		Eventually(sender.publicationCount, time.Second).Should(Equal(2))

		caller.fireAttribute("value", 2)
		caller.fireAttribute("value", 3)

		Consistently(sender.publicationCount, 100*time.Millisecond).Should(Equal(2))
		Eventually(sender.publicationCount, time.Second).Should(Equal(3))
		Expect(sender.publications[len(sender.publications)-1].Response).To(Equal(3))
	})

	It("queues a subscription for a provider with no registered caller and drains it on Restore", func() {
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-queued",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				OnChange: &messaging.OnChangeQos{ExpiryDateMs: messaging.NoExpiry},
			},
		}

		mgr.AddQueuedAttributeSubscription("provider-2", req, sender)
		Expect(sender.replyCount()).To(Equal(0))

		caller := newFakeCaller("ifc", 1)
		admitted := mgr.Restore("provider-2", caller, nil)

		Expect(admitted).To(Equal(1))
		Eventually(sender.replyCount, time.Second).Should(Equal(1))
	})

	It("removes every subscription belonging to a provider", func() {
		caller := newFakeCaller("ifc", 1)
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID:  "sub-remove",
			SubscribeToName: "value",
			Qos: messaging.SubscriptionQos{
				OnChange: &messaging.OnChangeQos{ExpiryDateMs: messaging.NoExpiry},
			},
		}
		mgr.AddAttributeSubscription("provider-3", caller, req, sender)
		Eventually(sender.replyCount, time.Second).Should(Equal(1))
		Eventually(sender.publicationCount, time.Second).Should(Equal(1)) // initial poll

		mgr.RemoveAllSubscriptions("provider-3")

		caller.fireAttribute("value", 99)
		Consistently(sender.publicationCount, 100*time.Millisecond).Should(Equal(1))
	})

	It("replies immediately for a multicast subscription without retaining state", func() {
		sender := &fakeSender{}
		req := messaging.SubscriptionRequest{
			SubscriptionID: "sub-multi",
			Qos:            messaging.SubscriptionQos{Multicast: &messaging.MulticastQos{ExpiryDateMs: messaging.NoExpiry}},
		}

		mgr.AddMulticastSubscription("provider-4", req, sender)

		Eventually(sender.replyCount, time.Second).Should(Equal(1))
		Expect(sender.lastReply().Error).To(BeNil())
	})
})
