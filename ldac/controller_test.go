package ldac

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/messaging"
)

// fakeBackend is a Backend whose master-ACE fetch can be gated by a
// channel, so a test can force two consumer-permission queries to queue
// up before the first fetch round completes.
type fakeBackend struct {
	masterACEs []accessstore.MasterACE
	gate       chan struct{} // closed to let FetchMasterACEs return
}

func (b *fakeBackend) FetchMasterACEs(ctx context.Context, domain, iface string) ([]accessstore.MasterACE, error) {
	if b.gate != nil {
		<-b.gate
	}
	return b.masterACEs, nil
}
func (b *fakeBackend) FetchMediatorACEs(context.Context, string, string) ([]accessstore.MediatorACE, error) {
	return nil, nil
}
func (b *fakeBackend) FetchOwnerACEs(context.Context, string, string) ([]accessstore.OwnerACE, error) {
	return nil, nil
}
func (b *fakeBackend) FetchDomainRoles(context.Context, string) ([]accessstore.DomainRoleEntry, error) {
	return nil, nil
}
func (b *fakeBackend) FetchMasterRCEs(context.Context, string, string) ([]accessstore.MasterRCE, error) {
	return nil, nil
}
func (b *fakeBackend) FetchMediatorRCEs(context.Context, string, string) ([]accessstore.MediatorRCE, error) {
	return nil, nil
}
func (b *fakeBackend) FetchOwnerRCEs(context.Context, string, string) ([]accessstore.OwnerRCE, error) {
	return nil, nil
}
func (b *fakeBackend) SubscribeMasterACEChanged(string, string, string, func(messaging.ChangeType, accessstore.MasterACE)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeMediatorACEChanged(string, string, string, func(messaging.ChangeType, accessstore.MediatorACE)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeOwnerACEChanged(string, string, string, func(messaging.ChangeType, accessstore.OwnerACE)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeDomainRoleChanged(string, func(messaging.ChangeType, accessstore.DomainRoleEntry)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeMasterRCEChanged(string, string, string, func(messaging.ChangeType, accessstore.MasterRCE)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeMediatorRCEChanged(string, string, string, func(messaging.ChangeType, accessstore.MediatorRCE)) (func() error, error) {
	return func() error { return nil }, nil
}
func (b *fakeBackend) SubscribeOwnerRCEChanged(string, string, string, func(messaging.ChangeType, accessstore.OwnerRCE)) (func() error, error) {
	return func() error { return nil }, nil
}

var _ Backend = (*fakeBackend)(nil)

var _ = Describe("Controller.GetConsumerPermission", func() {
	var (
		store   *accessstore.Store
		backend *fakeBackend
		ctrl    *Controller
	)

	BeforeEach(func() {
		var err error
		store, err = accessstore.New("")
		Expect(err).NotTo(HaveOccurred())
		backend = &fakeBackend{gate: make(chan struct{})}
		ctrl = NewController(store, backend, false)
	})

	It("queues concurrent requests made before initialization completes and answers both once it does", func() {
		backend.masterACEs = []accessstore.MasterACE{{
			UID:                       messaging.Wildcard,
			Domain:                    "d1",
			InterfaceName:             "i1",
			Operation:                 messaging.Wildcard,
			DefaultRequiredTrustLevel: messaging.TrustLow,
			DefaultConsumerPermission: messaging.PermissionYes,
		}}

		var mu sync.Mutex
		var results []ConsumerResult
		record := func(r ConsumerResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}

		ctrl.GetConsumerPermission(context.Background(), "alice", "d1", "i1", messaging.TrustMid, record)
		ctrl.GetConsumerPermission(context.Background(), "bob", "d1", "i1", messaging.TrustMid, record)

		// Both calls above must have already queued (not yet answered)
		// since the fetch is blocked on backend.gate.
		mu.Lock()
		queuedBeforeFetch := len(results)
		mu.Unlock()
		Expect(queuedBeforeFetch).To(Equal(0))

		close(backend.gate)

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(results)
		}, time.Second).Should(Equal(2))

		for _, r := range results {
			Expect(r.OperationNeeded).To(BeFalse())
			Expect(r.Permission).To(Equal(messaging.PermissionYes))
		}
	})

	It("answers immediately from cache once a key has been initialized", func() {
		backend.masterACEs = []accessstore.MasterACE{{
			UID:                       messaging.Wildcard,
			Domain:                    "d2",
			InterfaceName:             "i2",
			Operation:                 messaging.Wildcard,
			DefaultRequiredTrustLevel: messaging.TrustHigh,
			DefaultConsumerPermission: messaging.PermissionNo,
		}}
		close(backend.gate)

		done := make(chan ConsumerResult, 1)
		ctrl.GetConsumerPermission(context.Background(), "alice", "d2", "i2", messaging.TrustHigh, func(r ConsumerResult) { done <- r })
		Eventually(done, time.Second).Should(Receive())

		var second ConsumerResult
		gotSecond := make(chan struct{})
		ctrl.GetConsumerPermission(context.Background(), "alice", "d2", "i2", messaging.TrustNone, func(r ConsumerResult) {
			second = r
			close(gotSecond)
		})
		Eventually(gotSecond, time.Second).Should(BeClosed())
		Expect(second.Permission).To(Equal(messaging.PermissionNo))
	})

	It("answers NO when the fetched policy for the key is empty", func() {
		emptyBackend := &fakeBackend{gate: nil}
		ctrl := NewController(store, emptyBackend, false)

		// No master ACEs registered anywhere: fetch succeeds (empty
		// result) but the store stays empty, so the innermost decision
		// has no entries and fails closed to NO — exercising the
		// no-policy path rather than a fetch error.
		done := make(chan ConsumerResult, 1)
		ctrl.GetConsumerPermission(context.Background(), "alice", "d3", "i3", messaging.TrustHigh, func(r ConsumerResult) { done <- r })
		var got ConsumerResult
		Eventually(done, time.Second).Should(Receive(&got))
		Expect(got.Permission).To(Equal(messaging.PermissionNo))
	})
})
