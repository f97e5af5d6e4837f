package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/joynr-go/clustercontroller/messaging"
	"github.com/joynr-go/clustercontroller/pubman"
)

// memDirectory is a minimal in-process capabilities directory: it answers
// accesscontrol's recipient-participant-id lookups from a map populated by
// the admin surface. Real discovery (local + global, multi-hop) is out of
// scope; this stands in for it so the access controller has something to
// query against.
type memDirectory struct {
	mu      sync.RWMutex
	entries map[string]messaging.DiscoveryEntry
}

func newMemDirectory() *memDirectory {
	return &memDirectory{entries: make(map[string]messaging.DiscoveryEntry)}
}

func (d *memDirectory) Register(e messaging.DiscoveryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[e.ParticipantID] = e
}

func (d *memDirectory) Unregister(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, participantID)
}

func (d *memDirectory) Lookup(_ context.Context, participantID string, _ messaging.DiscoveryScope) (*messaging.DiscoveryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[participantID]
	if !ok {
		return nil, errors.Errorf("no discovery entry for participant %s", participantID)
	}
	return &e, nil
}

// memInterpreterRegistry is the empty RequestInterpreterRegistry wired
// into the publication manager for this standalone binary: no in-process
// providers are hosted here, so every lookup misses and pubman logs a
// missed poll rather than serving a value. Hosting real providers in this
// process means replacing this registry with one backed by generated
// request interpreters.
type memInterpreterRegistry struct{}

func (memInterpreterRegistry) Lookup(string, int) (pubman.RequestInterpreter, bool) {
	return nil, false
}
