package ingestion

import (
	"sync"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/indexing"
)

type docKey struct {
	owner    string
	filename string
}

// tracker holds one state machine per (owner, filename).
type tracker struct {
	mu       sync.Mutex
	machines map[docKey]*indexing.Machine
	newFn    func() *indexing.Machine
}

func newTracker(newFn func() *indexing.Machine) *tracker {
	return &tracker{machines: make(map[docKey]*indexing.Machine), newFn: newFn}
}

// begin returns the machine for a fresh ingestion, resetting a finished one.
// A document whose ingestion is still running, or has just been claimed by
// another begin, is rejected.
func (t *tracker) begin(owner, filename string) (*indexing.Machine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := docKey{owner, filename}
	m, ok := t.machines[k]
	if !ok {
		m = t.newFn()
		t.machines[k] = m
		return m, nil
	}

	switch s := m.State(); {
	case busy(s):
		return nil, domain.ErrIndexingInProgress
	case s == indexing.Ready || s == indexing.Error:
		if err := m.Reset(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// busy reports whether a tracked machine belongs to a running ingestion.
// Idle counts: begin hands out Idle machines that are about to start.
func busy(s indexing.State) bool {
	return s.Active() || s == indexing.Idle
}

func (t *tracker) get(owner, filename string) (*indexing.Machine, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.machines[docKey{owner, filename}]
	return m, ok
}

func (t *tracker) remove(owner, filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.machines, docKey{owner, filename})
}
