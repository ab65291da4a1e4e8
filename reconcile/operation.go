package reconcile

import (
	"sync"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of one mutating operation.
type Phase int32

const (
	// PhasePending means the optimistic change is applied and the remote
	// call has not settled yet.
	PhasePending Phase = iota
	// PhaseCommitted means the remote accepted the change.
	PhaseCommitted
	// PhaseRolledBack means the remote rejected the change and the
	// optimistic state was discarded.
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending-optimistic"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Operation tracks a single mutation through its lifecycle.
type Operation struct {
	ID    string
	Scope string
	Kind  string

	mu    sync.Mutex
	phase Phase
	err   error
	done  chan struct{}
}

func newOperation(scope, kind string) *Operation {
	return &Operation{
		ID:    uuid.NewString(),
		Scope: scope,
		Kind:  kind,
		done:  make(chan struct{}),
	}
}

// Phase returns the current phase.
func (o *Operation) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Err returns the remote error of a rolled back operation.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed once the operation is committed or rolled back.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation settles and returns its error.
func (o *Operation) Wait() error {
	<-o.done
	return o.Err()
}

func (o *Operation) finish(phase Phase, err error) {
	o.mu.Lock()
	o.phase = phase
	o.err = err
	o.mu.Unlock()
	close(o.done)
}
