package pipeline

import (
	"sync"
	"time"

	"github.com/kyleking/askdb/internal/errors"
)

// State is a stage of one pipeline invocation
type State string

const (
	StateIdle         State = "idle"
	StateClassifying  State = "classifying"
	StateSynthesizing State = "synthesizing"
	StateExecuting    State = "executing"
	StateChunking     State = "chunking"
	StateEmbedding    State = "embedding"
	StateIndexing     State = "indexing"
	StateRetrieving   State = "retrieving"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Transition records entering a state
type Transition struct {
	State State     `json:"state"`
	Table string    `json:"table,omitempty"`
	At    time.Time `json:"at"`
}

// Run tracks the transitions of one invocation. The terminal state is
// either done or failed; a failed run carries the originating error type.
type Run struct {
	ID string

	mu          sync.Mutex
	transitions []Transition
	failure     errors.ErrorType
	clock       func() time.Time
}

func newRun(id string, clock func() time.Time) *Run {
	r := &Run{ID: id, clock: clock}
	r.enter(StateIdle, "")

	return r
}

func (r *Run) enter(s State, table string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, Transition{State: s, Table: table, At: r.clock()})
}

func (r *Run) fail(err error) error {
	r.mu.Lock()
	r.failure = errors.GetType(err)
	r.mu.Unlock()

	r.enter(StateFailed, "")

	return err
}

func (r *Run) done() { r.enter(StateDone, "") }

// Transitions returns a copy of the recorded transitions
func (r *Run) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Transition(nil), r.transitions...)
}

// States returns the visited states in order
func (r *Run) States() []State {
	transitions := r.Transitions()

	states := make([]State, len(transitions))
	for i, t := range transitions {
		states[i] = t.State
	}

	return states
}

// Current returns the latest state
func (r *Run) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transitions[len(r.transitions)-1].State
}

// Failure returns the error type of a failed run, or "" otherwise
func (r *Run) Failure() errors.ErrorType {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failure
}
