package sync

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/otel"
)

// State is a step of the per-record dispatch state machine
type State string

// Dispatch states
const (
	StateReceived  State = "RECEIVED"
	StateRouted    State = "ROUTED"
	StateChecked   State = "CHECKED"
	StateCreating  State = "CREATING"
	StateUpdating  State = "UPDATING"
	StateActing    State = "ACTING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateSkipped   State = "SKIPPED"
)

var transitions = map[State][]State{
	StateReceived: {StateRouted, StateSkipped, StateFailed},
	StateRouted:   {StateChecked, StateActing, StateSkipped, StateFailed},
	StateChecked:  {StateCreating, StateUpdating, StateSkipped, StateFailed},
	StateCreating: {StateSucceeded, StateSkipped, StateFailed},
	StateUpdating: {StateSucceeded, StateSkipped, StateFailed},
	StateActing:   {StateSucceeded, StateSkipped, StateFailed},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// machine tracks the state of one record and mirrors transitions onto its span
type machine struct {
	state State
	span  trace.Span
}

func newMachine(span trace.Span) *machine {
	otel.AddTransition(span, string(StateReceived))
	return &machine{state: StateReceived, span: span}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			otel.AddTransition(m.span, string(next))
			return nil
		}
	}
	return fmt.Errorf("illegal dispatch transition %s -> %s", m.state, next)
}
