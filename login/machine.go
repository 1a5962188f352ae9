package login

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber observes every state change in order
type Subscriber func(prev, next State)

// Machine owns the login state. Dispatch is serialized: events sent while
// subscribers run are queued and applied after they return.
type Machine struct {
	mu          sync.Mutex
	state       State
	queue       []Event
	dispatching bool
	subs        map[int]Subscriber
	order       []int
	nextID      int
	log         zerolog.Logger
}

// NewMachine creates a machine in StepNone
func NewMachine(log zerolog.Logger) *Machine {
	return &Machine{
		subs: make(map[int]Subscriber),
		log:  log.With().Str("component", "login").Logger(),
	}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn and returns a function removing it
func (m *Machine) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.order = append(m.order, id)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Dispatch applies e. When another dispatch is in progress e is queued.
func (m *Machine) Dispatch(e Event) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.queue) > 0 {
		ev := m.queue[0]
		m.queue = m.queue[1:]

		prev := m.state
		next := Reduce(prev, ev)
		if next == prev {
			m.log.Debug().Str("step", prev.Step.String()).Msgf("ignored %T", ev)
			continue
		}
		m.state = next
		subs := m.subscribers()

		m.mu.Unlock()
		m.log.Debug().Str("from", prev.Step.String()).Str("to", next.Step.String()).Msg("login step")
		for _, fn := range subs {
			fn(prev, next)
		}
		m.mu.Lock()
	}

	m.dispatching = false
	m.mu.Unlock()
}

func (m *Machine) subscribers() []Subscriber {
	out := make([]Subscriber, 0, len(m.subs))
	kept := m.order[:0]
	for _, id := range m.order {
		if fn, ok := m.subs[id]; ok {
			out = append(out, fn)
			kept = append(kept, id)
		}
	}
	m.order = kept
	return out
}
