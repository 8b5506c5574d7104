// Package subscriber consumes the live activity stream, falling back to
// polling after repeated connection failures.
package subscriber

import (
	"encoding/json"

	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/hub"
)

// State is the connection state of a subscriber.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	PollingFallback
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case PollingFallback:
		return "polling"
	}
	return "unknown"
}

// EventKind is something that happened to the connection.
type EventKind int

const (
	EventStart EventKind = iota
	EventOpened
	EventMessage
	EventClosed
	EventConnectTimeout
	EventRetryTimer
)

// Event is an input to the state machine. Data carries the frame of an
// EventMessage.
type Event struct {
	Kind EventKind
	Data []byte
}

// EffectKind is an action the runner must carry out.
type EffectKind int

const (
	EffectDial EffectKind = iota
	EffectStartConnectTimer
	EffectStopConnectTimer
	EffectStartRetryTimer
	EffectStopRetryTimer
	EffectCloseConn
	EffectEnterFallback
	EffectMergeRecord
)

// Effect is an output of the state machine. Record is set for
// EffectMergeRecord.
type Effect struct {
	Kind   EffectKind
	Record *activity.Record
}

// DefaultMaxFailures is the number of consecutive failed connection
// attempts before polling takes over.
const DefaultMaxFailures = 3

// Machine is the subscriber state machine. It performs no I/O.
type Machine struct {
	state       State
	failures    int
	maxFailures int
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(maxFailures int) *Machine {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &Machine{state: Disconnected, maxFailures: maxFailures}
}

func (m *Machine) State() State { return m.state }

// Failures returns the number of consecutive failed attempts.
func (m *Machine) Failures() int { return m.failures }

// Step applies ev and returns the effects to execute in order. Events that
// do not apply to the current state are ignored.
func (m *Machine) Step(ev Event) []Effect {
	switch m.state {
	case Disconnected:
		if ev.Kind == EventStart {
			return m.connect()
		}

	case Connecting:
		switch ev.Kind {
		case EventOpened:
			m.state = Connected
			m.failures = 0
			return effects(EffectStopConnectTimer)
		case EventClosed:
			return append(effects(EffectStopConnectTimer), m.fail()...)
		case EventConnectTimeout:
			return append(effects(EffectCloseConn), m.fail()...)
		}

	case Connected:
		switch ev.Kind {
		case EventMessage:
			if rec := decodeActivity(ev.Data); rec != nil {
				return []Effect{{Kind: EffectMergeRecord, Record: rec}}
			}
		case EventClosed:
			return m.fail()
		}

	case Reconnecting:
		if ev.Kind == EventRetryTimer {
			return append(effects(EffectStopRetryTimer), m.connect()...)
		}

	case PollingFallback:
		// terminal
	}
	return nil
}

func (m *Machine) connect() []Effect {
	m.state = Connecting
	return effects(EffectDial, EffectStartConnectTimer)
}

func (m *Machine) fail() []Effect {
	m.failures++
	if m.failures >= m.maxFailures {
		m.state = PollingFallback
		return effects(EffectEnterFallback)
	}
	m.state = Reconnecting
	return effects(EffectStartRetryTimer)
}

func effects(kinds ...EffectKind) []Effect {
	out := make([]Effect, len(kinds))
	for i, k := range kinds {
		out[i] = Effect{Kind: k}
	}
	return out
}

// decodeActivity returns the record carried by an activity frame, or nil
// for any other frame.
func decodeActivity(data []byte) *activity.Record {
	var msg struct {
		Kind string           `json:"type"`
		Data *activity.Record `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if msg.Kind != hub.KindActivity || msg.Data == nil || msg.Data.ID == "" {
		return nil
	}
	return msg.Data
}
