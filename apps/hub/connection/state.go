package connection

import (
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// State is the lifecycle of a Hub's connection to one Agent.
type State int

const (
	// StateDiscovered means the Agent was found via mDNS but no connect
	// attempt has been made.
	StateDiscovered State = iota
	// StateConnecting means a Connect call is in flight.
	StateConnecting
	// StateConnected means the session is live and authorized.
	StateConnected
	// StatePairingRequired means the Agent demanded pairing; the WS client
	// is kept alive awaiting ConfirmPairing.
	StatePairingRequired
	// StateReconnecting means the connection dropped and the reconnect
	// loop is retrying.
	StateReconnecting
	// StateDisconnected means no connection and no retry is in progress.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePairingRequired:
		return "pairing_required"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventType distinguishes the events the Manager publishes on its event bus.
type EventType int

const (
	EventAgentFound EventType = iota
	EventAgentUpdated
	EventAgentLost
	EventStateChanged
	EventPairingNeeded
	EventAgentEvent
	EventReconnecting
	// EventTelemetry carries an unsolicited telemetry_data push from an
	// Agent, sampled at its own configured interval.
	EventTelemetry
	// EventConsoleLog carries an unsolicited console_log_data batch push
	// from an Agent's CEF console collector.
	EventConsoleLog
)

func (t EventType) String() string {
	switch t {
	case EventAgentFound:
		return "agent_found"
	case EventAgentUpdated:
		return "agent_updated"
	case EventAgentLost:
		return "agent_lost"
	case EventStateChanged:
		return "state_changed"
	case EventPairingNeeded:
		return "pairing_needed"
	case EventAgentEvent:
		return "agent_event"
	case EventReconnecting:
		return "reconnecting"
	case EventTelemetry:
		return "telemetry"
	case EventConsoleLog:
		return "console_log"
	default:
		return "unknown"
	}
}

// Event is one item on the Manager's unified UI-facing event stream.
type Event struct {
	Type    EventType
	AgentID string

	// Populated for EventAgentFound/Updated/Lost.
	Agent *discovery.DiscoveredAgent

	// Populated for EventStateChanged.
	State State

	// Declared for EventPairingNeeded, but Manager emits that event with
	// only AgentID set; Code and ExpiresIn are left empty.
	Code      string
	ExpiresIn uint32

	// Populated for EventAgentEvent.
	EventKind string
	Message   string

	// Populated for EventReconnecting.
	Attempt       uint32
	NextRetrySecs float64

	// Populated for EventTelemetry.
	Telemetry *protocol.TelemetryData

	// Populated for EventConsoleLog.
	ConsoleLog *protocol.ConsoleLogBatch
}

// connState tracks the state machine and reconnect attempt counter for one
// Agent ID.
type connState struct {
	state   State
	attempt uint32
}
