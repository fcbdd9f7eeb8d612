// Package connection implements the Hub-side connection manager: Agent
// discovery integration, handshake + pairing, the active session, and the
// reconnect loop with exponential backoff.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/capydeploy/capydeploy/apps/hub/wsclient"
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// MaxNoMDNSAttempts bounds how many reconnect attempts are made while the
// Agent has neither a fresh mDNS record nor a remembered address.
const MaxNoMDNSAttempts = 30

// oneShotDiscoveryTimeout is how long the reconnect loop's inline refresh
// waits for a quick Agent restart to reappear on mDNS.
const oneShotDiscoveryTimeout = 1 * time.Second

var (
	// ErrAgentNotFound means Connect was called for an ID not in the
	// discovered map.
	ErrAgentNotFound = errors.New("connection: agent not found")
	// ErrNoPendingPairing means ConfirmPairing was called with no
	// outstanding pairing request for that agent.
	ErrNoPendingPairing = errors.New("connection: no pending pairing for agent")
)

// AgentClient is the subset of *wsclient.Client the Manager depends on. It
// is expressed as an interface so tests can substitute a fake transport
// without a real WebSocket/mDNS round-trip.
type AgentClient interface {
	SetAuth(hubID, agentID string, getToken func(string) string, saveToken func(string, string) error)
	SetPlatform(platform string)
	SetPairingCallback(cb func(agentID string))
	SetCallbacks(onDisconnect func(), onUploadProgress func(protocol.UploadProgressEvent), onOperationEvent func(protocol.OperationEvent))
	SetTelemetryCallback(cb func(protocol.TelemetryData))
	SetConsoleLogCallback(cb func(protocol.ConsoleLogBatch))
	Connect(ctx context.Context) error
	ConfirmPairing(ctx context.Context, code string) error
	Close() error
	IsConnected() bool
	IsAuthRevoked() bool
	GetInfo(ctx context.Context) (*protocol.AgentInfo, error)
	InitUpload(ctx context.Context, config protocol.UploadConfig, totalSize int64, files []protocol.FileEntry) (*protocol.InitUploadResponseFull, error)
	BulkAddr(initResp *protocol.InitUploadResponseFull) string
	UploadChunk(ctx context.Context, uploadID, filePath string, offset int64, data []byte, checksum string) error
	CompleteUpload(ctx context.Context, uploadID string, createShortcut bool, shortcut *protocol.ShortcutConfig) (*protocol.CompleteUploadResponseFull, error)
}

// NewClientFunc builds an AgentClient for one Agent dial target. The
// default wraps wsclient.NewClient; tests inject a fake.
type NewClientFunc func(host string, port int, hubName, hubVersion string) AgentClient

// defaultNewClient adapts wsclient.NewClient to NewClientFunc.
func defaultNewClient(host string, port int, hubName, hubVersion string) AgentClient {
	return wsclient.NewClient(host, port, hubName, hubVersion)
}

// TokenStore is the collaborator persisting per-Agent tokens and this Hub's
// stable identity, outside the core (see spec.md §6).
type TokenStore interface {
	GetHubID() string
	GetToken(agentID string) string
	SaveToken(agentID, token string) error
}

// Identity is this Hub's self-description sent during handshake.
type Identity struct {
	Name     string
	Version  string
	Platform string
}

// Config configures a Manager.
type Config struct {
	Discovery  *discovery.Client
	TokenStore TokenStore
	Identity   Identity
	NewClient  NewClientFunc // optional, defaults to the real WS client
}

// hostPort is a remembered dial target for an Agent, used when mDNS has
// lost the record but the Agent may still be reachable.
type hostPort struct {
	host string
	port int
}

// Manager owns Agent discovery, the single active session per Agent, and
// the reconnect loop that rebuilds a session after unexpected loss.
type Manager struct {
	disco      *discovery.Client
	tokenStore TokenStore
	identity   Identity
	newClient  NewClientFunc

	eventsCh chan Event

	mu             sync.RWMutex
	discovered     map[string]*discovery.DiscoveredAgent
	states         map[string]*connState
	clients        map[string]AgentClient
	lastKnownAddr  map[string]hostPort
	pairingAgentID string

	manualDisconnect atomic.Bool

	reconnectMu     sync.Mutex
	reconnectAgent  string
	reconnectCancel context.CancelFunc

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewManager creates a connection Manager and starts consuming the
// discovery client's event stream.
func NewManager(cfg Config) *Manager {
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = defaultNewClient
	}

	m := &Manager{
		disco:         cfg.Discovery,
		tokenStore:    cfg.TokenStore,
		identity:      cfg.Identity,
		newClient:     newClient,
		eventsCh:      make(chan Event, 64),
		discovered:    make(map[string]*discovery.DiscoveredAgent),
		states:        make(map[string]*connState),
		clients:       make(map[string]AgentClient),
		lastKnownAddr: make(map[string]hostPort),
		closeCh:       make(chan struct{}),
	}

	if cfg.Discovery != nil {
		go m.consumeDiscovery(cfg.Discovery.Events())
	}

	return m
}

// Events returns the unified event stream consumed by the UI.
func (m *Manager) Events() <-chan Event {
	return m.eventsCh
}

// Shutdown cancels any reconnect loop and closes the event channel. It does
// not touch Discovery's lifecycle, which the caller owns.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		m.cancelReconnect("")
		m.mu.Lock()
		clients := make([]AgentClient, 0, len(m.clients))
		for _, c := range m.clients {
			clients = append(clients, c)
		}
		m.mu.Unlock()
		for _, c := range clients {
			c.Close()
		}
	})
}

func (m *Manager) emit(e Event) {
	select {
	case m.eventsCh <- e:
	default:
		log.Printf("connection: event bus full, dropping %s for %s", e.Type, e.AgentID)
	}
}

func (m *Manager) setState(agentID string, s State) {
	m.mu.Lock()
	cs, ok := m.states[agentID]
	if !ok {
		cs = &connState{}
		m.states[agentID] = cs
	}
	cs.state = s
	m.mu.Unlock()
	m.emit(Event{Type: EventStateChanged, AgentID: agentID, State: s})
}

// State returns the current connection state for an Agent.
func (m *Manager) State(agentID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cs, ok := m.states[agentID]; ok {
		return cs.state
	}
	return StateDiscovered
}

// consumeDiscovery translates discovery.Client events into the Manager's
// own discovered-agent bookkeeping and UI-facing event stream.
func (m *Manager) consumeDiscovery(in <-chan discovery.DiscoveryEvent) {
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			if ev.Agent == nil {
				continue
			}
			id := ev.Agent.Info.ID
			switch ev.Type {
			case discovery.EventDiscovered:
				m.mu.Lock()
				m.discovered[id] = ev.Agent
				m.lastKnownAddr[id] = hostPort{host: ev.Agent.Host, port: ev.Agent.Port}
				m.mu.Unlock()
				m.emit(Event{Type: EventAgentFound, AgentID: id, Agent: ev.Agent})
			case discovery.EventUpdated:
				m.mu.Lock()
				m.discovered[id] = ev.Agent
				m.lastKnownAddr[id] = hostPort{host: ev.Agent.Host, port: ev.Agent.Port}
				m.mu.Unlock()
				m.emit(Event{Type: EventAgentUpdated, AgentID: id, Agent: ev.Agent})
			case discovery.EventLost:
				m.mu.Lock()
				delete(m.discovered, id)
				m.mu.Unlock()
				m.emit(Event{Type: EventAgentLost, AgentID: id, Agent: ev.Agent})
			}
		case <-m.closeCh:
			return
		}
	}
}

// Connect dials the given discovered Agent and runs the handshake.
func (m *Manager) Connect(ctx context.Context, agentID string) error {
	m.cancelReconnect(agentID)
	m.manualDisconnect.Store(false)

	m.mu.RLock()
	agent, ok := m.discovered[agentID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	m.disconnectAgentInner(agentID, false)
	m.setState(agentID, StateConnecting)

	client := m.newClient(agent.Host, agent.Port, m.identity.Name, m.identity.Version)
	client.SetPlatform(m.identity.Platform)
	if m.tokenStore != nil {
		client.SetAuth(m.tokenStore.GetHubID(), agentID, m.tokenStore.GetToken, m.tokenStore.SaveToken)
	}

	m.installCallbacks(agentID, client)

	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, wsclient.ErrPairingRequired) {
			m.mu.Lock()
			m.clients[agentID] = client
			m.pairingAgentID = agentID
			m.lastKnownAddr[agentID] = hostPort{host: agent.Host, port: agent.Port}
			m.mu.Unlock()
			m.setState(agentID, StatePairingRequired)
			m.emit(Event{Type: EventPairingNeeded, AgentID: agentID})
			return nil
		}
		m.setState(agentID, StateDisconnected)
		return fmt.Errorf("connection: connect %s: %w", agentID, err)
	}

	m.mu.Lock()
	m.clients[agentID] = client
	m.lastKnownAddr[agentID] = hostPort{host: agent.Host, port: agent.Port}
	m.mu.Unlock()
	m.setState(agentID, StateConnected)

	return nil
}

// installCallbacks wires the push-event and disconnect callbacks for a
// freshly constructed client, shared between Connect and the reconnect
// loop's successful dial.
func (m *Manager) installCallbacks(agentID string, client AgentClient) {
	client.SetPairingCallback(func(id string) {
		m.setState(id, StatePairingRequired)
		m.emit(Event{Type: EventPairingNeeded, AgentID: id})
	})
	client.SetCallbacks(
		func() { m.onClientDisconnected(agentID) },
		func(ev protocol.UploadProgressEvent) {
			m.emit(Event{Type: EventAgentEvent, AgentID: agentID, EventKind: "upload_progress", Message: ev.CurrentFile})
		},
		func(ev protocol.OperationEvent) {
			m.emit(Event{Type: EventAgentEvent, AgentID: agentID, EventKind: ev.Type, Message: ev.Message})
		},
	)
	client.SetTelemetryCallback(func(data protocol.TelemetryData) {
		d := data
		m.emit(Event{Type: EventTelemetry, AgentID: agentID, Telemetry: &d})
	})
	client.SetConsoleLogCallback(func(batch protocol.ConsoleLogBatch) {
		b := batch
		m.emit(Event{Type: EventConsoleLog, AgentID: agentID, ConsoleLog: &b})
	})
}

// onClientDisconnected implements the disconnect callback semantics of
// spec §4.E: suppress reconnect on manual disconnect, else spawn the
// reconnect loop.
func (m *Manager) onClientDisconnected(agentID string) {
	m.mu.Lock()
	client, hadClient := m.clients[agentID]
	delete(m.clients, agentID)
	m.mu.Unlock()

	if m.manualDisconnect.Load() {
		m.setState(agentID, StateDisconnected)
		return
	}

	if hadClient && client.IsAuthRevoked() {
		m.setState(agentID, StateDisconnected)
		m.emit(Event{Type: EventAgentEvent, AgentID: agentID, EventKind: "auth_revoked", Message: "Agent revoked this Hub's authorization"})
		return
	}

	m.setState(agentID, StateDisconnected)

	ctx, cancel := context.WithCancel(context.Background())
	m.reconnectMu.Lock()
	if m.reconnectCancel != nil {
		m.reconnectCancel()
	}
	m.reconnectAgent = agentID
	m.reconnectCancel = cancel
	m.reconnectMu.Unlock()

	go m.reconnectLoop(ctx, agentID)
}

// ConfirmPairing sends the pairing code on the pending client, persists the
// returned token, then reconnects so the session flows through the normal
// Connected path with the new token.
func (m *Manager) ConfirmPairing(ctx context.Context, agentID, code string) error {
	m.mu.RLock()
	client, ok := m.clients[agentID]
	pairing := m.pairingAgentID
	m.mu.RUnlock()

	if !ok || pairing != agentID {
		return fmt.Errorf("%w: %s", ErrNoPendingPairing, agentID)
	}

	if err := client.ConfirmPairing(ctx, code); err != nil {
		return fmt.Errorf("connection: confirm pairing: %w", err)
	}

	client.Close()
	m.mu.Lock()
	delete(m.clients, agentID)
	if m.pairingAgentID == agentID {
		m.pairingAgentID = ""
	}
	m.mu.Unlock()

	return m.Connect(ctx, agentID)
}

// DisconnectAgent tears down the session for agentID and suppresses any
// subsequent reconnect attempt.
func (m *Manager) DisconnectAgent(agentID string) {
	m.manualDisconnect.Store(true)
	m.cancelReconnect(agentID)
	m.disconnectAgentInner(agentID, true)
	m.setState(agentID, StateDisconnected)
}

func (m *Manager) disconnectAgentInner(agentID string, setManual bool) {
	if setManual {
		m.manualDisconnect.Store(true)
	}
	m.mu.Lock()
	client, ok := m.clients[agentID]
	delete(m.clients, agentID)
	if m.pairingAgentID == agentID {
		m.pairingAgentID = ""
	}
	m.mu.Unlock()
	if ok {
		client.Close()
	}
}

func (m *Manager) cancelReconnect(agentID string) {
	m.reconnectMu.Lock()
	defer m.reconnectMu.Unlock()
	if m.reconnectCancel != nil && (agentID == "" || m.reconnectAgent == agentID) {
		m.reconnectCancel()
		m.reconnectCancel = nil
		m.reconnectAgent = ""
	}
}

// reconnectLoop retries Connect with exponential backoff until it succeeds,
// the Agent demands re-pairing, or ctx is cancelled.
func (m *Manager) reconnectLoop(ctx context.Context, agentID string) {
	defer func() {
		m.reconnectMu.Lock()
		if m.reconnectAgent == agentID {
			m.reconnectCancel = nil
			m.reconnectAgent = ""
		}
		m.reconnectMu.Unlock()
	}()

	// Inline one-shot discovery refresh to catch a quick Agent restart.
	if m.disco != nil {
		discoverCtx, cancel := context.WithTimeout(ctx, oneShotDiscoveryTimeout)
		fresh, err := m.disco.Discover(discoverCtx, oneShotDiscoveryTimeout)
		cancel()
		if err == nil {
			if found, ok := lo.Find(fresh, func(a *discovery.DiscoveredAgent) bool {
				return a.Info.ID == agentID
			}); ok {
				m.mu.Lock()
				m.discovered[agentID] = found
				m.lastKnownAddr[agentID] = hostPort{host: found.Host, port: found.Port}
				m.mu.Unlock()
			}
		}
	}

	b := newExponentialBackOff()
	noMDNSAttempts := 0

	for attempt := uint32(1); ; attempt++ {
		delay := b.NextBackOff()
		m.setState(agentID, StateReconnecting)
		m.mu.Lock()
		if cs, ok := m.states[agentID]; ok {
			cs.attempt = attempt
		}
		m.mu.Unlock()
		m.emit(Event{Type: EventReconnecting, AgentID: agentID, Attempt: attempt, NextRetrySecs: delay.Seconds()})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		host, port, ok := m.resolveTarget(agentID)
		if !ok {
			noMDNSAttempts++
			if noMDNSAttempts >= MaxNoMDNSAttempts {
				m.setState(agentID, StateDisconnected)
				return
			}
			continue
		}
		noMDNSAttempts = 0

		client := m.newClient(host, port, m.identity.Name, m.identity.Version)
		client.SetPlatform(m.identity.Platform)
		if m.tokenStore != nil {
			client.SetAuth(m.tokenStore.GetHubID(), agentID, m.tokenStore.GetToken, m.tokenStore.SaveToken)
		}
		m.installCallbacks(agentID, client)

		connectCtx, cancel := context.WithTimeout(ctx, protocol.WSRequestTimeout)
		err := client.Connect(connectCtx)
		cancel()

		if err == nil {
			m.mu.Lock()
			m.clients[agentID] = client
			m.mu.Unlock()
			m.setState(agentID, StateConnected)
			return
		}

		if errors.Is(err, wsclient.ErrPairingRequired) {
			m.mu.Lock()
			m.clients[agentID] = client
			m.pairingAgentID = agentID
			m.mu.Unlock()
			m.setState(agentID, StatePairingRequired)
			m.emit(Event{Type: EventPairingNeeded, AgentID: agentID})
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// resolveTarget prefers a fresh mDNS record, falling back to the last
// known dial address.
func (m *Manager) resolveTarget(agentID string) (host string, port int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if agent, found := m.discovered[agentID]; found {
		return agent.Host, agent.Port, true
	}
	if addr, found := m.lastKnownAddr[agentID]; found {
		return addr.host, addr.port, true
	}
	return "", 0, false
}

// clientFor returns the active client for a connected Agent.
func (m *Manager) clientFor(agentID string) (AgentClient, error) {
	m.mu.RLock()
	client, ok := m.clients[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return client, nil
}

// DiscoveredAgents returns a snapshot of all currently discovered Agents.
func (m *Manager) DiscoveredAgents() []*discovery.DiscoveredAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]*discovery.DiscoveredAgent, 0, len(m.discovered))
	for _, a := range m.discovered {
		agents = append(agents, a)
	}
	return agents
}
