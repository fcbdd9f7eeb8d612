// Package auth implements the Agent-side pairing and token-authorization flow.
//
// A Hub that connects without a valid token is issued a short numeric code
// out-of-band (displayed by whatever UI the Agent runs under); the Hub
// echoes the code back via pair_confirm and receives an opaque token that
// authorizes future connections without re-pairing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// CodeLength is the number of digits in a pairing code.
	CodeLength = 6
	// CodeExpiry is how long a pairing code remains valid.
	CodeExpiry = 60 * time.Second
	// MaxFailedAttempts is the number of wrong codes tolerated before a
	// pending pairing is locked out for the remainder of its TTL.
	MaxFailedAttempts = 5
)

var (
	// ErrNoPendingPairing means ValidateCode was called with nothing pending.
	ErrNoPendingPairing = errors.New("auth: no pending pairing")
	// ErrCodeExpired means the pending pairing's TTL has elapsed.
	ErrCodeExpired = errors.New("auth: pairing code expired")
	// ErrCodeInvalid means the code (or hub ID) didn't match the pending pairing.
	ErrCodeInvalid = errors.New("auth: invalid pairing code")
	// ErrRateLimited means too many wrong codes were submitted for the
	// current pending pairing.
	ErrRateLimited = errors.New("auth: too many failed attempts")
)

// AuthorizedHub is a Hub that has completed pairing and holds a valid token.
type AuthorizedHub struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Platform string    `json:"platform"`
	Token    string    `json:"token"`
	PairedAt time.Time `json:"pairedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Storage persists authorized Hubs outside the core; format is opaque here.
type Storage interface {
	GetAuthorizedHubs() []AuthorizedHub
	AddAuthorizedHub(hub AuthorizedHub) error
	RemoveAuthorizedHub(hubID string) error
	UpdateHubLastSeen(hubID string, lastSeen time.Time) error
	Save() error
}

// pendingPairing is the singleton in-flight pairing request for this Agent.
type pendingPairing struct {
	HubID         string
	HubName       string
	HubPlatform   string
	Code          string
	ExpiresAt     time.Time
	FailedAttempt int
}

// Manager owns the pairing flow and the authorized-Hub token set.
type Manager struct {
	mu             sync.Mutex
	storage        Storage
	pendingPairing *pendingPairing
	onPairingCode  func(code string, expiresIn time.Duration)
}

// NewManager creates a pairing/auth manager backed by storage.
func NewManager(storage Storage) *Manager {
	return &Manager{storage: storage}
}

// SetPairingCodeCallback registers a callback fired whenever a new pairing
// code is generated, so a UI surface can display it to the user.
func (m *Manager) SetPairingCodeCallback(cb func(code string, expiresIn time.Duration)) {
	m.mu.Lock()
	m.onPairingCode = cb
	m.mu.Unlock()
}

// GenerateCode creates (or overwrites) the pending pairing for hubID and
// returns the freshly generated code. A new request always replaces any
// prior pending pairing, matching the spec's "singleton per Agent" rule.
func (m *Manager) GenerateCode(hubID, hubName, hubPlatform string) (string, error) {
	code, err := randomDigits(CodeLength)
	if err != nil {
		return "", fmt.Errorf("auth: generate code: %w", err)
	}

	m.mu.Lock()
	m.pendingPairing = &pendingPairing{
		HubID:       hubID,
		HubName:     hubName,
		HubPlatform: hubPlatform,
		Code:        code,
		ExpiresAt:   time.Now().Add(CodeExpiry),
	}
	cb := m.onPairingCode
	m.mu.Unlock()

	if cb != nil {
		cb(code, CodeExpiry)
	}

	return code, nil
}

// ValidateCode checks a code submitted via pair_confirm against the pending
// pairing. On success it mints a token, persists the new AuthorizedHub, and
// clears the pending pairing.
func (m *Manager) ValidateCode(hubID, hubName, code string) (string, error) {
	m.mu.Lock()
	p := m.pendingPairing
	if p == nil {
		m.mu.Unlock()
		return "", ErrNoPendingPairing
	}
	if time.Now().After(p.ExpiresAt) {
		m.pendingPairing = nil
		m.mu.Unlock()
		return "", ErrCodeExpired
	}
	if p.FailedAttempt >= MaxFailedAttempts {
		m.mu.Unlock()
		return "", ErrRateLimited
	}
	if p.HubID != hubID || p.Code != code {
		p.FailedAttempt++
		m.mu.Unlock()
		return "", ErrCodeInvalid
	}
	m.pendingPairing = nil
	m.mu.Unlock()

	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}

	hub := AuthorizedHub{
		ID:       hubID,
		Name:     hubName,
		Platform: p.HubPlatform,
		Token:    token,
		PairedAt: time.Now(),
		LastSeen: time.Now(),
	}
	if err := m.storage.AddAuthorizedHub(hub); err != nil {
		return "", fmt.Errorf("auth: persist authorized hub: %w", err)
	}

	return token, nil
}

// ValidateToken reports whether token is the current valid token for hubID.
func (m *Manager) ValidateToken(hubID, token string) bool {
	if token == "" {
		return false
	}
	for _, h := range m.storage.GetAuthorizedHubs() {
		if h.ID == hubID {
			if h.Token == token {
				_ = m.storage.UpdateHubLastSeen(hubID, time.Now())
				return true
			}
			return false
		}
	}
	return false
}

// IsHubAuthorized reports whether hubID currently holds a valid token.
func (m *Manager) IsHubAuthorized(hubID string) bool {
	for _, h := range m.storage.GetAuthorizedHubs() {
		if h.ID == hubID {
			return true
		}
	}
	return false
}

// RevokeHub removes a previously authorized Hub's token.
func (m *Manager) RevokeHub(hubID string) error {
	return m.storage.RemoveAuthorizedHub(hubID)
}

// GetAuthorizedHubs returns a snapshot of all authorized Hubs.
func (m *Manager) GetAuthorizedHubs() []AuthorizedHub {
	return m.storage.GetAuthorizedHubs()
}

// GetPendingPairing returns the current pending pairing, or nil if there is
// none or it has expired.
func (m *Manager) GetPendingPairing() *pendingPairing {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pendingPairing
	if p == nil {
		return nil
	}
	if time.Now().After(p.ExpiresAt) {
		return nil
	}

	cp := *p
	return &cp
}

// CancelPendingPairing discards any in-flight pairing request.
func (m *Manager) CancelPendingPairing() {
	m.mu.Lock()
	m.pendingPairing = nil
	m.mu.Unlock()
}

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	digits := make([]byte, n)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
