package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the device session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateReady         State = "ready"
	StateError         State = "error"
	StateDestroyed     State = "destroyed"
)

// refreshMargin is how long before credential expiry the refresh runs.
const refreshMargin = 60 * time.Second

// defaultSampleRate matches the fixed rate the provider media path expects.
const defaultSampleRate = 16000

// Config configures the device session manager.
type Config struct {
	TokenURL        string        // backend credential endpoint
	ProviderURL     string        // provider websocket URL
	InputDeviceID   string        // preferred input device, "default" by convention
	RefreshInterval time.Duration // fallback refresh cadence when the token has no expiry
}

// Manager owns the realtime voice client: credential acquisition,
// registration, periodic credential refresh, audio input selection, and
// clean shutdown. The microphone handle is owned exclusively here; the call
// engine only requests its use through Invite/Answer/SendDTMF.
type Manager struct {
	cfg        Config
	httpClient *http.Client

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	writeMu       sync.Mutex
	token         string
	tokenExpiry   time.Time
	refreshTimer  *time.Timer
	inputDeviceID string
	bridged       bool

	eventChan chan Event
	errorChan chan error
}

// NewManager creates an uninitialized device session manager.
func NewManager(cfg Config) *Manager {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	return &Manager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		state:      StateUninitialized,
		eventChan:  make(chan Event, 100),
		errorChan:  make(chan error, 10),
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the channel of provider events.
func (m *Manager) Events() <-chan Event {
	return m.eventChan
}

// Errors returns the channel of transport errors.
func (m *Manager) Errors() <-chan error {
	return m.errorChan
}

// Bridged reports whether calls are placed in server-bridged mode because no
// local input device could be selected.
func (m *Manager) Bridged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bridged
}

// EnsureDevice brings the session to ready. Idempotent: returns immediately
// when already ready, and briefly waits out a concurrent initialization
// instead of starting a second one. Failures leave the manager retryable.
func (m *Manager) EnsureDevice(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateDestroyed:
		m.mu.Unlock()
		return fmt.Errorf("device session destroyed")
	case StateConnecting:
		m.mu.Unlock()
		return m.waitReady(ctx)
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.initialize(ctx); err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.state = StateError
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// waitReady polls a concurrent initialization for a short window.
func (m *Manager) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}

		switch m.State() {
		case StateReady:
			return nil
		case StateError, StateDestroyed:
			return fmt.Errorf("concurrent device initialization failed")
		}
	}
	return fmt.Errorf("timed out waiting for device initialization")
}

func (m *Manager) initialize(ctx context.Context) error {
	token, expiry, err := m.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire voice credential: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.ProviderURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to voice provider: %w", err)
	}

	register := Frame{
		Kind:  FrameRegister,
		Token: token,
		Constraints: &AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       defaultSampleRate,
		},
	}
	if m.cfg.InputDeviceID != "" {
		register.InputDevice = m.cfg.InputDeviceID
	}

	if err := conn.WriteJSON(register); err != nil {
		conn.Close()
		return fmt.Errorf("failed to register with provider: %w", err)
	}

	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read registration ack: %w", err)
	}
	if ack.Kind == FrameError {
		conn.Close()
		return fmt.Errorf("provider rejected registration: %s", ack.Message)
	}
	if ack.Kind != FrameRegistered {
		conn.Close()
		return fmt.Errorf("unexpected registration reply: %s", ack.Kind)
	}

	inputDevice, bridged := selectInputDevice(m.cfg.InputDeviceID, ack.Devices)
	if bridged {
		log.Printf("No usable input device; falling back to server-bridged calling")
	}

	m.mu.Lock()
	m.conn = conn
	m.token = token
	m.tokenExpiry = expiry
	m.inputDeviceID = inputDevice
	m.bridged = bridged
	m.state = StateReady
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	go m.readLoop(conn)

	log.Printf("Device session ready (input=%q, bridged=%v)", inputDevice, bridged)
	return nil
}

// selectInputDevice picks an input device from the announced list. A
// preferred id that does not exist falls back to the first available device;
// an empty list falls back to no explicit device (server-bridged mode).
func selectInputDevice(preferred string, devices []AudioDevice) (string, bool) {
	if len(devices) == 0 {
		return "", true
	}

	if preferred != "" {
		for _, d := range devices {
			if d.ID == preferred {
				return d.ID, false
			}
		}
	}
	return devices[0].ID, false
}

// fetchToken acquires a short-lived access credential and validates its
// structural shape (three dot-separated segments) before use.
func (m *Manager) fetchToken(ctx context.Context) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("credential endpoint error (%d)", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode credential response: %w", err)
	}

	expiry, err := validateToken(payload.Token)
	if err != nil {
		return "", time.Time{}, err
	}
	return payload.Token, expiry, nil
}

// validateToken checks the credential shape and extracts its expiry. The
// signature is the provider's to verify, not ours, so parsing is unverified.
func validateToken(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, fmt.Errorf("malformed credential: expected three segments")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed credential: %w", err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil // no expiry claim; caller uses fallback cadence
	}
	return exp.Time, nil
}

// scheduleRefreshLocked arms the credential refresh timer. Caller holds mu.
func (m *Manager) scheduleRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}

	delay := m.cfg.RefreshInterval
	if !m.tokenExpiry.IsZero() {
		delay = time.Until(m.tokenExpiry) - refreshMargin
		if delay < time.Second {
			delay = time.Second
		}
	}

	m.refreshTimer = time.AfterFunc(delay, func() {
		if err := m.RefreshCredential(context.Background()); err != nil {
			log.Printf("Scheduled credential refresh failed: %v", err)
		}
	})
}

// RefreshCredential fetches a fresh credential and re-registers it with the
// provider. Also called out-of-band when the provider reports an
// authentication-class error.
func (m *Manager) RefreshCredential(ctx context.Context) error {
	if m.State() != StateReady {
		return fmt.Errorf("device session not ready")
	}

	token, expiry, err := m.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("credential refresh failed: %w", err)
	}

	if err := m.writeFrame(Frame{Kind: FrameRegister, Token: token}); err != nil {
		return fmt.Errorf("failed to re-register credential: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.tokenExpiry = expiry
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	log.Printf("Voice credential refreshed")
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			m.mu.Lock()
			stopped := m.conn != conn || m.state == StateDestroyed
			m.mu.Unlock()
			if stopped {
				return
			}

			select {
			case m.errorChan <- fmt.Errorf("provider connection lost: %w", err):
			default:
			}

			m.mu.Lock()
			if m.conn == conn {
				m.state = StateError
				m.conn = nil
			}
			m.mu.Unlock()
			return
		}

		if frame.Kind == FrameError && frame.Class == ErrorClassAuth {
			// Immediate out-of-band refresh; the event is still forwarded so
			// the engine can decide whether a call was affected.
			go func() {
				if err := m.RefreshCredential(context.Background()); err != nil {
					log.Printf("Out-of-band credential refresh failed: %v", err)
				}
			}()
		}

		event := Event{
			Kind:    frame.Kind,
			CallID:  frame.CallID,
			From:    frame.From,
			To:      frame.To,
			LegIDs:  frame.LegIDs,
			Class:   frame.Class,
			Message: frame.Message,
		}

		// The engine is the sole consumer and always drains this channel.
		// A dropped terminal frame would strand a live call, so the send
		// blocks instead of discarding.
		m.eventChan <- event
	}
}

func (m *Manager) writeFrame(frame Frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no provider connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Invite places an outbound call attempt with the provider.
func (m *Manager) Invite(callID, to string, bridged bool) error {
	if m.State() != StateReady {
		return fmt.Errorf("device session not ready")
	}
	return m.writeFrame(Frame{Kind: FrameInvite, CallID: callID, To: to, Bridged: bridged})
}

// Answer accepts a ringing inbound call.
func (m *Manager) Answer(callID string) error {
	return m.writeFrame(Frame{Kind: FrameAnswer, CallID: callID})
}

// Reject declines a ringing inbound call.
func (m *Manager) Reject(callID string) error {
	return m.writeFrame(Frame{Kind: FrameReject, CallID: callID})
}

// Hangup ends the given call on the device leg.
func (m *Manager) Hangup(callID string) error {
	return m.writeFrame(Frame{Kind: FrameHangup, CallID: callID})
}

// SendDTMF routes a keypad digit as in-band signaling to the active call.
func (m *Manager) SendDTMF(callID, digit string) error {
	if m.State() != StateReady {
		return fmt.Errorf("device session not ready")
	}
	return m.writeFrame(Frame{Kind: FrameDTMF, CallID: callID, Digit: digit})
}

// Shutdown cancels the refresh timer and destroys the client. Safe to call
// multiple times.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDestroyed {
		return
	}
	m.state = StateDestroyed

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	log.Printf("Device session destroyed")
}
