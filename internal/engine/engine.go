// Package engine coordinates call attempts end to end: normalization,
// identity resolution, the device session, the per-call state machine, and
// reporting of finished calls.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-callengine/internal/device"
	"crm-callengine/internal/phone"
	"crm-callengine/pkg/types"
)

// DeviceSession is the realtime voice client the engine drives. Satisfied by
// device.Manager.
type DeviceSession interface {
	EnsureDevice(ctx context.Context) error
	Bridged() bool
	Events() <-chan device.Event
	Errors() <-chan error
	Invite(callID, to string, bridged bool) error
	Answer(callID string) error
	Reject(callID string) error
	Hangup(callID string) error
	SendDTMF(callID, digit string) error
	Shutdown()
}

// IdentityResolver produces a best-effort identity for a canonical number.
// Satisfied by resolver.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, number string, base types.CallContext) types.IdentityMeta
}

// CallReporter pushes finished calls to the backend. Satisfied by
// reporter.Reporter.
type CallReporter interface {
	ReportCompleted(ctx context.Context, record types.CallRecord) error
	TerminateLegs(ctx context.Context, legIDs []string) error
}

// CallStore persists finished calls for recent-call lists. Satisfied by
// database.Client.
type CallStore interface {
	SaveCall(record types.CallRecord) error
	RecentCalls(limit int) ([]types.CallRecord, error)
}

// Config holds the engine's collaborators and tunables. Reporter, Publisher
// and Store may be nil; the corresponding side effects are then skipped.
type Config struct {
	Normalizer *phone.Normalizer
	Resolver   IdentityResolver
	Device     DeviceSession
	Reporter   CallReporter
	Publisher  types.EventPublisher
	Store      CallStore
	Guard      GuardConfig

	HistorySize int
}

// Engine owns the single live call attempt of a session.
type Engine struct {
	normalizer *phone.Normalizer
	resolver   IdentityResolver
	device     DeviceSession
	reporter   CallReporter
	publisher  types.EventPublisher
	store      CallStore
	guard      *Guard
	contexts   *types.ContextStore

	historySize int

	mu      sync.Mutex
	active  *connection // dialing/connecting/connected call, if any
	pending *connection // ringing inbound, not yet accepted
	attempt uint64      // generation counter; stale async resolutions are dropped
	history types.CallHistory
}

// connection is one call attempt. Teardown runs its effects exactly once no
// matter how many terminal events arrive or from which side.
type connection struct {
	id          string
	providerID  string
	direction   types.CallDirection
	number      string
	fsm         *types.CallStateMachine
	legIDs      []string
	startedAt   time.Time
	connectedAt time.Time
	tickStop    chan struct{}
	teardown    sync.Once
	done        bool // set under Engine.mu when teardown has run
}

// New creates an engine with an empty context store.
func New(cfg Config) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Engine{
		normalizer:  cfg.Normalizer,
		resolver:    cfg.Resolver,
		device:      cfg.Device,
		reporter:    cfg.Reporter,
		publisher:   cfg.Publisher,
		store:       cfg.Store,
		guard:       NewGuard(cfg.Guard),
		contexts:    types.NewContextStore(),
		historySize: cfg.HistorySize,
		history:     types.CallHistory{MaxSize: cfg.HistorySize},
	}
}

// Contexts returns the session context store, for pre-seeding identity from
// detail pages before a click-to-call.
func (e *Engine) Contexts() *types.ContextStore {
	return e.contexts
}

// Guard returns the anti-loop guard, for recording clicks and typing.
func (e *Engine) Guard() *Guard {
	return e.guard
}

// History returns a copy of the in-memory recent-call history.
func (e *Engine) History() types.CallHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history
	h.Calls = append([]types.CallRecord(nil), e.history.Calls...)
	return h
}

// PlaceCall starts an outbound call attempt. Returns true when a provider
// call was actually initiated. Auto-triggered requests pass through the
// anti-loop guard first and are silently suppressed when it downgrades them.
func (e *Engine) PlaceCall(ctx context.Context, number, displayName string, autoTrigger bool, sourceTag string) bool {
	result := e.normalizer.Normalize(number)
	if !result.OK {
		log.Printf("Rejecting dial of unusable number %q", number)
		return false
	}

	effectiveAuto := e.guard.Evaluate(result.Value, autoTrigger, sourceTag)
	if autoTrigger && !effectiveAuto {
		log.Printf("Auto-trigger suppressed for %s (source=%s)", result.Value, sourceTag)
		return false
	}

	conn := &connection{
		id:        uuid.Must(uuid.NewV7()).String(),
		direction: types.CallDirectionOutbound,
		number:    result.Value,
		startedAt: time.Now(),
	}
	conn.fsm = types.NewCallStateMachine(e.stateChangeHandler(conn))

	// Reserve the single call slot before the device round-trip so two
	// concurrent requests cannot both pass the busy check.
	e.mu.Lock()
	if e.active != nil || e.pending != nil {
		e.mu.Unlock()
		log.Printf("Ignoring dial of %s: a call is already in progress", result.Value)
		return false
	}
	e.active = conn
	e.attempt++
	generation := e.attempt
	e.mu.Unlock()

	if err := e.device.EnsureDevice(ctx); err != nil {
		log.Printf("Cannot place call, device session unavailable: %v", err)
		e.releaseSlot(conn)
		return false
	}

	e.contexts.BeginAttempt(result.Value)
	if displayName != "" {
		e.contexts.Apply(types.ContextUpdate{ContactName: displayName, Name: displayName})
	}

	conn.fsm.ProcessSignal(types.SignalDial)

	if err := e.device.Invite(conn.id, result.Value, e.device.Bridged()); err != nil {
		log.Printf("Provider invite failed: %v", err)
		e.finish(conn, types.OutcomeFailed)
		return false
	}

	e.guard.NoteCallStarted(result.Value, effectiveAuto)
	e.publishEvent(conn, types.EventCallStarted, 0, "")
	e.resolveAsync(conn, generation, result.Value)

	return true
}

// releaseSlot frees the reserved call slot for an attempt that never reached
// the provider. No teardown effects run because no events went out.
func (e *Engine) releaseSlot(conn *connection) {
	e.mu.Lock()
	if e.active == conn {
		e.active = nil
	}
	if e.pending == conn {
		e.pending = nil
	}
	e.mu.Unlock()
}

// HandleIncoming registers a ringing inbound call. Any leftover context from
// a previous attempt for a different caller is cleared before the
// notification event goes out, so it never shows a stale name.
func (e *Engine) HandleIncoming(providerCallID, from string) {
	result := e.normalizer.Normalize(from)
	number := from
	if result.OK {
		number = result.Value
	}

	conn := &connection{
		id:         uuid.Must(uuid.NewV7()).String(),
		providerID: providerCallID,
		direction:  types.CallDirectionInbound,
		number:     number,
		startedAt:  time.Now(),
	}
	conn.fsm = types.NewCallStateMachine(e.stateChangeHandler(conn))

	e.mu.Lock()
	if e.active != nil || e.pending != nil {
		e.mu.Unlock()
		log.Printf("Rejecting inbound call from %s: a call is already in progress", number)
		if err := e.device.Reject(providerCallID); err != nil {
			log.Printf("Failed to reject overlapping inbound call: %v", err)
		}
		return
	}
	e.pending = conn
	e.attempt++
	generation := e.attempt
	e.mu.Unlock()

	e.contexts.BeginAttempt(number)

	conn.fsm.ProcessSignal(types.SignalIncoming)
	e.publishEvent(conn, types.EventCallRinging, 0, "")
	e.resolveAsync(conn, generation, number)
}

// AcceptIncoming answers the pending inbound call.
func (e *Engine) AcceptIncoming(ctx context.Context) bool {
	e.mu.Lock()
	conn := e.pending
	if conn == nil {
		e.mu.Unlock()
		return false
	}
	e.pending = nil
	e.active = conn
	e.mu.Unlock()

	if err := e.device.EnsureDevice(ctx); err != nil {
		log.Printf("Cannot accept call, device session unavailable: %v", err)
		e.mu.Lock()
		e.active = nil
		e.pending = conn
		e.mu.Unlock()
		return false
	}

	conn.fsm.ProcessSignal(types.SignalAccept)
	if err := e.device.Answer(conn.providerID); err != nil {
		log.Printf("Provider answer failed: %v", err)
		e.finish(conn, types.OutcomeFailed)
		return false
	}
	return true
}

// RejectIncoming declines the pending inbound call.
func (e *Engine) RejectIncoming() bool {
	e.mu.Lock()
	conn := e.pending
	e.mu.Unlock()
	if conn == nil {
		return false
	}

	if err := e.device.Reject(conn.providerID); err != nil {
		log.Printf("Provider reject failed: %v", err)
	}
	conn.fsm.ProcessSignal(types.SignalReject)
	e.finish(conn, types.OutcomeRejected)
	return true
}

// EndCall tears down whichever call handle is live: an active outbound or
// accepted call, or a still-ringing inbound. Callers never need to know
// which path applies.
func (e *Engine) EndCall() bool {
	e.mu.Lock()
	active := e.active
	pending := e.pending
	e.mu.Unlock()

	switch {
	case active != nil:
		state := active.fsm.GetState()
		if err := e.device.Hangup(e.providerOrLocalID(active)); err != nil {
			log.Printf("Provider hangup failed: %v", err)
		}
		active.fsm.ProcessSignal(types.SignalHangup)

		// Before answer a local hangup is a cancel; afterwards the call
		// completed. Either way the provider disconnect that follows is
		// absorbed by the teardown once-guard.
		if state == types.CallStateConnected {
			e.finish(active, types.OutcomeCompleted)
		} else {
			e.finish(active, types.OutcomeCanceled)
		}
		return true

	case pending != nil:
		return e.RejectIncoming()
	}
	return false
}

// SendDigit routes a keypad digit to the active call as in-band signaling.
// Digits pressed with no connected call are ignored.
func (e *Engine) SendDigit(digit string) bool {
	e.mu.Lock()
	conn := e.active
	e.mu.Unlock()

	if conn == nil || conn.fsm.GetState() != types.CallStateConnected {
		return false
	}
	if err := e.device.SendDTMF(e.providerOrLocalID(conn), digit); err != nil {
		log.Printf("DTMF send failed: %v", err)
		return false
	}
	return true
}

// ActiveState reports the current call state, or idle when no call is live.
func (e *Engine) ActiveState() types.CallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active.fsm.GetState()
	}
	if e.pending != nil {
		return e.pending.fsm.GetState()
	}
	return types.CallStateIdle
}

// Run consumes provider events until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.device.Events():
			if !ok {
				return
			}
			e.handleProviderEvent(ev)
		case err, ok := <-e.device.Errors():
			if !ok {
				return
			}
			// The session needs re-initialization; the caller owns the
			// reconnect loop.
			log.Printf("Provider transport error: %v", err)
			e.failLiveCall()
			return
		}
	}
}

func (e *Engine) handleProviderEvent(ev device.Event) {
	switch ev.Kind {
	case device.FrameIncoming:
		e.HandleIncoming(ev.CallID, ev.From)
		return
	}

	conn := e.liveConnection(ev.Kind, ev.CallID)
	if conn == nil {
		return
	}
	if len(ev.LegIDs) > 0 {
		e.mu.Lock()
		conn.legIDs = ev.LegIDs
		e.mu.Unlock()
	}

	switch ev.Kind {
	case device.FrameProceeding:
		conn.fsm.ProcessSignal(types.SignalProceeding)

	case device.FrameAnswered:
		conn.fsm.ProcessSignal(types.SignalAnswered)
		e.onConnected(conn)

	case device.FrameCancel:
		wasRinging := conn.fsm.GetState() == types.CallStateRinging
		conn.fsm.ProcessSignal(types.SignalCancel)
		if wasRinging {
			e.finish(conn, types.OutcomeMissed)
		} else {
			e.finish(conn, types.OutcomeCanceled)
		}

	case device.FrameDisconnect:
		wasConnected := conn.fsm.GetState() == types.CallStateConnected ||
			conn.fsm.GetState() == types.CallStateDisconnecting
		conn.fsm.ProcessSignal(types.SignalDisconnect)
		if wasConnected {
			e.finish(conn, types.OutcomeCompleted)
		} else {
			e.finish(conn, types.OutcomeCanceled)
		}

	case device.FrameError:
		log.Printf("Provider call error (%s): %s", ev.Class, ev.Message)
		conn.fsm.ProcessSignal(types.SignalError)
		e.finish(conn, types.OutcomeFailed)
	}
}

// liveConnection matches a provider event to the live call. Provider call IDs
// are echoed for outbound calls, but some providers mint their own, so an
// unknown ID is learned lazily from the first progress frame. Terminal frames
// never adopt an unknown ID: one for an unrelated call (say, an overlapping
// inbound the engine just rejected) must not tear down the live attempt.
func (e *Engine) liveConnection(kind, providerCallID string) *connection {
	adoptable := kind == device.FrameProceeding || kind == device.FrameAnswered

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, conn := range []*connection{e.active, e.pending} {
		if conn == nil {
			continue
		}
		if conn.id == providerCallID || conn.providerID == providerCallID {
			return conn
		}
		if adoptable && conn.providerID == "" {
			conn.providerID = providerCallID
			return conn
		}
	}
	return nil
}

func (e *Engine) failLiveCall() {
	e.mu.Lock()
	conn := e.active
	if conn == nil {
		conn = e.pending
	}
	e.mu.Unlock()

	if conn == nil {
		return
	}
	conn.fsm.ProcessSignal(types.SignalError)
	e.finish(conn, types.OutcomeFailed)
}

// onConnected promotes a pending inbound call, records the connect time, and
// starts the per-second duration ticker.
func (e *Engine) onConnected(conn *connection) {
	e.mu.Lock()
	if e.pending == conn {
		e.pending = nil
		e.active = conn
	}
	conn.connectedAt = time.Now()
	conn.tickStop = make(chan struct{})
	e.mu.Unlock()

	e.publishEvent(conn, types.EventCallConnected, 0, "")

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-conn.tickStop:
				return
			case <-ticker.C:
				duration := int(time.Since(conn.connectedAt).Seconds())
				e.publishEvent(conn, types.EventDurationTick, duration, "")
			}
		}
	}()
}

// finish runs the terminal cleanup for a call attempt. The sync.Once makes
// duplicate terminal events from either side harmless: cleanup effects run
// exactly once.
func (e *Engine) finish(conn *connection, outcome types.CallOutcome) {
	conn.teardown.Do(func() {
		e.mu.Lock()
		conn.done = true
		if e.active == conn {
			e.active = nil
		}
		if e.pending == conn {
			e.pending = nil
		}
		if conn.tickStop != nil {
			close(conn.tickStop)
		}
		legIDs := append([]string(nil), conn.legIDs...)
		e.mu.Unlock()

		duration := 0
		if !conn.connectedAt.IsZero() {
			duration = int(time.Since(conn.connectedAt).Seconds())
		}

		// Identity survives teardown for attribution; the next unrelated
		// attempt clears it.
		snapshot := e.contexts.EndAttempt()
		e.guard.NoteCallEnded(conn.number)

		record := types.CallRecord{
			ID:          conn.id,
			Direction:   conn.direction,
			Number:      conn.number,
			ContactID:   snapshot.ContactID,
			AccountID:   snapshot.AccountID,
			ContactName: snapshot.ContactName,
			AccountName: snapshot.AccountName,
			Outcome:     outcome,
			Duration:    duration,
			StartedAt:   conn.startedAt,
			EndedAt:     time.Now(),
		}

		e.mu.Lock()
		e.history.AddCall(record)
		history := e.history
		history.Calls = append([]types.CallRecord(nil), e.history.Calls...)
		e.mu.Unlock()

		e.publishEvent(conn, types.EventCallCompleted, duration, outcome)

		if e.store != nil {
			if err := e.store.SaveCall(record); err != nil {
				log.Printf("Failed to persist call record: %v", err)
			}
		}
		if e.publisher != nil {
			if err := e.publisher.PublishHistory(history); err != nil {
				log.Printf("Failed to publish call history: %v", err)
			}
		}

		if e.reporter != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.reporter.ReportCompleted(ctx, record); err != nil {
					log.Printf("Call log report failed: %v", err)
				}
				if err := e.reporter.TerminateLegs(ctx, legIDs); err != nil {
					log.Printf("Leg termination failed: %v", err)
				}
			}()
		}
	})
}

// resolveAsync resolves identity off the call path and merges it into the
// context. The result is discarded when a newer attempt has started or the
// attempt was already torn down, so a slow lookup never decorates a canceled
// call.
func (e *Engine) resolveAsync(conn *connection, generation uint64, number string) {
	if e.resolver == nil {
		return
	}
	snapshot := e.contexts.Snapshot()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		meta := e.resolver.Resolve(ctx, number, snapshot)

		e.mu.Lock()
		stale := e.attempt != generation || conn.done
		e.mu.Unlock()
		if stale || meta.IsEmpty() {
			return
		}

		e.contexts.Fill(meta)

		// The initial notification carried only the raw number; tell
		// consumers who it turned out to be.
		e.publishEvent(conn, types.EventContextResolved, 0, "")
		if e.publisher != nil {
			status := types.NewEngineStatusMessage(conn.fsm.GetState(), conn.direction, conn.id, e.contexts.Get())
			if err := e.publisher.PublishEngineStatus(status); err != nil {
				log.Printf("Failed to publish engine status: %v", err)
			}
		}
	}()
}

// stateChangeHandler publishes the retained status message on every state
// transition of a call.
func (e *Engine) stateChangeHandler(conn *connection) func(oldState, newState types.CallState) {
	return func(oldState, newState types.CallState) {
		log.Printf("Call %s: %s -> %s", conn.id, oldState, newState)
		if e.publisher == nil {
			return
		}
		status := types.NewEngineStatusMessage(newState, conn.direction, conn.id, e.contexts.Get())
		if err := e.publisher.PublishEngineStatus(status); err != nil {
			log.Printf("Failed to publish engine status: %v", err)
		}
	}
}

func (e *Engine) publishEvent(conn *connection, eventType types.CallEventType, duration int, outcome types.CallOutcome) {
	if e.publisher == nil {
		return
	}

	snapshot := e.contexts.Snapshot()
	event := types.CallEvent{
		Type:           eventType,
		ID:             conn.id,
		ProviderCallID: conn.providerID,
		Direction:      conn.direction,
		State:          conn.fsm.GetState(),
		Number:         conn.number,
		Timestamp:      time.Now(),
		ContactID:      snapshot.ContactID,
		AccountID:      snapshot.AccountID,
		ContactName:    snapshot.ContactName,
		AccountName:    snapshot.AccountName,
		Duration:       duration,
		Outcome:        outcome,
	}
	if err := e.publisher.PublishCallEvent(event); err != nil {
		log.Printf("Failed to publish call event: %v", err)
	}
}

func (e *Engine) providerOrLocalID(conn *connection) string {
	if conn.providerID != "" {
		return conn.providerID
	}
	return conn.id
}
