package types

import "sync"

// CallStateMachine drives a single call attempt through its lifecycle.
// Transitions are an explicit table over (state, signal); a signal with no
// entry leaves the state unchanged, which is what makes duplicate provider
// events harmless at this layer.
type CallStateMachine struct {
	mu            sync.RWMutex
	currentState  CallState
	onStateChange func(oldState, newState CallState)
}

// NewCallStateMachine creates a state machine in the idle state.
func NewCallStateMachine(onStateChange func(oldState, newState CallState)) *CallStateMachine {
	return &CallStateMachine{
		currentState:  CallStateIdle,
		onStateChange: onStateChange,
	}
}

// GetState returns the current state.
func (fsm *CallStateMachine) GetState() CallState {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.currentState
}

// ProcessSignal applies a signal and returns the resulting state.
func (fsm *CallStateMachine) ProcessSignal(signal CallSignal) CallState {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	oldState := fsm.currentState
	newState := fsm.getNextState(oldState, signal)

	if oldState != newState {
		fsm.currentState = newState
		if fsm.onStateChange != nil {
			fsm.onStateChange(oldState, newState)
		}
	}

	return newState
}

// getNextState determines the next state for a signal in the current state.
func (fsm *CallStateMachine) getNextState(currentState CallState, signal CallSignal) CallState {
	switch currentState {
	case CallStateIdle:
		switch signal {
		case SignalDial:
			return CallStateDialing
		case SignalIncoming:
			return CallStateRinging
		}

	case CallStateDialing:
		switch signal {
		case SignalProceeding:
			return CallStateConnecting
		case SignalAnswered:
			return CallStateConnected
		case SignalHangup:
			return CallStateDisconnecting
		case SignalDisconnect, SignalError:
			return CallStateEnded
		}

	case CallStateRinging:
		switch signal {
		case SignalAccept:
			return CallStateConnecting
		case SignalReject, SignalCancel, SignalError:
			return CallStateEnded
		}

	case CallStateConnecting:
		switch signal {
		case SignalAnswered:
			return CallStateConnected
		case SignalHangup:
			return CallStateDisconnecting
		case SignalDisconnect, SignalError, SignalCancel:
			return CallStateEnded
		}

	case CallStateConnected:
		switch signal {
		case SignalHangup:
			return CallStateDisconnecting
		case SignalDisconnect, SignalError:
			return CallStateEnded
		}

	case CallStateDisconnecting:
		switch signal {
		case SignalDisconnect, SignalError:
			return CallStateEnded
		}

	case CallStateEnded:
		// Absorbing until Reset.
	}

	return currentState
}

// IsValidTransition checks whether a signal would change the current state.
func (fsm *CallStateMachine) IsValidTransition(signal CallSignal) bool {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	return fsm.getNextState(fsm.currentState, signal) != fsm.currentState
}

// ValidTransitions returns all signals that would change the current state.
func (fsm *CallStateMachine) ValidTransitions() []CallSignal {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	allSignals := []CallSignal{
		SignalDial, SignalIncoming, SignalProceeding, SignalAccept,
		SignalAnswered, SignalReject, SignalCancel, SignalHangup,
		SignalDisconnect, SignalError,
	}

	var valid []CallSignal
	for _, signal := range allSignals {
		if fsm.getNextState(fsm.currentState, signal) != fsm.currentState {
			valid = append(valid, signal)
		}
	}
	return valid
}

// Reset returns the machine to idle for the next call attempt.
func (fsm *CallStateMachine) Reset() {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	oldState := fsm.currentState
	fsm.currentState = CallStateIdle

	if oldState != CallStateIdle && fsm.onStateChange != nil {
		fsm.onStateChange(oldState, CallStateIdle)
	}
}
