package engine

import (
	"sync"
	"time"
)

// SourceUserClick tags a call request originating from a timestamped user
// click. Only such requests may keep their auto-trigger flag.
const SourceUserClick = "user-click"

// GuardConfig holds the cooldown windows for the anti-loop guard.
type GuardConfig struct {
	FreshClickWindow   time.Duration // max age of a user click that may auto-trigger
	GlobalCooldown     time.Duration // after any call ends, no auto-triggers
	FreshClickCooldown time.Duration // shorter post-call window applied to fresh clicks
	NumberCooldown     time.Duration // re-dialing the exact same number
	TypingWindow       time.Duration // recent manual keyboard activity in the dial input
	HardBlockWindow    time.Duration // same-number auto-trigger backstop
}

// DefaultGuardConfig returns the standard cooldown windows.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		FreshClickWindow:   1500 * time.Millisecond,
		GlobalCooldown:     5 * time.Second,
		FreshClickCooldown: 2 * time.Second,
		NumberCooldown:     10 * time.Second,
		TypingWindow:       2 * time.Second,
		HardBlockWindow:    60 * time.Second,
	}
}

// Guard suppresses automatic re-triggering of calls while letting explicit
// user-initiated dialing through. It never aborts a user-visible action, it
// only downgrades the auto-trigger flag.
type Guard struct {
	cfg GuardConfig
	now func() time.Time

	mu             sync.Mutex
	lastClick      time.Time
	lastTyping     time.Time
	lastCallEnded  time.Time
	callInProgress bool
	numberEnded    map[string]time.Time // per-number end times
	autoDialed     map[string]time.Time // per-number auto-trigger times
}

// NewGuard creates a guard with the given cooldown windows.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		cfg:         cfg,
		now:         time.Now,
		numberEnded: make(map[string]time.Time),
		autoDialed:  make(map[string]time.Time),
	}
}

// NoteUserClick records an explicit user click on a call control.
func (g *Guard) NoteUserClick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastClick = g.now()
}

// NoteTyping records manual keyboard activity in the dial input.
func (g *Guard) NoteTyping() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTyping = g.now()
}

// NoteCallStarted marks a call in progress. When the attempt was
// auto-triggered the number is also recorded for the hard-block backstop.
func (g *Guard) NoteCallStarted(number string, autoTriggered bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callInProgress = true
	if autoTriggered {
		g.autoDialed[number] = g.now()
	}
}

// NoteCallEnded marks the call over and starts the cooldown windows.
func (g *Guard) NoteCallEnded(number string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callInProgress = false
	now := g.now()
	g.lastCallEnded = now
	g.numberEnded[number] = now
}

// Evaluate returns the effective auto-trigger flag for a call request. Rules
// are checked in order; any hit downgrades auto-trigger to false.
func (g *Guard) Evaluate(number string, autoTrigger bool, sourceTag string) bool {
	if !autoTrigger {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	// Only a fresh, timestamped user click may auto-trigger.
	freshClick := sourceTag == SourceUserClick &&
		!g.lastClick.IsZero() &&
		now.Sub(g.lastClick) <= g.cfg.FreshClickWindow
	if !freshClick {
		return false
	}

	if g.callInProgress {
		return false
	}

	// Post-call cooldown. A click made after the previous call ended signals
	// new intent and gets the shorter window; a click that predates the end
	// (the one that started a very short call) waits out the full cooldown.
	if !g.lastCallEnded.IsZero() {
		cooldown := g.cfg.GlobalCooldown
		if g.lastClick.After(g.lastCallEnded) {
			cooldown = g.cfg.FreshClickCooldown
		}
		if now.Sub(g.lastCallEnded) < cooldown {
			return false
		}
	}

	// Stricter per-number cooldown for re-dialing the same number.
	if ended, ok := g.numberEnded[number]; ok && now.Sub(ended) < g.cfg.NumberCooldown {
		return false
	}

	// Do not race the user's own typing.
	if !g.lastTyping.IsZero() && now.Sub(g.lastTyping) < g.cfg.TypingWindow {
		return false
	}

	// Absolute backstop against runaway same-number loops.
	if dialed, ok := g.autoDialed[number]; ok && now.Sub(dialed) < g.cfg.HardBlockWindow {
		return false
	}

	return true
}
