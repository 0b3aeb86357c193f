// Package session enforces automatic sign-out after a configurable
// inactivity window, with a dismissible grace-period warning.
//
// Each authenticated session gets a watch with two timers. Only one is
// armed at a time: the warning timer runs while the user is active, and
// the logout timer runs while the warning is visible. User activity
// re-arms the warning timer unless the warning is showing; once the
// warning is up, only an explicit "stay logged in" dismissal clears it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default timing constants.
const (
	DefaultIdleWindow       = 30 * time.Minute
	DefaultWarningLead      = 5 * time.Minute
	DefaultActivityThrottle = time.Second
)

// Config holds guard timing configuration.
type Config struct {
	// IdleWindow is the total inactivity duration tolerated before forced
	// logout.
	IdleWindow time.Duration

	// WarningLead is the portion of the idle window during which the
	// dismissible warning is shown before logout.
	WarningLead time.Duration

	// ActivityThrottle collapses activity events closer together than this
	// into a single timer reset.
	ActivityThrottle time.Duration
}

// DefaultConfig returns the production timing configuration: a 30 minute
// idle window with a 5 minute warning lead, throttled to one reset per
// second.
func DefaultConfig() Config {
	return Config{
		IdleWindow:       DefaultIdleWindow,
		WarningLead:      DefaultWarningLead,
		ActivityThrottle: DefaultActivityThrottle,
	}
}

// Callbacks are invoked from timer goroutines when a watch changes state.
// OnLogout failures are the callee's to log; the guard drops its state
// either way so the session never appears stuck.
type Callbacks struct {
	// OnWarning fires when the warning becomes visible.
	OnWarning func(sessionID uuid.UUID)

	// OnLogout fires when the grace period lapses without dismissal. The
	// guard has already dropped the watch when this is called.
	OnLogout func(ctx context.Context, sessionID uuid.UUID)
}

// Snapshot is a point-in-time view of a watch, consumed by the session
// status endpoint so the browser can render the countdown.
type Snapshot struct {
	WarningVisible bool
	LastActivityAt time.Time

	// WarningAt is when the warning will become (or became) visible.
	WarningAt time.Time

	// LogoutAt is when forced logout occurs if the warning is not
	// dismissed. Zero while the warning is hidden.
	LogoutAt time.Time
}

// watch tracks one session's idle state. Timer handles are private;
// all access goes through the guard's mutex.
type watch struct {
	warningTimer   *time.Timer
	logoutTimer    *time.Timer
	warningVisible bool
	lastActivityAt time.Time
	warningAt      time.Time
	logoutAt       time.Time
}

// Guard owns the idle watches for all authenticated sessions.
type Guard struct {
	mu sync.Mutex

	cfg     Config
	cb      Callbacks
	logger  zerolog.Logger
	watches map[uuid.UUID]*watch
}

// NewGuard creates a session guard. Zero config fields fall back to the
// defaults.
func NewGuard(cfg Config, cb Callbacks, logger zerolog.Logger) *Guard {
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.WarningLead <= 0 || cfg.WarningLead >= cfg.IdleWindow {
		cfg.WarningLead = DefaultWarningLead
	}
	if cfg.ActivityThrottle <= 0 {
		cfg.ActivityThrottle = DefaultActivityThrottle
	}

	return &Guard{
		cfg:     cfg,
		cb:      cb,
		logger:  logger,
		watches: make(map[uuid.UUID]*watch),
	}
}

// Start begins watching a session. The warning timer is armed for
// IdleWindow - WarningLead from now. Starting an already-watched session
// resets it.
func (g *Guard) Start(sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.watches[sessionID]; ok {
		stopTimers(existing)
	}

	now := time.Now()
	w := &watch{lastActivityAt: now}
	g.watches[sessionID] = w
	g.armWarningLocked(sessionID, w, now)

	g.logger.Debug().
		Str("session_id", sessionID.String()).
		Time("warning_at", w.warningAt).
		Msg("idle watch started")
}

// Activity records a qualifying user activity event. Events within the
// throttle window of the previous one are ignored. Activity while the
// warning is visible does not dismiss it.
func (g *Guard) Activity(sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[sessionID]
	if !ok {
		return
	}

	now := time.Now()
	if w.warningVisible {
		// Only an explicit dismissal hides the warning.
		return
	}
	if now.Sub(w.lastActivityAt) < g.cfg.ActivityThrottle {
		return
	}

	w.lastActivityAt = now
	if w.warningTimer != nil {
		w.warningTimer.Stop()
	}
	g.armWarningLocked(sessionID, w, now)
}

// Dismiss is the explicit "stay logged in" action. It cancels the logout
// timer and re-arms the warning timer from now. A no-op if the warning is
// not visible.
func (g *Guard) Dismiss(sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[sessionID]
	if !ok || !w.warningVisible {
		return
	}

	if w.logoutTimer != nil {
		w.logoutTimer.Stop()
		w.logoutTimer = nil
	}
	w.warningVisible = false
	w.logoutAt = time.Time{}

	now := time.Now()
	w.lastActivityAt = now
	g.armWarningLocked(sessionID, w, now)

	g.logger.Debug().
		Str("session_id", sessionID.String()).
		Time("warning_at", w.warningAt).
		Msg("idle warning dismissed")
}

// Stop cancels both timers and drops the watch. Used for explicit logout
// and for sign-out detected from elsewhere (e.g. session revoked on
// another device).
func (g *Guard) Stop(sessionID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[sessionID]
	if !ok {
		return
	}

	stopTimers(w)
	delete(g.watches, sessionID)
}

// StopAll cancels every watch. Used on server shutdown.
func (g *Guard) StopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, w := range g.watches {
		stopTimers(w)
		delete(g.watches, id)
	}
}

// Snapshot returns the current state of a watch, or false if the session
// is not watched.
func (g *Guard) Snapshot(sessionID uuid.UUID) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watches[sessionID]
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		WarningVisible: w.warningVisible,
		LastActivityAt: w.lastActivityAt,
		WarningAt:      w.warningAt,
		LogoutAt:       w.logoutAt,
	}, true
}

// armWarningLocked arms the warning timer for IdleWindow - WarningLead
// from now. Caller holds g.mu.
func (g *Guard) armWarningLocked(sessionID uuid.UUID, w *watch, now time.Time) {
	lead := g.cfg.IdleWindow - g.cfg.WarningLead
	w.warningAt = now.Add(lead)
	w.logoutAt = time.Time{}
	w.warningTimer = time.AfterFunc(lead, func() {
		g.onWarningFired(sessionID)
	})
}

// onWarningFired transitions a watch to warning-visible and arms the
// logout timer for the warning lead.
func (g *Guard) onWarningFired(sessionID uuid.UUID) {
	g.mu.Lock()
	w, ok := g.watches[sessionID]
	if !ok {
		g.mu.Unlock()
		return
	}

	w.warningTimer = nil
	w.warningVisible = true
	w.logoutAt = time.Now().Add(g.cfg.WarningLead)
	w.logoutTimer = time.AfterFunc(g.cfg.WarningLead, func() {
		g.onLogoutFired(sessionID)
	})
	g.mu.Unlock()

	g.logger.Info().
		Str("session_id", sessionID.String()).
		Dur("grace", g.cfg.WarningLead).
		Msg("idle warning shown")

	if g.cb.OnWarning != nil {
		g.cb.OnWarning(sessionID)
	}
}

// onLogoutFired drops the watch and notifies the logout callback. State
// is cleared before the callback runs so a slow or failing backend call
// never leaves the watch armed.
func (g *Guard) onLogoutFired(sessionID uuid.UUID) {
	g.mu.Lock()
	w, ok := g.watches[sessionID]
	if !ok {
		g.mu.Unlock()
		return
	}
	if !w.warningVisible {
		// Dismissed between firing and acquiring the lock.
		g.mu.Unlock()
		return
	}
	w.logoutTimer = nil
	delete(g.watches, sessionID)
	g.mu.Unlock()

	g.logger.Info().
		Str("session_id", sessionID.String()).
		Msg("idle window lapsed, forcing logout")

	if g.cb.OnLogout != nil {
		g.cb.OnLogout(context.Background(), sessionID)
	}
}

func stopTimers(w *watch) {
	if w.warningTimer != nil {
		w.warningTimer.Stop()
		w.warningTimer = nil
	}
	if w.logoutTimer != nil {
		w.logoutTimer.Stop()
		w.logoutTimer = nil
	}
}
