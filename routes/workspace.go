package routes

import (
	"context"
	"sync"
	"time"

	"portal-middleware/onboarding"
	"portal-middleware/payments"
	"portal-middleware/pricing"
)

// Workspace is one user's page state: the pricing grid, the onboarding
// wizard and the payment links they opened.
type Workspace struct {
	UserID  string
	Pricing *pricing.Machine
	Wizard  *onboarding.Wizard

	mu       sync.Mutex
	draft    onboarding.GeneralInfo
	saveErr  error
	sessions map[string]*payments.Session
}

type bridge interface {
	pricing.Caller
	onboarding.Caller
}

func newWorkspace(userID string, b bridge) *Workspace {
	ws := &Workspace{
		UserID:   userID,
		Pricing:  pricing.NewMachine(b),
		sessions: map[string]*payments.Session{},
	}
	ws.Wizard = onboarding.NewWizard(func(ctx context.Context) error {
		err := onboarding.SaveGeneralInfo(ctx, b, ws.Draft())
		ws.mu.Lock()
		ws.saveErr = err
		ws.mu.Unlock()
		return err
	})
	return ws
}

// Draft is the general information as last typed by the user.
func (ws *Workspace) Draft() onboarding.GeneralInfo {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.draft
}

func (ws *Workspace) SetDraft(g onboarding.GeneralInfo) {
	ws.mu.Lock()
	ws.draft = g
	ws.mu.Unlock()
}

// LastSaveError is the outcome of the wizard's most recent automatic save.
func (ws *Workspace) LastSaveError() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.saveErr
}

// Session returns the checkout session for a payment link, opening it on
// first use.
func (ws *Workspace) Session(paymentID string) *payments.Session {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	s, ok := ws.sessions[paymentID]
	if !ok {
		s = payments.NewSession(paymentID, ws.UserID)
		ws.sessions[paymentID] = s
	}
	return s
}

// ExistingSession is like Session but never opens one.
func (ws *Workspace) ExistingSession(paymentID string) (*payments.Session, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	s, ok := ws.sessions[paymentID]
	return s, ok
}

// DefaultWorkspaceIdle is how long a workspace nobody touches is kept.
const DefaultWorkspaceIdle = 2 * time.Hour

const sweepInterval = time.Minute

// Workspaces is the per-user registry. Workspaces idle for longer than Idle
// are dropped; a user coming back starts over as on a page load.
type Workspaces struct {
	Idle time.Duration

	bridge bridge
	now    func() time.Time

	mu        sync.Mutex
	m         map[string]*Workspace
	lastUsed  map[string]time.Time
	lastSweep time.Time
}

func NewWorkspaces(b bridge) *Workspaces {
	return &Workspaces{
		Idle:     DefaultWorkspaceIdle,
		bridge:   b,
		now:      time.Now,
		m:        map[string]*Workspace{},
		lastUsed: map[string]time.Time{},
	}
}

// Get returns the user's workspace, creating it if needed.
func (w *Workspaces) Get(userID string) *Workspace {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.touch(userID)
	ws, ok := w.m[userID]
	if !ok {
		ws = newWorkspace(userID, w.bridge)
		w.m[userID] = ws
	}
	w.sweep(now)
	return ws
}

// Reset starts the user over with a fresh grid and wizard, as a page load
// does. Open payment sessions are kept.
func (w *Workspaces) Reset(userID string) *Workspace {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.touch(userID)
	ws := newWorkspace(userID, w.bridge)
	if old, ok := w.m[userID]; ok {
		old.mu.Lock()
		for id, s := range old.sessions {
			ws.sessions[id] = s
		}
		old.mu.Unlock()
	}
	w.m[userID] = ws
	w.sweep(now)
	return ws
}

// Len is the number of workspaces held.
func (w *Workspaces) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.m)
}

// touch must be called with mu held.
func (w *Workspaces) touch(userID string) time.Time {
	now := w.now()
	w.lastUsed[userID] = now
	return now
}

// sweep must be called with mu held.
func (w *Workspaces) sweep(now time.Time) {
	if w.Idle <= 0 || now.Sub(w.lastSweep) < sweepInterval {
		return
	}
	w.lastSweep = now
	for userID, used := range w.lastUsed {
		if now.Sub(used) > w.Idle {
			delete(w.m, userID)
			delete(w.lastUsed, userID)
		}
	}
}
