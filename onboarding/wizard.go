package onboarding

import (
	"context"
	"log"
	"sync"
)

// SaveFunc persists the mandatory general step. It reports failure through
// the error; the wizard never navigates past an unsaved general step.
type SaveFunc func(ctx context.Context) error

// Wizard tracks the onboarding tabs: which exist, which were visited and
// which is active. Leaving the first (general) tab for the first time
// requires that tab to be saved.
type Wizard struct {
	save SaveFunc

	mu           sync.Mutex
	tabs         []string
	visited      map[string]bool
	active       string
	generalSaved bool
}

// State is a read-only view of the wizard for the UI.
type State struct {
	Tabs             []string `json:"tabs"`
	Visited          []string `json:"visited"`
	Active           string   `json:"active"`
	GeneralSaved     bool     `json:"generalSaved"`
	FinalStepReached bool     `json:"finalStepReached"`
}

func NewWizard(save SaveFunc) *Wizard {
	return &Wizard{
		save:    save,
		visited: map[string]bool{},
	}
}

// SetTabs installs the tab sequence after the first successful load. Later
// calls are ignored so a reload of the grid does not reset progress.
func (w *Wizard) SetTabs(tabs []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tabs) > 0 || len(tabs) == 0 {
		return
	}
	w.tabs = append([]string(nil), tabs...)
	w.active = w.tabs[0]
	w.visited[w.tabs[0]] = true
}

// MarkGeneralSaved records a successful save of the general step made
// outside of navigation, e.g. from its own save button.
func (w *Wizard) MarkGeneralSaved() {
	w.mu.Lock()
	w.generalSaved = true
	w.mu.Unlock()
}

// RequestNavigation moves to target and reports whether it did. Navigation
// away from an unsaved general step first runs the save; a failed save keeps
// the user where they are.
func (w *Wizard) RequestNavigation(ctx context.Context, target string) bool {
	w.mu.Lock()
	if !w.contains(target) {
		w.mu.Unlock()
		log.Printf("ignoring navigation to unknown tab %q", target)
		return false
	}
	if target == w.active {
		w.mu.Unlock()
		return true
	}
	gated := w.active == w.tabs[0] && !w.generalSaved
	w.mu.Unlock()

	if gated {
		if w.save == nil {
			return false
		}
		if err := w.save(ctx); err != nil {
			log.Printf("general step not saved, staying on it: %v", err.Error())
			return false
		}
		w.MarkGeneralSaved()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.visited[w.active] = true
	w.visited[target] = true
	w.active = target
	return true
}

// FinalStepReached is true once the last tab is active.
func (w *Wizard) FinalStepReached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalStepReached()
}

func (w *Wizard) finalStepReached() bool {
	return len(w.tabs) > 0 && w.active == w.tabs[len(w.tabs)-1]
}

func (w *Wizard) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := State{
		Tabs:             append([]string{}, w.tabs...),
		Visited:          []string{},
		Active:           w.active,
		GeneralSaved:     w.generalSaved,
		FinalStepReached: w.finalStepReached(),
	}
	for _, t := range w.tabs {
		if w.visited[t] {
			s.Visited = append(s.Visited, t)
		}
	}
	return s
}

func (w *Wizard) contains(tab string) bool {
	for _, t := range w.tabs {
		if t == tab {
			return true
		}
	}
	return false
}
