package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"portal-middleware/flow"
	"portal-middleware/models"

	"golang.org/x/sync/singleflight"
)

type Mode string

const (
	ModeNew    Mode = "new"
	ModeUpdate Mode = "update"
	ModeDelete Mode = "delete"
)

var (
	ErrNotLoaded = errors.New("services have not been loaded")
	ErrRowBusy   = errors.New("another change to this service is still being saved")
)

// ValidationError is a precondition failure caught before any backend call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Caller is the part of the flow bridge the state machine uses.
type Caller interface {
	Call(ctx context.Context, op flow.Operation, payload interface{}, out interface{}) error
	LocalUserID() string
}

// Action is one add, update or remove request for a row of the grid. Price
// is the raw value typed by the user, sent as a string or a number, and is
// ignored for deletes.
type Action struct {
	Mode      Mode        `json:"mode"`
	Category  string      `json:"category"`
	ServiceID string      `json:"serviceId"`
	Price     flow.String `json:"price"`
}

// key identifies the request; only identical requests share a result.
func (a Action) key() string {
	price := strings.TrimSpace(string(a.Price))
	if a.Mode == ModeDelete {
		price = ""
	}
	return strings.Join([]string{a.Category, a.ServiceID, string(a.Mode), price}, "\x00")
}

type servicesResponse struct {
	FirstName    string          `json:"firstname"`
	LastName     string          `json:"lastname"`
	ProfileImage string          `json:"profileimage"`
	Practitioner []overrideEntry `json:"practitioner"`
	BestVisa     []catalogEntry  `json:"bestvisa"`
}

// Machine holds one practitioner's pricing grid and applies row actions
// optimistically, rolling back when the backend refuses them.
type Machine struct {
	bridge Caller

	mu      sync.Mutex
	grid    *Grid
	profile models.Profile
	saving  map[string]bool
	// rows holds the key of the action in flight for each service id
	rows map[string]string

	inflight singleflight.Group
}

func NewMachine(bridge Caller) *Machine {
	return &Machine{
		bridge: bridge,
		saving: map[string]bool{},
		rows:   map[string]string{},
	}
}

// Load fetches the catalog and the practitioner's overrides and replaces the
// current grid with their merge.
func (m *Machine) Load(ctx context.Context) (*Grid, error) {
	resp := servicesResponse{}
	err := m.bridge.Call(ctx, flow.Services, models.UserPayload{UserID: m.bridge.LocalUserID()}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}

	grid := Merge(resp.BestVisa, resp.Practitioner)

	m.mu.Lock()
	m.grid = grid
	if resp.FirstName != "" && resp.LastName != "" {
		m.profile = models.Profile{
			FirstName:    resp.FirstName,
			LastName:     resp.LastName,
			ProfileImage: models.ProfileImageURL(resp.ProfileImage),
		}
	}
	m.mu.Unlock()

	return grid, nil
}

// Grid returns the current grid, which may include provisional rows.
func (m *Machine) Grid() *Grid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grid
}

func (m *Machine) Profile() models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// Saving reports whether a row has an action in flight.
func (m *Machine) Saving(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saving[serviceID]
}

// ApplyAction validates a, applies it to the grid optimistically and asks
// the backend to persist it. On failure the grid is put back the way it was.
// Only one action per row is in flight at a time: an identical request waits
// and receives the first caller's outcome, a different one fails with
// ErrRowBusy.
func (m *Machine) ApplyAction(ctx context.Context, a Action) (*Grid, error) {
	key := a.key()

	m.mu.Lock()
	running, busy := m.rows[a.ServiceID]
	if busy && running != key {
		grid := m.grid
		m.mu.Unlock()
		return grid, ErrRowBusy
	}
	if !busy {
		m.rows[a.ServiceID] = key
	}
	m.mu.Unlock()

	if busy {
		log.Printf("service %v action %v joined an in-flight action", a.ServiceID, a.Mode)
	} else {
		defer func() {
			m.mu.Lock()
			delete(m.rows, a.ServiceID)
			m.mu.Unlock()
		}()
	}

	v, err, _ := m.inflight.Do(key, func() (interface{}, error) {
		price, err := m.validate(a)
		if err != nil {
			return nil, err
		}
		return m.apply(ctx, a, price)
	})
	grid, _ := v.(*Grid)
	if grid == nil {
		grid = m.Grid()
	}
	return grid, err
}

func (m *Machine) validate(a Action) (float64, error) {
	switch a.Mode {
	case ModeNew, ModeUpdate, ModeDelete:
	default:
		return 0, &ValidationError{Msg: fmt.Sprintf("unknown action mode %q", a.Mode)}
	}

	grid := m.Grid()
	if grid == nil {
		return 0, ErrNotLoaded
	}
	svc, ok := grid.Find(a.Category, a.ServiceID)
	if !ok {
		return 0, &ValidationError{Msg: fmt.Sprintf("service %v not found in %v", a.ServiceID, a.Category)}
	}

	switch a.Mode {
	case ModeNew:
		if svc.Offered() {
			return 0, &ValidationError{Msg: "This service is already offered."}
		}
	case ModeUpdate, ModeDelete:
		if !svc.Offered() {
			return 0, &ValidationError{Msg: "This service is not offered yet."}
		}
	}

	if a.Mode == ModeDelete {
		return *svc.CurrentPrice, nil
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(string(a.Price)), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < svc.MinPrice {
		return 0, &ValidationError{
			Msg: fmt.Sprintf("Price cannot be less than the minimum of $%.2f.", svc.MinPrice),
		}
	}
	return price, nil
}

func (m *Machine) apply(ctx context.Context, a Action, price float64) (*Grid, error) {
	m.mu.Lock()
	before := m.grid
	original, ok := before.Find(a.Category, a.ServiceID)
	if !ok {
		m.mu.Unlock()
		return before, &ValidationError{Msg: fmt.Sprintf("service %v not found in %v", a.ServiceID, a.Category)}
	}

	optimistic := original
	switch a.Mode {
	case ModeNew, ModeUpdate:
		p := price
		optimistic.CurrentPrice = &p
	case ModeDelete:
		optimistic.CurrentPrice = nil
		optimistic.PractitionerID = nil
	}
	after := before.withService(a.Category, optimistic)
	m.grid = after
	m.saving[a.ServiceID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.saving, a.ServiceID)
		m.mu.Unlock()
	}()

	prid := a.ServiceID
	if a.Mode != ModeNew {
		prid = *original.PractitionerID
	}
	payload := models.ServiceActionPayload{
		Mode:   string(a.Mode),
		PrID:   prid,
		Price:  strconv.FormatFloat(price, 'f', -1, 64),
		UserID: m.bridge.LocalUserID(),
	}

	resp := models.ServiceActionResponse{}
	err := m.bridge.Call(ctx, flow.ServiceActions, payload, &resp)
	if err == nil && ctx.Err() != nil {
		// the caller is gone; do not act on a late answer
		err = ctx.Err()
	}
	if err == nil && a.Mode == ModeNew && resp.NewID == "" {
		err = &flow.CallError{Op: flow.ServiceActions, Err: errors.New("response did not include newId")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		log.Printf("service action %v for %v failed, reverting: %v", a.Mode, a.ServiceID, err.Error())
		if m.grid == after {
			m.grid = before
		} else {
			// other rows moved on meanwhile; revert only this one
			m.grid = m.grid.withService(a.Category, original)
		}
		return m.grid, fmt.Errorf("failed to %v service: %w", a.Mode, err)
	}

	if a.Mode == ModeNew {
		final := optimistic
		id := resp.NewID
		final.PractitionerID = &id
		m.grid = m.grid.withService(a.Category, final)
	}
	return m.grid, nil
}
