package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"portal-middleware/flow"
	"portal-middleware/models"
)

// Status is the state of a checkout session.
type Status string

const (
	StatusLoading Status = "loading"
	StatusInvalid Status = "invalid"
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// transitions lists the states each state may move to. invalid and paid are
// terminal.
var transitions = map[Status][]Status{
	StatusLoading: {StatusInvalid, StatusPaid, StatusPending, StatusError},
	StatusPending: {StatusPaid, StatusError},
	StatusError:   {StatusLoading},
}

var (
	ErrNotPending         = errors.New("payment is not awaiting checkout")
	ErrCheckoutInProgress = errors.New("a checkout for this payment is already in progress")
)

// TransitionError is returned for a move the state machine does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid payment status transition from %v to %v", e.From, e.To)
}

// Caller is the part of the flow bridge payments use.
type Caller interface {
	Call(ctx context.Context, op flow.Operation, payload interface{}, out interface{}) error
	CallRaw(ctx context.Context, op flow.Operation, payload interface{}) (json.RawMessage, error)
	LocalUserID() string
}

// Session is one payment link being viewed by one user.
type Session struct {
	mu          sync.Mutex
	paymentID   string
	userID      string
	status      Status
	amount      float64
	description string
	lastError   string
	submitting  bool
}

// Snapshot is a copy of a session's state. Amount and Description are only
// set while the payment is pending.
type Snapshot struct {
	PaymentID   string  `json:"paymentId"`
	Status      Status  `json:"status"`
	Amount      float64 `json:"amount,omitempty"`
	Description string  `json:"description,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// NewSession starts in the loading state.
func NewSession(paymentID, userID string) *Session {
	return &Session{
		paymentID: paymentID,
		userID:    userID,
		status:    StatusLoading,
	}
}

func (s *Session) PaymentID() string {
	return s.paymentID
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		PaymentID: s.paymentID,
		Status:    s.status,
		Error:     s.lastError,
	}
	if s.status == StatusPending {
		snap.Amount = s.amount
		snap.Description = s.description
	}
	return snap
}

func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == to {
			s.status = to
			if to != StatusError {
				s.lastError = ""
			}
			return nil
		}
	}
	return &TransitionError{From: s.status, To: to}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if terr := s.transitionLocked(StatusError); terr != nil {
		log.Printf("payment %v: %v", s.paymentID, terr.Error())
		return
	}
	s.lastError = err.Error()
}

// CheckPaymentStatus asks the backend about the session's payment and moves
// the session to invalid, paid, pending or error. A session in the error
// state is retried by going back through loading. Backend failures are
// recorded on the session, not returned; the error is only non-nil when the
// session is in a state that cannot be checked.
func CheckPaymentStatus(ctx context.Context, bridge Caller, s *Session) error {
	s.mu.Lock()
	if s.status == StatusError {
		if err := s.transitionLocked(StatusLoading); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if s.status != StatusLoading {
		from := s.status
		s.mu.Unlock()
		return &TransitionError{From: from, To: StatusLoading}
	}
	if s.paymentID == "" {
		err := s.transitionLocked(StatusInvalid)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	payload := models.PaymentStatusPayload{
		PID:    s.paymentID,
		UserID: bridge.LocalUserID(),
	}
	resp := models.PaymentStatusResponse{}
	if err := bridge.Call(ctx, flow.PaymentStatus, payload, &resp); err != nil {
		log.Printf("failed to check status of payment %v: %v", s.paymentID, err.Error())
		s.fail(err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch resp.Result {
	case string(StatusInvalid):
		return s.transitionLocked(StatusInvalid)
	case string(StatusPaid):
		return s.transitionLocked(StatusPaid)
	case string(StatusPending):
		s.amount = resp.Amount.Float64()
		s.description = resp.Description
		return s.transitionLocked(StatusPending)
	default:
		log.Printf("unexpected status %q for payment %v", resp.Result, s.paymentID)
		if err := s.transitionLocked(StatusError); err != nil {
			return err
		}
		s.lastError = fmt.Sprintf("unexpected payment status %q", resp.Result)
		return nil
	}
}

// beginCheckout claims the session for one submission and returns the amount
// due.
func (s *Session) beginCheckout() (float64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return 0, "", ErrNotPending
	}
	if s.submitting {
		return 0, "", ErrCheckoutInProgress
	}
	s.submitting = true
	return s.amount, s.userID, nil
}

func (s *Session) endCheckout() {
	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
}
