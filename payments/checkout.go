package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"portal-middleware/config"
	"portal-middleware/flow"
	"portal-middleware/models"
	"portal-middleware/userdata"
)

// Status codes the payment update workflow stores against a payment record.
const (
	RecordFailed    = 2
	RecordSucceeded = 3
)

// PaymentMethodStripe is recorded as the processor of every payment record.
const PaymentMethodStripe = "stripe"

// reportTimeout bounds the status reports sent once the processor has
// answered. They run even when the request that triggered them was
// cancelled.
const reportTimeout = 15 * time.Second

var (
	ErrNoPaymentIntent = errors.New("failed to create payment intent")
	ErrNoPaymentRecord = errors.New("failed to get new payment record id")
)

// Confirmer confirms a payment intent with the processor and returns the
// intent's resulting status.
type Confirmer interface {
	Confirm(ctx context.Context, intentID, paymentMethodID string) (string, error)
}

// Checkout runs the card checkout choreography for pending sessions.
type Checkout struct {
	Bridge    Caller
	Confirmer Confirmer
	// Journal keeps a per-user trail of every checkout step. Optional.
	Journal  userdata.Store
	Currency string
}

// Submit pays a pending session with the given processor payment method:
//
//  1. create a payment intent for the amount in cents
//  2. create a payment record holding the intent id
//  3. confirm the intent with the processor
//  4. report the terminal status against the record
//
// Any failure once the record exists is followed by a best-effort report of
// the failed status. That report does not refund a charge the processor may
// already have taken. The session ends in paid or error.
func (c *Checkout) Submit(ctx context.Context, s *Session, paymentMethodID string) error {
	amount, userID, err := s.beginCheckout()
	if err != nil {
		return err
	}
	defer s.endCheckout()

	if err := c.submit(ctx, s.PaymentID(), userID, amount, paymentMethodID); err != nil {
		log.Printf("checkout of payment %v failed: %v", s.PaymentID(), err.Error())
		s.fail(err)
		return err
	}
	return s.transition(StatusPaid)
}

func (c *Checkout) submit(ctx context.Context, paymentID, userID string, amount float64, paymentMethodID string) error {
	intent := models.PaymentIntentResponse{}
	err := c.Bridge.Call(ctx, flow.PaymentIntentCreation, models.PaymentIntentPayload{
		Amount:   ToCents(amount),
		Currency: c.currency(),
	}, &intent)
	if err != nil {
		return fmt.Errorf("%v: %w", ErrNoPaymentIntent.Error(), err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return ErrNoPaymentIntent
	}
	c.journal(ctx, userID, paymentID, "intent", intent.ID)

	record := models.PaymentRecordResponse{}
	err = c.Bridge.Call(ctx, flow.PaymentCreation, models.PaymentRecordPayload{
		UserID:              c.Bridge.LocalUserID(),
		BVPaymentID:         paymentID,
		PPPaymentIdentifier: intent.ID,
		PPPaymentMethod:     PaymentMethodStripe,
	}, &record)
	if err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	if record.PPPaymentID == "" {
		return ErrNoPaymentRecord
	}
	recordID := record.PPPaymentID
	c.journal(ctx, userID, paymentID, "record", recordID)

	status, err := c.Confirmer.Confirm(ctx, intent.ID, paymentMethodID)

	// the processor has answered; the backend learns the outcome even if the
	// caller is gone
	rctx, cancel := detach(ctx)
	defer cancel()

	if err != nil {
		c.compensate(rctx, userID, paymentID, recordID)
		return fmt.Errorf("payment confirmation failed: %w", err)
	}
	c.journal(rctx, userID, paymentID, "processor", status)

	if status != IntentSucceeded {
		if err := c.report(rctx, userID, paymentID, recordID, RecordFailed); err != nil {
			c.markUnsynced(rctx, userID, paymentID, RecordFailed)
			return fmt.Errorf("payment did not succeed (status %v) and the failure could not be recorded: %w", status, err)
		}
		return fmt.Errorf("payment did not succeed. status: %v", status)
	}

	if err := c.report(rctx, userID, paymentID, recordID, RecordSucceeded); err != nil {
		c.compensate(rctx, userID, paymentID, recordID)
		return fmt.Errorf("failed to record successful payment: %w", err)
	}
	return nil
}

// report sends the terminal status of a record to the backend.
func (c *Checkout) report(ctx context.Context, userID, paymentID, recordID string, code int) error {
	err := c.Bridge.Call(ctx, flow.PaymentUpdate, models.PaymentUpdatePayload{
		PPPaymentID:     recordID,
		PPPaymentStatus: code,
	}, nil)
	if err != nil {
		return err
	}
	c.journal(ctx, userID, paymentID, "status", strconv.Itoa(code))
	return nil
}

// compensate marks the record failed. ctx is expected to be detached from
// the caller's cancellation.
func (c *Checkout) compensate(ctx context.Context, userID, paymentID, recordID string) {
	if err := c.report(ctx, userID, paymentID, recordID, RecordFailed); err != nil {
		log.Printf("failed to mark payment record %v as failed: %v", recordID, err.Error())
		c.markUnsynced(ctx, userID, paymentID, RecordFailed)
	}
}

// detach keeps the values of ctx but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
}

func (c *Checkout) markUnsynced(ctx context.Context, userID, paymentID string, code int) {
	c.journal(ctx, userID, paymentID, "unsynced", strconv.Itoa(code))
}

func (c *Checkout) journal(ctx context.Context, userID, paymentID, step, value string) {
	if c.Journal == nil {
		return
	}
	if err := c.Journal.Set(ctx, userID, JournalField(paymentID, step), value); err != nil {
		log.Printf("failed to journal %v of payment %v: %v", step, paymentID, err.Error())
	}
}

func (c *Checkout) currency() string {
	if c.Currency == "" {
		return config.DefaultCurrency
	}
	return c.Currency
}

// JournalField is the user data field holding one checkout step of a payment.
func JournalField(paymentID, step string) string {
	return "payment:" + paymentID + ":" + step
}

// ToCents converts a major-unit amount to the processor's minor units.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
