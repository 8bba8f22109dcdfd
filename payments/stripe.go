package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// IntentSucceeded is the processor status of a paid intent.
const IntentSucceeded = string(stripe.PaymentIntentStatusSucceeded)

// StripeConfirmer confirms payment intents server side with the secret key.
type StripeConfirmer struct {
	API *client.API
}

func NewStripeConfirmer(secretKey string) *StripeConfirmer {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeConfirmer{API: sc}
}

// https://stripe.com/docs/api/payment_intents/confirm
func (s *StripeConfirmer) Confirm(ctx context.Context, intentID, paymentMethodID string) (string, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(ConfirmIdempotencyKey(intentID))

	intent, err := s.API.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			return "", fmt.Errorf("failed to confirm payment intent %v: %v", intentID, stripeErr.Msg)
		}
		return "", fmt.Errorf("failed to confirm payment intent %v: %v", intentID, err.Error())
	}
	return string(intent.Status), nil
}

// ConfirmIdempotencyKey is the same for every confirmation of an intent, so a
// resubmitted confirmation is answered by Stripe without charging twice.
func ConfirmIdempotencyKey(intentID string) string {
	return "confirm-" + intentID
}
