package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Escrow is the payment collaborator for the match-request lifecycle: funds
// are held when a request is paid, released to the traveler on confirmed
// delivery, and refunded to the sender when a dispute resolves that way.
type Escrow interface {
	Hold(ctx context.Context, amountCents int64, currency, customerID string) (string, error)
	Release(ctx context.Context, ref string) error
	Refund(ctx context.Context, ref string) error
}

// StripeEscrow implements Escrow on PaymentIntents with manual capture:
// Hold creates the intent, Release captures it, Refund cancels the hold.
type StripeEscrow struct{}

// NewStripeEscrow initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeEscrow() *StripeEscrow {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeEscrow{}
}

func (s *StripeEscrow) Hold(ctx context.Context, amountCents int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeEscrow) Release(ctx context.Context, ref string) error {
	_, err := paymentintent.Capture(ref, nil)
	return err
}

func (s *StripeEscrow) Refund(ctx context.Context, ref string) error {
	_, err := paymentintent.Cancel(ref, nil)
	return err
}
