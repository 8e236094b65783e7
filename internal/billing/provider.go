package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

type CheckoutInput struct {
	PriceID    string
	Tier       string
	UserID     string
	Email      string
	CustomerID string
}

// Event is the subset of a billing provider event the service acts on
type Event struct {
	ID         string
	Type       string
	UserID     string
	CustomerID string
	Tier       string
	Raw        []byte
}

// Provider is the billing API
type Provider interface {
	CheckoutURL(ctx context.Context, in CheckoutInput) (string, error)
	PortalURL(ctx context.Context, customerID string) (string, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

type stripeProvider struct {
	webhookSecret string
	returnURL     string
}

// NewStripeProvider configures the Stripe client. returnURL is where the
// provider sends the user back to.
func NewStripeProvider(secretKey, webhookSecret, returnURL string) Provider {
	stripe.Key = secretKey
	return &stripeProvider{webhookSecret: webhookSecret, returnURL: returnURL}
}

func (p *stripeProvider) CheckoutURL(ctx context.Context, in CheckoutInput) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(p.returnURL + "?checkout=success"),
		CancelURL:         stripe.String(p.returnURL + "?checkout=cancelled"),
		ClientReferenceID: stripe.String(in.UserID),
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	params.Context = ctx
	params.AddMetadata("tier", in.Tier)
	params.AddMetadata("user_id", in.UserID)

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return s.URL, nil
}

func (p *stripeProvider) PortalURL(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.returnURL),
	}
	params.Context = ctx

	s, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return s.URL, nil
}

func (p *stripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type), Raw: payload}

	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return Event{}, fmt.Errorf("decode checkout session: %w", err)
		}
		out.UserID = cs.ClientReferenceID
		out.Tier = cs.Metadata["tier"]
		if cs.Customer != nil {
			out.CustomerID = cs.Customer.ID
		}
	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return Event{}, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	}

	return out, nil
}
