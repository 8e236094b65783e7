package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/practitioner"
)

const dedupeTTL = 48 * time.Hour

var (
	ErrUnknownTier     = errors.New("unknown subscription tier")
	ErrNoCustomer      = errors.New("no billing account yet")
	ErrProviderFailure = errors.New("billing provider error")
)

// Accounts is the practitioner storage billing needs
type Accounts interface {
	GetByID(ctx context.Context, id string) (*practitioner.Practitioner, error)
	SetSubscription(ctx context.Context, id, tier string, customerID *string) error
	FindByCustomerID(ctx context.Context, customerID string) (*practitioner.Practitioner, error)
	InsertPaymentLog(ctx context.Context, l practitioner.PaymentLog) error
}

// Deduper remembers keys for a while so retried deliveries are applied once
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Service struct {
	provider Provider
	accounts Accounts
	dedupe   Deduper
	prices   map[string]string
	log      zerolog.Logger
}

func NewService(provider Provider, accounts Accounts, dedupe Deduper, prices map[string]string, logger zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		accounts: accounts,
		dedupe:   dedupe,
		prices:   prices,
		log:      logger.With().Str("component", "billing").Logger(),
	}
}

// Checkout returns the provider page where the practitioner pays for tier
func (s *Service) Checkout(ctx context.Context, practitionerID, tier string) (string, error) {
	price, ok := s.prices[tier]
	if !ok {
		return "", ErrUnknownTier
	}

	p, err := s.accounts.GetByID(ctx, practitionerID)
	if err != nil {
		return "", err
	}

	in := CheckoutInput{PriceID: price, Tier: tier, UserID: p.ID, Email: p.Email}
	if p.StripeCustomerID != nil {
		in.CustomerID = *p.StripeCustomerID
	}

	url, err := s.provider.CheckoutURL(ctx, in)
	if err != nil {
		s.log.Error().Err(err).Str("practitioner_id", p.ID).Msg("checkout session failed")
		return "", fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return url, nil
}

// Portal returns the self service billing page of the practitioner
func (s *Service) Portal(ctx context.Context, practitionerID string) (string, error) {
	p, err := s.accounts.GetByID(ctx, practitionerID)
	if err != nil {
		return "", err
	}
	if p.StripeCustomerID == nil {
		return "", ErrNoCustomer
	}

	url, err := s.provider.PortalURL(ctx, *p.StripeCustomerID)
	if err != nil {
		s.log.Error().Err(err).Str("practitioner_id", p.ID).Msg("portal session failed")
		return "", fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return url, nil
}

// HandleWebhook verifies and applies a provider event at most once
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	key := "webhook:billing:" + ev.ID
	first, err := s.dedupe.FirstSeen(ctx, key, dedupeTTL)
	if err != nil {
		// updates below are idempotent
		s.log.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook dedupe unavailable")
		first = true
	}
	if !first {
		s.log.Info().Str("event_id", ev.ID).Msg("duplicate webhook ignored")
		return nil
	}

	practitionerID, err := s.apply(ctx, ev)
	if err != nil {
		if ferr := s.dedupe.Forget(ctx, key); ferr != nil {
			s.log.Warn().Err(ferr).Str("event_id", ev.ID).Msg("failed to release webhook key")
		}
		return err
	}

	if err := s.accounts.InsertPaymentLog(ctx, practitioner.PaymentLog{
		EventID:        ev.ID,
		EventType:      ev.Type,
		PractitionerID: practitionerID,
		Payload:        ev.Raw,
	}); err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to write payment log")
	}

	return nil
}

func (s *Service) apply(ctx context.Context, ev Event) (*string, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.UserID == "" || ev.Tier == "" {
			s.log.Warn().Str("event_id", ev.ID).Msg("checkout event without user or tier")
			return nil, nil
		}
		var customer *string
		if ev.CustomerID != "" {
			customer = &ev.CustomerID
		}
		if err := s.accounts.SetSubscription(ctx, ev.UserID, ev.Tier, customer); err != nil {
			return nil, fmt.Errorf("apply checkout: %w", err)
		}
		s.log.Info().Str("practitioner_id", ev.UserID).Str("tier", ev.Tier).Msg("subscription activated")
		return &ev.UserID, nil

	case EventSubscriptionDeleted:
		p, err := s.accounts.FindByCustomerID(ctx, ev.CustomerID)
		if err != nil {
			if errors.Is(err, practitioner.ErrPractitionerNotFound) {
				s.log.Warn().Str("event_id", ev.ID).Msg("subscription deleted for unknown customer")
				return nil, nil
			}
			return nil, fmt.Errorf("find customer: %w", err)
		}
		if err := s.accounts.SetSubscription(ctx, p.ID, practitioner.TierFree, nil); err != nil {
			return nil, fmt.Errorf("apply cancellation: %w", err)
		}
		s.log.Info().Str("practitioner_id", p.ID).Msg("subscription ended")
		return &p.ID, nil
	}

	return nil, nil
}
