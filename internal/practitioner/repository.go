package practitioner

import (
	"context"
	"errors"
)

var (
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrAlreadyOnboarded     = errors.New("practitioner already onboarded")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Practitioner, error)
	Create(ctx context.Context, p Practitioner) (*Practitioner, error)
	UpdateProfile(ctx context.Context, p Practitioner) (*Practitioner, error)
	ListAll(ctx context.Context, limit, offset int) ([]Practitioner, error)

	// Billing
	SetSubscription(ctx context.Context, id, tier string, customerID *string) error
	FindByCustomerID(ctx context.Context, customerID string) (*Practitioner, error)
	InsertPaymentLog(ctx context.Context, l PaymentLog) error

	// Referrals
	CreateReferral(ctx context.Context, r Referral) (*Referral, error)
	ListReferrals(ctx context.Context, practitionerID string) ([]Referral, error)
}
