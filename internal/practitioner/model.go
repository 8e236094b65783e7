package practitioner

import (
	"time"

	"github.com/google/uuid"
)

const TierFree = "free"

type Practitioner struct {
	ID               string
	Email            string
	Name             string
	Specialty        *string
	Address          *string
	Postcode         *string
	City             *string
	Lat              *float64
	Lon              *float64
	Tier             string
	StripeCustomerID *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Referral struct {
	ID             uuid.UUID
	PractitionerID string
	Email          string
	CreatedAt      time.Time
}

// PaymentLog is an audit row for a billing provider event
type PaymentLog struct {
	EventID        string
	EventType      string
	PractitionerID *string
	Payload        []byte
	CreatedAt      time.Time
}
