package questionnaire

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrQuestionnaireNotFound = errors.New("questionnaire not found")

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateQuestionnaire(ctx context.Context, q Questionnaire, patientEmail string) (*Questionnaire, error)

	// Lookup on cache miss, restricted to the given statuses
	GetQuestionnaire(ctx context.Context, id uuid.UUID, statuses []Status) (*Questionnaire, error)
	ListByPractitioner(ctx context.Context, practitionerID string, limit, offset int) ([]Questionnaire, error)

	// Transitions
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Questionnaire, error)
	CompleteQuestionnaire(ctx context.Context, id uuid.UUID, average float64) (*Questionnaire, error)

	// Expiry worker
	FindStale(ctx context.Context, now time.Time) ([]Questionnaire, error)

	Stats(ctx context.Context, practitionerID string) (*Stats, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
