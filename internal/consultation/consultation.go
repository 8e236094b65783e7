// Package consultation keeps free text consultation notes for a short while.
package consultation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

const maxNoteLength = 10000

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrInvalidNote  = errors.New("patient reference and note text are required")
	ErrNoteTooLong  = errors.New("note text is too long")
)

type Note struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"-"`
	PatientRef     string    `json:"patient_ref"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Service struct {
	store *ttlstore.Store[Note]
	clock ttlstore.Clock
	ttl   time.Duration
}

func NewService(store *ttlstore.Store[Note], clock ttlstore.Clock, ttl time.Duration) *Service {
	if clock == nil {
		clock = ttlstore.SystemClock
	}
	return &Service{store: store, clock: clock, ttl: ttl}
}

// Create stores a note owned by practitionerID
func (s *Service) Create(practitionerID, patientRef, text string) (*Note, error) {
	patientRef = strings.TrimSpace(patientRef)
	if patientRef == "" || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidNote
	}
	if len(text) > maxNoteLength {
		return nil, ErrNoteTooLong
	}

	n := Note{
		ID:             uuid.NewString(),
		PractitionerID: practitionerID,
		PatientRef:     patientRef,
		Text:           text,
		CreatedAt:      s.clock.Now(),
	}
	n.ExpiresAt = n.CreatedAt.Add(s.ttl)
	s.store.Put(n.ID, n, s.ttl)
	return &n, nil
}

// Get returns a live note. Notes owned by someone else are reported as missing.
func (s *Service) Get(practitionerID, id string) (*Note, error) {
	n, ok := s.store.Get(id)
	if !ok || n.PractitionerID != practitionerID {
		return nil, ErrNoteNotFound
	}
	return &n, nil
}

func (s *Service) Delete(practitionerID, id string) error {
	if _, err := s.Get(practitionerID, id); err != nil {
		return err
	}
	if !s.store.Delete(id) {
		return ErrNoteNotFound
	}
	return nil
}
