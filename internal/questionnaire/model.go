package questionnaire

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Open statuses can still be answered by the patient
var OpenStatuses = []Status{StatusPending, StatusSent}

const (
	MinScore = 1
	MaxScore = 5
)

// Question is a Likert item scored from 1 to 5
type Question struct {
	Prompt    string `json:"prompt"`
	LowLabel  string `json:"low_label"`
	HighLabel string `json:"high_label"`
}

type Questionnaire struct {
	ID             uuid.UUID
	PractitionerID string
	Title          string
	Questions      []Question
	PathologyRef   *string
	ReviewURL      *string
	Status         Status
	ScheduledAt    *time.Time
	AverageScore   *float64
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Response shares its ID with the questionnaire it answers
type Response struct {
	QuestionnaireID uuid.UUID
	PractitionerID  string
	Answers         []int
	SubmittedAt     time.Time
	ViewedAt        *time.Time
	ExpiresAt       time.Time
}

type Stats struct {
	Counts       map[Status]int
	AverageScore *float64
}

type EventLog struct {
	ID              int64
	EventType       string
	QuestionnaireID *uuid.UUID
	Payload         []byte
	CreatedAt       time.Time
}
