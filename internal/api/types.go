package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-feedback/internal/consultation"
	"github.com/hackgods/practice-feedback/internal/practitioner"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type CreateNoteRequest struct {
	PatientRef string `json:"patient_ref"`
	Text       string `json:"text"`
}

type NoteResponse struct {
	ID         string    `json:"id"`
	PatientRef string    `json:"patient_ref"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func toNoteResponse(n *consultation.Note) NoteResponse {
	return NoteResponse{
		ID:         n.ID,
		PatientRef: n.PatientRef,
		Text:       n.Text,
		CreatedAt:  n.CreatedAt,
		ExpiresAt:  n.ExpiresAt,
	}
}

type QuestionPayload struct {
	Prompt    string `json:"prompt"`
	LowLabel  string `json:"low_label"`
	HighLabel string `json:"high_label"`
}

type IssueQuestionnaireRequest struct {
	Title        string            `json:"title"`
	Questions    []QuestionPayload `json:"questions"`
	PathologyRef *string           `json:"pathology_ref,omitempty"`
	ReviewURL    *string           `json:"review_url,omitempty"`
	PatientEmail string            `json:"patient_email"`
	SendAt       *time.Time        `json:"send_at,omitempty"`
}

// QuestionnaireResponse is the practitioner view
type QuestionnaireResponse struct {
	ID           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	Questions    []QuestionPayload `json:"questions"`
	PathologyRef *string           `json:"pathology_ref,omitempty"`
	ReviewURL    *string           `json:"review_url,omitempty"`
	Status       string            `json:"status"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	AverageScore *float64          `json:"average_score,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// PublicQuestionnaireResponse is what the patient sees
type PublicQuestionnaireResponse struct {
	ID           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	Questions    []QuestionPayload `json:"questions"`
	PathologyRef *string           `json:"pathology_ref,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

type SubmitAnswersRequest struct {
	Answers []int `json:"answers"`
}

type SubmitAnswersResponse struct {
	Average     float64 `json:"average"`
	RedirectURL *string `json:"redirect_url,omitempty"`
}

type ResponseView struct {
	QuestionnaireID uuid.UUID  `json:"questionnaire_id"`
	Answers         []int      `json:"answers"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ViewedAt        *time.Time `json:"viewed_at,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
}

type StatsResponse struct {
	Counts       map[string]int `json:"counts"`
	AverageScore *float64       `json:"average_score,omitempty"`
}

func toQuestions(in []questionnaire.Question) []QuestionPayload {
	out := make([]QuestionPayload, len(in))
	for i, q := range in {
		out[i] = QuestionPayload{Prompt: q.Prompt, LowLabel: q.LowLabel, HighLabel: q.HighLabel}
	}
	return out
}

func fromQuestions(in []QuestionPayload) []questionnaire.Question {
	out := make([]questionnaire.Question, len(in))
	for i, q := range in {
		out[i] = questionnaire.Question{Prompt: q.Prompt, LowLabel: q.LowLabel, HighLabel: q.HighLabel}
	}
	return out
}

func toQuestionnaireResponse(q *questionnaire.Questionnaire) QuestionnaireResponse {
	return QuestionnaireResponse{
		ID:           q.ID,
		Title:        q.Title,
		Questions:    toQuestions(q.Questions),
		PathologyRef: q.PathologyRef,
		ReviewURL:    q.ReviewURL,
		Status:       string(q.Status),
		ScheduledAt:  q.ScheduledAt,
		AverageScore: q.AverageScore,
		CreatedAt:    q.CreatedAt,
		ExpiresAt:    q.ExpiresAt,
	}
}

type OnboardRequest struct {
	Name      string  `json:"name"`
	Specialty *string `json:"specialty,omitempty"`
}

type UpdateProfileRequest struct {
	Name      string  `json:"name"`
	Specialty *string `json:"specialty,omitempty"`
	Address   *string `json:"address,omitempty"`
	Postcode  *string `json:"postcode,omitempty"`
}

type PractitionerResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Specialty *string  `json:"specialty,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Postcode  *string  `json:"postcode,omitempty"`
	City      *string  `json:"city,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Tier      string   `json:"subscription_tier"`
}

func toPractitionerResponse(p *practitioner.Practitioner) PractitionerResponse {
	return PractitionerResponse{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		Specialty: p.Specialty,
		Address:   p.Address,
		Postcode:  p.Postcode,
		City:      p.City,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Tier:      p.Tier,
	}
}

type ReferralRequest struct {
	Email string `json:"email"`
}

type ReferralResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type CheckoutRequest struct {
	Tier string `json:"tier"`
}

type RedirectResponse struct {
	URL string `json:"url"`
}
