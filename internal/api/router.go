package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/auth"
	"github.com/hackgods/practice-feedback/internal/consultation"
	"github.com/hackgods/practice-feedback/internal/practitioner"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
)

type NoteService interface {
	Create(practitionerID, patientRef, text string) (*consultation.Note, error)
	Get(practitionerID, id string) (*consultation.Note, error)
	Delete(practitionerID, id string) error
}

type QuestionnaireService interface {
	Issue(ctx context.Context, practitionerID, practitionerName string, in questionnaire.IssueInput) (*questionnaire.Questionnaire, error)
	CancelScheduled(ctx context.Context, practitionerID string, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*questionnaire.Questionnaire, error)
	Submit(ctx context.Context, id uuid.UUID, answers []int) (*questionnaire.SubmitResult, error)
	ViewResponse(practitionerID string, id uuid.UUID) (*questionnaire.Response, error)
	List(ctx context.Context, practitionerID string, limit, offset int) ([]questionnaire.Questionnaire, error)
	Stats(ctx context.Context, practitionerID string) (*questionnaire.Stats, error)
}

type PractitionerService interface {
	Profile(ctx context.Context, id string) (*practitioner.Practitioner, error)
	Onboard(ctx context.Context, id, email string, in practitioner.OnboardInput) (*practitioner.Practitioner, error)
	UpdateProfile(ctx context.Context, id string, in practitioner.ProfileInput) (*practitioner.Practitioner, error)
	ListAll(ctx context.Context, limit, offset int) ([]practitioner.Practitioner, error)
	Refer(ctx context.Context, practitionerID, email string) (*practitioner.Referral, error)
	Referrals(ctx context.Context, practitionerID string) ([]practitioner.Referral, error)
}

type BillingService interface {
	Checkout(ctx context.Context, practitionerID, tier string) (string, error)
	Portal(ctx context.Context, practitionerID string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type RouterConfig struct {
	Notes          NoteService
	Questionnaires QuestionnaireService
	Practitioners  PractitionerService
	Billing        BillingService
	Verifier       *auth.Verifier
	Postgres       Checker
	Redis          Checker
	Logger         zerolog.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Patients and the billing provider are not signed in
	r.Get("/public/questionnaires/{id}", getPublicQuestionnaireHandler(cfg.Questionnaires))
	r.Post("/public/questionnaires/{id}/responses", submitResponseHandler(cfg.Questionnaires))
	r.Post("/billing/webhook", billingWebhookHandler(cfg.Billing))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Post("/consultations", createNoteHandler(cfg.Notes))
		r.Get("/consultations/{id}", getNoteHandler(cfg.Notes))
		r.Delete("/consultations/{id}", deleteNoteHandler(cfg.Notes))

		r.Post("/questionnaires", issueQuestionnaireHandler(cfg.Questionnaires, cfg.Practitioners))
		r.Get("/questionnaires", listQuestionnairesHandler(cfg.Questionnaires))
		r.Get("/questionnaires/stats", questionnaireStatsHandler(cfg.Questionnaires))
		r.Delete("/questionnaires/{id}/schedule", cancelScheduleHandler(cfg.Questionnaires))
		r.Get("/questionnaires/{id}/response", viewResponseHandler(cfg.Questionnaires))

		r.Get("/me", getProfileHandler(cfg.Practitioners))
		r.Put("/me", updateProfileHandler(cfg.Practitioners))
		r.Post("/onboarding", onboardHandler(cfg.Practitioners))
		r.Post("/referrals", referHandler(cfg.Practitioners))
		r.Get("/referrals", listReferralsHandler(cfg.Practitioners))

		r.Post("/billing/checkout", checkoutHandler(cfg.Billing))
		r.Post("/billing/portal", portalHandler(cfg.Billing))

		r.With(RequireAdmin).Get("/admin/practitioners", listPractitionersHandler(cfg.Practitioners))
	})

	return r
}
