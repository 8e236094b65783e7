package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/mailer"
	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

const (
	EventQuestionnaireIssued    = "QUESTIONNAIRE_ISSUED"
	EventQuestionnaireSent      = "QUESTIONNAIRE_SENT"
	EventQuestionnaireCancelled = "QUESTIONNAIRE_CANCELLED"
	EventQuestionnaireCompleted = "QUESTIONNAIRE_COMPLETED"
	EventQuestionnaireExpired   = "QUESTIONNAIRE_EXPIRED"
)

const (
	maxQuestions   = 20
	maxTitleLength = 200
	// average at or above which the patient is offered the review link
	reviewThreshold = 4.0
)

var (
	ErrInvalidQuestionnaire = errors.New("invalid questionnaire")
	ErrInvalidAnswers       = errors.New("invalid answers")
	ErrResponseNotFound     = errors.New("response not found")
	ErrNothingScheduled     = errors.New("no scheduled email for this questionnaire")
	ErrEmailFailed          = errors.New("invitation email could not be sent")
)

// EmailScheduler defers invitation emails. The service registers a callback
// that runs after each successful deferred send.
type EmailScheduler interface {
	ScheduleOnce(key, practitioner, recipient, link string, sendAt time.Time) error
	Cancel(key string) bool
	OnSent(fn func(key string))
}

type Config struct {
	QuestionnaireTTL time.Duration
	ResponseTTL      time.Duration
	ResponseViewTTL  time.Duration
	PublicBaseURL    string
	EmailFrom        string
}

type Service struct {
	repo           Repository
	questionnaires *ttlstore.Store[Questionnaire]
	responses      *ttlstore.Store[Response]
	sender         mailer.Sender
	scheduler      EmailScheduler
	clock          ttlstore.Clock
	cfg            Config
	log            zerolog.Logger
	expirer        *Expirer
}

type Deps struct {
	Repo           Repository
	Questionnaires *ttlstore.Store[Questionnaire]
	Responses      *ttlstore.Store[Response]
	Sender         mailer.Sender
	Scheduler      EmailScheduler
	Clock          ttlstore.Clock
	Logger         zerolog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = ttlstore.SystemClock
	}
	logger := deps.Logger.With().Str("component", "questionnaire").Logger()
	s := &Service{
		repo:           deps.Repo,
		questionnaires: deps.Questionnaires,
		responses:      deps.Responses,
		sender:         deps.Sender,
		scheduler:      deps.Scheduler,
		clock:          clock,
		cfg:            cfg,
		log:            logger,
		expirer:        NewExpirer(deps.Repo, clock, deps.Logger),
	}
	if s.scheduler != nil {
		s.scheduler.OnSent(s.markScheduledSent)
	}
	return s
}

type IssueInput struct {
	Title        string
	Questions    []Question
	PathologyRef *string
	ReviewURL    *string
	PatientEmail string
	SendAt       *time.Time
}

// Issue records a questionnaire, keeps it in memory for fast patient access
// and either emails the patient now or schedules the email.
func (s *Service) Issue(ctx context.Context, practitionerID, practitionerName string, in IssueInput) (*Questionnaire, error) {
	now := s.clock.Now()
	if err := s.validateIssue(in, now); err != nil {
		return nil, err
	}

	var scheduledAt *time.Time
	if in.SendAt != nil && in.SendAt.After(now) {
		at := *in.SendAt
		scheduledAt = &at
	}

	created, err := s.repo.CreateQuestionnaire(ctx, Questionnaire{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Title:          strings.TrimSpace(in.Title),
		Questions:      in.Questions,
		PathologyRef:   in.PathologyRef,
		ReviewURL:      in.ReviewURL,
		Status:         StatusPending,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.QuestionnaireTTL),
	}, in.PatientEmail)
	if err != nil {
		return nil, fmt.Errorf("create questionnaire: %w", err)
	}

	key := created.ID.String()
	s.questionnaires.Put(key, *created, created.ExpiresAt.Sub(now))
	s.logEvent(ctx, created.ID, EventQuestionnaireIssued, map[string]any{
		"questions": len(created.Questions),
		"scheduled": scheduledAt != nil,
	})

	link := s.link(created.ID)

	if scheduledAt != nil {
		if err := s.scheduler.ScheduleOnce(key, practitionerName, in.PatientEmail, link, *scheduledAt); err != nil {
			return nil, fmt.Errorf("schedule invitation: %w", err)
		}
		return created, nil
	}

	subject, html, err := mailer.Invitation(practitionerName, link)
	if err != nil {
		return nil, err
	}
	err = s.sender.Send(ctx, mailer.Message{
		From:    s.cfg.EmailFrom,
		To:      in.PatientEmail,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		s.log.Error().Err(err).Str("questionnaire_id", key).Msg("invitation send failed")
		s.withdraw(ctx, created.ID)
		return nil, fmt.Errorf("%w: %v", ErrEmailFailed, err)
	}

	updated, err := s.repo.UpdateStatus(ctx, created.ID, []Status{StatusPending}, StatusSent)
	if err != nil {
		return nil, fmt.Errorf("mark questionnaire sent: %w", err)
	}
	s.questionnaires.Update(key, func(q Questionnaire) (Questionnaire, time.Duration) {
		q.Status = StatusSent
		return q, ttlstore.KeepTTL
	})
	s.logEvent(ctx, updated.ID, EventQuestionnaireSent, map[string]any{})

	return updated, nil
}

// withdraw closes a questionnaire whose invitation never reached the patient
func (s *Service) withdraw(ctx context.Context, id uuid.UUID) {
	s.questionnaires.Delete(id.String())
	if _, err := s.repo.UpdateStatus(ctx, id, []Status{StatusPending}, StatusExpired); err != nil {
		s.log.Error().Err(err).Str("questionnaire_id", id.String()).Msg("failed to withdraw questionnaire")
		return
	}
	s.logEvent(ctx, id, EventQuestionnaireExpired, map[string]any{"reason": "send_failed"})
}

// markScheduledSent runs on the scheduler's goroutine once a deferred
// invitation has been handed to the email provider.
func (s *Service) markScheduledSent(key string) {
	id, err := uuid.Parse(key)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.repo.UpdateStatus(ctx, id, []Status{StatusPending}, StatusSent); err != nil {
		if !errors.Is(err, ErrQuestionnaireNotFound) {
			s.log.Error().Err(err).Str("questionnaire_id", key).Msg("failed to mark scheduled questionnaire sent")
		}
		return
	}
	s.questionnaires.Update(key, func(q Questionnaire) (Questionnaire, time.Duration) {
		q.Status = StatusSent
		return q, ttlstore.KeepTTL
	})
	s.logEvent(ctx, id, EventQuestionnaireSent, map[string]any{"scheduled": true})
}

// CancelScheduled drops an invitation email that has not been sent yet
func (s *Service) CancelScheduled(ctx context.Context, practitionerID string, id uuid.UUID) error {
	q, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if q.PractitionerID != practitionerID {
		return ErrQuestionnaireNotFound
	}

	key := id.String()
	if !s.scheduler.Cancel(key) {
		return ErrNothingScheduled
	}

	if _, err := s.repo.UpdateStatus(ctx, id, []Status{StatusPending}, StatusExpired); err != nil && !errors.Is(err, ErrQuestionnaireNotFound) {
		return fmt.Errorf("expire cancelled questionnaire: %w", err)
	}
	s.questionnaires.Delete(key)
	s.logEvent(ctx, id, EventQuestionnaireCancelled, map[string]any{})

	return nil
}

// Get looks in memory first and falls back to the durable store, since
// another process may have issued the questionnaire.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Questionnaire, error) {
	key := id.String()
	if q, ok := s.questionnaires.Get(key); ok {
		return &q, nil
	}

	q, err := s.repo.GetQuestionnaire(ctx, id, OpenStatuses)
	if err != nil {
		if errors.Is(err, ErrQuestionnaireNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}

	remaining := q.ExpiresAt.Sub(s.clock.Now())
	if remaining <= 0 {
		return nil, ErrQuestionnaireNotFound
	}
	s.questionnaires.Put(key, *q, remaining)

	return q, nil
}

type SubmitResult struct {
	Average     float64
	RedirectURL *string
}

// Submit records the patient's answers and closes the questionnaire
func (s *Service) Submit(ctx context.Context, id uuid.UUID, answers []int) (*SubmitResult, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(answers) != len(q.Questions) {
		return nil, fmt.Errorf("%w: expected %d answers, got %d", ErrInvalidAnswers, len(q.Questions), len(answers))
	}
	sum := 0
	for i, a := range answers {
		if a < MinScore || a > MaxScore {
			return nil, fmt.Errorf("%w: answer %d out of range", ErrInvalidAnswers, i+1)
		}
		sum += a
	}
	average := float64(sum) / float64(len(answers))

	if _, err := s.repo.CompleteQuestionnaire(ctx, id, average); err != nil {
		if errors.Is(err, ErrQuestionnaireNotFound) {
			s.questionnaires.Delete(id.String())
			return nil, err
		}
		return nil, fmt.Errorf("complete questionnaire: %w", err)
	}

	now := s.clock.Now()
	key := id.String()
	s.responses.Put(key, Response{
		QuestionnaireID: id,
		PractitionerID:  q.PractitionerID,
		Answers:         append([]int(nil), answers...),
		SubmittedAt:     now,
		ExpiresAt:       now.Add(s.cfg.ResponseTTL),
	}, s.cfg.ResponseTTL)
	s.questionnaires.Delete(key)

	s.logEvent(ctx, id, EventQuestionnaireCompleted, map[string]any{"average": average})

	result := &SubmitResult{Average: average}
	if average >= reviewThreshold && q.ReviewURL != nil {
		result.RedirectURL = q.ReviewURL
	}
	return result, nil
}

// ViewResponse returns a response to its practitioner. The first view stamps
// ViewedAt and shortens the remaining lifetime to the view ttl.
func (s *Service) ViewResponse(practitionerID string, id uuid.UUID) (*Response, error) {
	key := id.String()

	r, ok := s.responses.Get(key)
	if !ok || r.PractitionerID != practitionerID {
		return nil, ErrResponseNotFound
	}

	viewed, _, ok := s.responses.Update(key, func(r Response) (Response, time.Duration) {
		if r.ViewedAt != nil {
			return r, ttlstore.KeepTTL
		}
		now := s.clock.Now()
		ttl := s.cfg.ResponseViewTTL
		if remaining := r.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
		r.ViewedAt = &now
		r.ExpiresAt = now.Add(ttl)
		return r, ttl
	})
	if !ok {
		return nil, ErrResponseNotFound
	}

	return &viewed, nil
}

// List returns a page of the practitioner's questionnaires
func (s *Service) List(ctx context.Context, practitionerID string, limit, offset int) ([]Questionnaire, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.ListByPractitioner(ctx, practitionerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list questionnaires: %w", err)
	}
	return list, nil
}

func (s *Service) Stats(ctx context.Context, practitionerID string) (*Stats, error) {
	stats, err := s.repo.Stats(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("questionnaire stats: %w", err)
	}
	return stats, nil
}

// ExpireStale is intended to be called by the worker periodically
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	return s.expirer.ExpireStale(ctx)
}

func (s *Service) link(id uuid.UUID) string {
	return s.cfg.PublicBaseURL + "/q/" + id.String()
}

func (s *Service) validateIssue(in IssueInput, now time.Time) error {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxTitleLength {
		return fmt.Errorf("%w: title is required and at most %d characters", ErrInvalidQuestionnaire, maxTitleLength)
	}
	if len(in.Questions) == 0 || len(in.Questions) > maxQuestions {
		return fmt.Errorf("%w: between 1 and %d questions required", ErrInvalidQuestionnaire, maxQuestions)
	}
	for i, q := range in.Questions {
		if strings.TrimSpace(q.Prompt) == "" || strings.TrimSpace(q.LowLabel) == "" || strings.TrimSpace(q.HighLabel) == "" {
			return fmt.Errorf("%w: question %d needs a prompt and both scale labels", ErrInvalidQuestionnaire, i+1)
		}
	}
	if in.ReviewURL != nil {
		u, err := url.Parse(*in.ReviewURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: review url must be an http(s) url", ErrInvalidQuestionnaire)
		}
	}
	if _, err := mail.ParseAddress(in.PatientEmail); err != nil {
		return fmt.Errorf("%w: patient email is invalid", ErrInvalidQuestionnaire)
	}
	if in.SendAt != nil && !in.SendAt.Before(now.Add(s.cfg.QuestionnaireTTL)) {
		return fmt.Errorf("%w: send time is after the questionnaire expires", ErrInvalidQuestionnaire)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, id uuid.UUID, eventType string, payload map[string]any) {
	recordEvent(ctx, s.repo, s.clock, s.log, id, eventType, payload)
}
