package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

// Expirer closes durable questionnaires that outlived their expiry without
// an answer. It needs only the repository, so the worker can run it alone.
type Expirer struct {
	repo  Repository
	clock ttlstore.Clock
	log   zerolog.Logger
}

func NewExpirer(repo Repository, clock ttlstore.Clock, logger zerolog.Logger) *Expirer {
	if clock == nil {
		clock = ttlstore.SystemClock
	}
	return &Expirer{
		repo:  repo,
		clock: clock,
		log:   logger.With().Str("component", "questionnaire_expirer").Logger(),
	}
}

// ExpireStale marks pending and sent rows past expires_at as expired
func (e *Expirer) ExpireStale(ctx context.Context) (int, error) {
	stale, err := e.repo.FindStale(ctx, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("find stale questionnaires: %w", err)
	}

	expired := 0
	for _, q := range stale {
		_, err := e.repo.UpdateStatus(ctx, q.ID, OpenStatuses, StatusExpired)
		if err != nil {
			if !errors.Is(err, ErrQuestionnaireNotFound) {
				e.log.Error().Err(err).Str("questionnaire_id", q.ID.String()).Msg("failed to expire questionnaire")
			}
			continue
		}
		expired++
		recordEvent(ctx, e.repo, e.clock, e.log, q.ID, EventQuestionnaireExpired, map[string]any{
			"reason": "worker",
		})
	}

	return expired, nil
}

func recordEvent(ctx context.Context, repo Repository, clock ttlstore.Clock, log zerolog.Logger, id uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	qID := id
	ev := EventLog{
		EventType:       eventType,
		QuestionnaireID: &qID,
		Payload:         data,
		CreatedAt:       clock.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("questionnaire_id", id.String()).Msg("failed to insert event log")
	}
}
