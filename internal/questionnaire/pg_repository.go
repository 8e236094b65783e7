package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const questionnaireColumns = `id, practitioner_id, title, questions, pathology_ref, review_url,
	status, scheduled_at, average_score, created_at, expires_at`

// Helpers

func scanQuestionnaire(row pgx.Row) (*Questionnaire, error) {
	var q Questionnaire
	var questions []byte

	err := row.Scan(
		&q.ID,
		&q.PractitionerID,
		&q.Title,
		&questions,
		&q.PathologyRef,
		&q.ReviewURL,
		&q.Status,
		&q.ScheduledAt,
		&q.AverageScore,
		&q.CreatedAt,
		&q.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionnaireNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(questions, &q.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of %s: %w", q.ID, err)
	}

	return &q, nil
}

func collectQuestionnaires(rows pgx.Rows) ([]Questionnaire, error) {
	defer rows.Close()

	var result []Questionnaire
	for rows.Next() {
		q, err := scanQuestionnaire(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) CreateQuestionnaire(ctx context.Context, q Questionnaire, patientEmail string) (*Questionnaire, error) {
	questions, err := json.Marshal(q.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO questionnaires (id, practitioner_id, title, questions, pathology_ref, review_url,
			patient_email, status, scheduled_at, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), $11)
		RETURNING `+questionnaireColumns,
		q.ID, q.PractitionerID, q.Title, questions, q.PathologyRef, q.ReviewURL,
		patientEmail, q.Status, q.ScheduledAt, q.CreatedAt, q.ExpiresAt)

	return scanQuestionnaire(row)
}

func (r *PgRepository) GetQuestionnaire(ctx context.Context, id uuid.UUID, statuses []Status) (*Questionnaire, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+questionnaireColumns+`
		FROM questionnaires
		WHERE id = $1
		  AND status = ANY($2)
	`, id, statusStrings(statuses))
	return scanQuestionnaire(row)
}

func (r *PgRepository) ListByPractitioner(ctx context.Context, practitionerID string, limit, offset int) ([]Questionnaire, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+questionnaireColumns+`
		FROM questionnaires
		WHERE practitioner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, practitionerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectQuestionnaires(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Questionnaire, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE questionnaires
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+questionnaireColumns,
		id, to, statusStrings(from))

	return scanQuestionnaire(row)
}

func (r *PgRepository) CompleteQuestionnaire(ctx context.Context, id uuid.UUID, average float64) (*Questionnaire, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE questionnaires
		SET status = 'completed',
		    average_score = $2,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'sent')
		RETURNING `+questionnaireColumns,
		id, average)

	return scanQuestionnaire(row)
}

func (r *PgRepository) FindStale(ctx context.Context, now time.Time) ([]Questionnaire, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+questionnaireColumns+`
		FROM questionnaires
		WHERE status IN ('pending', 'sent')
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectQuestionnaires(rows)
}

func (r *PgRepository) Stats(ctx context.Context, practitionerID string) (*Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM questionnaires
		WHERE practitioner_id = $1
		GROUP BY status
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{Counts: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT avg(average_score)
		FROM questionnaires
		WHERE practitioner_id = $1
		  AND status = 'completed'
	`, practitionerID).Scan(&stats.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("average score: %w", err)
	}

	return stats, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, questionnaire_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.QuestionnaireID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
