package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/practice-feedback/internal/db"
	"github.com/hackgods/practice-feedback/internal/logging"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
)

func main() {
	logging.Init("seed", "dev")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	ids, err := seedPractitioners(context.Background(), pool, 50)
	if err != nil {
		log.Fatal().Err(err).Msg("seed practitioners")
	}
	if err := seedQuestionnaires(context.Background(), pool, ids, 20); err != nil {
		log.Fatal().Err(err).Msg("seed questionnaires")
	}

	log.Info().Msg("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]string, error) {
	log.Info().Int("count", count).Msg("seeding practitioners")

	specialties := []string{
		"Kinésithérapie",
		"Ostéopathie",
		"Médecine générale",
		"Podologie",
		"Orthophonie",
		"Psychologie",
		"Sage-femme",
		"Diététique",
	}
	tiers := []string{"free", "essential", "pro", "clinic"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		addr := gofakeit.Address()

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, email, name, specialty, address, postcode, city, lat, lon,
				subscription_tier, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		`, id, gofakeit.Email(), gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)],
			addr.Street, addr.Zip, addr.City, addr.Latitude, addr.Longitude,
			tiers[gofakeit.Number(0, len(tiers)-1)])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("practitioners seeded")
	return ids, nil
}

// seedQuestionnaires adds completed questionnaires so stats have data
func seedQuestionnaires(ctx context.Context, pool *pgxpool.Pool, practitioners []string, perPractitioner int) error {
	questions, err := json.Marshal([]questionnaire.Question{
		{Prompt: "Comment évaluez-vous votre douleur aujourd'hui ?", LowLabel: "Très forte", HighLabel: "Aucune"},
		{Prompt: "Les exercices étaient-ils clairs ?", LowLabel: "Pas du tout", HighLabel: "Très clairs"},
		{Prompt: "Recommanderiez-vous ce cabinet ?", LowLabel: "Non", HighLabel: "Oui, sans hésiter"},
	})
	if err != nil {
		return err
	}

	for n, practitionerID := range practitioners {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := 0; i < perPractitioner; i++ {
			created := gofakeit.DateRange(time.Now().AddDate(0, -3, 0), time.Now())
			score := gofakeit.Float64Range(questionnaire.MinScore, questionnaire.MaxScore)

			_, err := tx.Exec(ctx, `
				INSERT INTO questionnaires (id, practitioner_id, title, questions, patient_email, status,
					average_score, completed_at, created_at, updated_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8, $10)
			`, uuid.New(), practitionerID, "Suivi de séance", questions, gofakeit.Email(),
				questionnaire.StatusCompleted, score, created.Add(24*time.Hour), created, created.Add(7*24*time.Hour))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info().Int("done", n+1).Int("total", len(practitioners)).Msg("questionnaires seeded")
	}

	return nil
}
