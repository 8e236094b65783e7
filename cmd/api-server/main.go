package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/practice-feedback/internal/api"
	"github.com/hackgods/practice-feedback/internal/auth"
	"github.com/hackgods/practice-feedback/internal/billing"
	"github.com/hackgods/practice-feedback/internal/config"
	"github.com/hackgods/practice-feedback/internal/consultation"
	"github.com/hackgods/practice-feedback/internal/db"
	"github.com/hackgods/practice-feedback/internal/geocode"
	"github.com/hackgods/practice-feedback/internal/logging"
	"github.com/hackgods/practice-feedback/internal/mailer"
	"github.com/hackgods/practice-feedback/internal/practitioner"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
	redisclient "github.com/hackgods/practice-feedback/internal/redis"
	"github.com/hackgods/practice-feedback/internal/sealer"
	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("api-server", "prod")
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("api-server", cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 10)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Redis only backs webhook dedupe here, so the server starts without it
	var rdb *goredis.Client
	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err = redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, webhook dedupe disabled")
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")
	}

	storeLog := logging.Component("ttlstore")
	notes := ttlstore.New[consultation.Note]("consultation_note", storeLog, ttlstore.SystemClock)
	questionnaires := ttlstore.New[questionnaire.Questionnaire]("questionnaire", storeLog, ttlstore.SystemClock)
	responses := ttlstore.New[questionnaire.Response]("questionnaire_response", storeLog, ttlstore.SystemClock)

	sender := newSender(cfg)
	seal := newSealer(cfg)
	scheduler := mailer.NewScheduler(seal, sender, logging.Component("mailer"), mailer.SchedulerConfig{
		From:  cfg.EmailFrom,
		Grace: cfg.EmailGrace,
	})

	for _, run := range []func(context.Context, time.Duration){
		notes.Run, questionnaires.Run, responses.Run, scheduler.Store().Run,
	} {
		go run(rootCtx, cfg.SweepInterval)
	}

	practitionerRepo := practitioner.NewPgRepository(pgPool)
	practitioners := practitioner.NewService(practitionerRepo, geocode.NewClient(cfg.GeocoderBaseURL), sender, logging.Component("practitioner"), practitioner.Config{
		EmailFrom:     cfg.EmailFrom,
		AdminEmail:    cfg.AdminEmail,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	feedback := questionnaire.NewService(questionnaire.Deps{
		Repo:           questionnaire.NewPgRepository(pgPool),
		Questionnaires: questionnaires,
		Responses:      responses,
		Sender:         sender,
		Scheduler:      scheduler,
		Logger:         log.Logger,
	}, questionnaire.Config{
		QuestionnaireTTL: cfg.QuestionnaireTTL,
		ResponseTTL:      cfg.ResponseTTL,
		ResponseViewTTL:  cfg.ResponseViewTTL,
		PublicBaseURL:    cfg.PublicBaseURL,
		EmailFrom:        cfg.EmailFrom,
	})

	var dedupe billing.Deduper = noDedupe{}
	if rdb != nil {
		dedupe = redisclient.NewDeduper(rdb)
	}
	billingSvc := billing.NewService(
		billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PublicBaseURL+"/settings/billing"),
		practitionerRepo,
		dedupe,
		cfg.StripePrices,
		log.Logger,
	)

	router := api.NewRouter(api.RouterConfig{
		Notes:          consultation.NewService(notes, ttlstore.SystemClock, cfg.NoteTTL),
		Questionnaires: feedback,
		Practitioners:  practitioners,
		Billing:        billingSvc,
		Verifier:       auth.NewVerifier(cfg.AuthJWTSecret),
		Postgres:       pgPool.Ping,
		Redis:          redisChecker(rdb),
		Logger:         logging.Component("http"),
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Int("pending_emails", scheduler.Count()).Msg("api-server stopped")
}

func newSender(cfg config.Config) mailer.Sender {
	if cfg.ResendAPIKey == "" {
		log.Warn().Msg("RESEND_API_KEY not set, emails are only logged")
		return mailer.NewLogSender(logging.Component("mailer"))
	}
	return mailer.NewResendSender(cfg.ResendAPIKey)
}

func newSealer(cfg config.Config) *sealer.Sealer {
	if cfg.EmailEncryptionKey == nil {
		log.Warn().Msg("EMAIL_ENCRYPTION_KEY not set, using a per-process key")
		s, err := sealer.NewRandom()
		if err != nil {
			log.Fatal().Err(err).Msg("sealer init error")
		}
		return s
	}
	s, err := sealer.New(cfg.EmailEncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("sealer init error")
	}
	return s
}

func redisChecker(rdb *goredis.Client) api.Checker {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// noDedupe applies every webhook delivery when Redis is down
type noDedupe struct{}

func (noDedupe) FirstSeen(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noDedupe) Forget(context.Context, string) error                           { return nil }
