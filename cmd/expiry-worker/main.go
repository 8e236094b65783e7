package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/practice-feedback/internal/config"
	"github.com/hackgods/practice-feedback/internal/db"
	"github.com/hackgods/practice-feedback/internal/logging"
	"github.com/hackgods/practice-feedback/internal/questionnaire"
	redisclient "github.com/hackgods/practice-feedback/internal/redis"
	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

const lockName = "questionnaire-expiry"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("expiry-worker", "prod")
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("expiry-worker", cfg.Env)
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	svc := questionnaire.NewExpirer(questionnaire.NewPgRepository(pgPool), ttlstore.SystemClock, log.Logger)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	runOnce(rootCtx, svc, locker)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, locker)
		}
	}
}

type expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

func runOnce(ctx context.Context, svc expirer, locker redisclient.Locker) {
	start := time.Now()
	var expired int

	err := locker.WithLock(ctx, lockName, func(ctx context.Context) error {
		var err error
		expired, err = svc.ExpireStale(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug().Msg("another worker holds the expiry lock, skipping")
	case err != nil:
		log.Error().Err(err).Msg("expiry run error")
	default:
		log.Info().Int("expired", expired).Dur("duration", time.Since(start)).Msg("expiry run complete")
	}
}
