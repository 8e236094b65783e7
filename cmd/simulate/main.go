package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/practice-feedback/internal/auth"
	"github.com/hackgods/practice-feedback/internal/config"
	"github.com/hackgods/practice-feedback/internal/db"
	"github.com/hackgods/practice-feedback/internal/logging"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	NoteRatio         float64
	IssueRatio        float64
	PatientRatio      float64
	PractitionerLimit int
}

// DataPool holds the tokens and ids workers pick from
type DataPool struct {
	Tokens []string

	mu             sync.RWMutex
	notes          map[string][]string // token -> note ids
	questionnaires []string
}

func (dp *DataPool) AddNote(token, id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.notes[token] = append(dp.notes[token], id)
}

func (dp *DataPool) RandomNote(rng *rand.Rand, token string) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	ids := dp.notes[token]
	if len(ids) == 0 {
		return "", false
	}
	return ids[rng.Intn(len(ids))], true
}

func (dp *DataPool) AddQuestionnaire(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.questionnaires = append(dp.questionnaires, id)
}

func (dp *DataPool) RandomQuestionnaire(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.questionnaires) == 0 {
		return "", false
	}
	return dp.questionnaires[rng.Intn(len(dp.questionnaires))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64 // 4xx answers, expected under load
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		atomic.AddInt64(&om.Error, 1)
	case status >= http.StatusBadRequest:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Success, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	CreateNote OperationMetrics
	ReadNote   OperationMetrics
	Issue      OperationMetrics
	PublicGet  OperationMetrics
	Submit     OperationMetrics
	Stats      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	logging.Init("simulate", "dev")

	base, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	cfg := loadConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal().Msg("SIM_WORKERS and SIM_DURATION must be > 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, base.PostgresDSN, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, auth.NewVerifier(base.AuthJWTSecret), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("practitioners", len(dataPool.Tokens)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:        strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		NoteRatio:         getFloat("SIM_NOTE_RATIO", 0.4),
		IssueRatio:        getFloat("SIM_ISSUE_RATIO", 0.2),
		PatientRatio:      getFloat("SIM_PATIENT_RATIO", 0.4),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 50),
	}

	total := cfg.NoteRatio + cfg.IssueRatio + cfg.PatientRatio
	if total > 0 {
		cfg.NoteRatio /= total
		cfg.IssueRatio /= total
		cfg.PatientRatio /= total
	}
	return cfg
}

// loadDataPool signs a short lived token for each seeded practitioner
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, verifier *auth.Verifier, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id, email FROM practitioners LIMIT $1`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{notes: make(map[string][]string)}
	for rows.Next() {
		var id, email string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, err
		}
		token, err := verifier.Issue(auth.Identity{UserID: id, Email: email}, cfg.Duration+time.Hour)
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		dp.Tokens = append(dp.Tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Tokens) == 0 {
		return nil, fmt.Errorf("no practitioners loaded, run the seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		token := s.pool.Tokens[rng.Intn(len(s.pool.Tokens))]
		r := rng.Float64()
		switch {
		case r < s.config.NoteRatio:
			if rng.Intn(2) == 0 {
				s.doCreateNote(ctx, token)
			} else {
				s.doReadNote(ctx, rng, token)
			}
		case r < s.config.NoteRatio+s.config.IssueRatio:
			if rng.Intn(4) == 0 {
				s.doStats(ctx, token)
			} else {
				s.doIssue(ctx, token)
			}
		default:
			if rng.Intn(2) == 0 {
				s.doPublicGet(ctx, rng)
			} else {
				s.doSubmit(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doCreateNote(ctx context.Context, token string) {
	var created struct {
		ID string `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/consultations", token, map[string]string{
		"patient_ref": gofakeit.UUID(),
		"text":        gofakeit.Sentence(20),
	}, &created)
	s.metrics.CreateNote.Record(latency, status, err)
	if status == http.StatusCreated && created.ID != "" {
		s.pool.AddNote(token, created.ID)
	}
}

func (s *Simulator) doReadNote(ctx context.Context, rng *rand.Rand, token string) {
	id, ok := s.pool.RandomNote(rng, token)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/consultations/"+id, token, nil, nil)
	s.metrics.ReadNote.Record(latency, status, err)
}

func (s *Simulator) doIssue(ctx context.Context, token string) {
	var issued struct {
		ID string `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/questionnaires", token, map[string]any{
		"title": "Suivi de séance",
		"questions": []map[string]string{
			{"prompt": "Comment allez-vous ?", "low_label": "Mal", "high_label": "Très bien"},
			{"prompt": "Les conseils étaient-ils utiles ?", "low_label": "Non", "high_label": "Oui"},
		},
		"patient_email": gofakeit.Email(),
	}, &issued)
	s.metrics.Issue.Record(latency, status, err)
	if status == http.StatusCreated && issued.ID != "" {
		s.pool.AddQuestionnaire(issued.ID)
	}
}

func (s *Simulator) doStats(ctx context.Context, token string) {
	status, latency, err := s.call(ctx, http.MethodGet, "/questionnaires/stats", token, nil, nil)
	s.metrics.Stats.Record(latency, status, err)
}

func (s *Simulator) doPublicGet(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomQuestionnaire(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/public/questionnaires/"+id, "", nil, nil)
	s.metrics.PublicGet.Record(latency, status, err)
}

func (s *Simulator) doSubmit(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomQuestionnaire(rng)
	if !ok {
		return
	}
	answers := []int{1 + rng.Intn(5), 1 + rng.Intn(5)}
	status, latency, err := s.call(ctx, http.MethodPost, "/public/questionnaires/"+id+"/responses", "",
		map[string][]int{"answers": answers}, nil)
	s.metrics.Submit.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Create note", &s.metrics.CreateNote)
	printOperationReport("Read note", &s.metrics.ReadNote)
	printOperationReport("Issue questionnaire", &s.metrics.Issue)
	printOperationReport("Questionnaire stats", &s.metrics.Stats)
	printOperationReport("Patient view", &s.metrics.PublicGet)
	printOperationReport("Patient submit", &s.metrics.Submit)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	p50, p95, max := om.Percentiles()
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success, pct(om.Success))
	if om.Rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", om.Rejected, pct(om.Rejected))
	}
	if om.Error > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", om.Error, pct(om.Error))
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
