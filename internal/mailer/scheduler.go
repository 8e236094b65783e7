package mailer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/sealer"
	"github.com/hackgods/practice-feedback/internal/ttlstore"
)

const (
	sendTimeout  = 30 * time.Second
	defaultGrace = 5 * time.Minute
)

// ScheduledEmail is held in memory until its send time. Recipient and link
// are sealed independently, each under its own nonce.
type ScheduledEmail struct {
	QuestionnaireID string
	Practitioner    string
	Recipient       sealer.Sealed
	Link            sealer.Sealed
	SendAt          time.Time
	CreatedAt       time.Time
	Seq             uint64 // identifies this scheduling of the key
}

// Scheduler sends one invitation email per key at a given time. Nothing is
// retried and nothing survives a restart.
type Scheduler struct {
	store  *ttlstore.Store[ScheduledEmail]
	sealer *sealer.Sealer
	sender Sender
	clock  ttlstore.Clock
	from   string
	grace  time.Duration
	log    zerolog.Logger

	seq    atomic.Uint64
	mu     sync.Mutex
	timers map[string]armed
	onSent []func(key string)
}

type armed struct {
	timer ttlstore.Timer
	seq   uint64
}

type SchedulerConfig struct {
	From  string
	Grace time.Duration // how long a record outlives its send time if the timer never fires
	Clock ttlstore.Clock
}

func NewScheduler(s *sealer.Sealer, sender Sender, logger zerolog.Logger, cfg SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = ttlstore.SystemClock
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Scheduler{
		store:  ttlstore.New[ScheduledEmail]("scheduled_email", logger, clock),
		sealer: s,
		sender: sender,
		clock:  clock,
		from:   cfg.From,
		grace:  grace,
		log:    logger.With().Str("component", "email_scheduler").Logger(),
		timers: make(map[string]armed),
	}
}

// Store exposes the backing table so it can be swept periodically.
func (s *Scheduler) Store() *ttlstore.Store[ScheduledEmail] { return s.store }

// OnSent registers fn to run after every successful send, on the goroutine
// that sent it.
func (s *Scheduler) OnSent(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSent = append(s.onSent, fn)
}

// Count is the number of emails still waiting.
func (s *Scheduler) Count() int { return s.store.Len() }

// ScheduleOnce seals recipient and link and arms a send at sendAt. A send
// time already in the past is attempted before ScheduleOnce returns.
// Scheduling the same key again replaces the earlier email.
func (s *Scheduler) ScheduleOnce(key, practitioner, recipient, link string, sendAt time.Time) error {
	sealedRecipient, err := s.sealer.Seal([]byte(recipient))
	if err != nil {
		return fmt.Errorf("seal recipient: %w", err)
	}
	sealedLink, err := s.sealer.Seal([]byte(link))
	if err != nil {
		return fmt.Errorf("seal link: %w", err)
	}

	now := s.clock.Now()
	delay := sendAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	seq := s.seq.Add(1)
	s.stopTimer(key)
	s.store.Put(key, ScheduledEmail{
		QuestionnaireID: key,
		Practitioner:    practitioner,
		Recipient:       sealedRecipient,
		Link:            sealedLink,
		SendAt:          sendAt,
		CreatedAt:       now,
		Seq:             seq,
	}, delay+s.grace)

	if delay == 0 {
		s.fire(key, seq)
		return nil
	}

	s.mu.Lock()
	s.timers[key] = armed{timer: s.clock.AfterFunc(delay, func() { s.fire(key, seq) }), seq: seq}
	s.mu.Unlock()

	s.log.Info().Str("key", key).Time("send_at", sendAt).Msg("email scheduled")
	return nil
}

// Cancel drops a scheduled email before it fires.
func (s *Scheduler) Cancel(key string) bool {
	s.stopTimer(key)
	return s.store.Delete(key)
}

// Pending reports whether an email is still waiting for key.
func (s *Scheduler) Pending(key string) bool {
	_, ok := s.store.Get(key)
	return ok
}

// fire sends the record armed with seq. A record that was replaced since is
// left for its own timer.
func (s *Scheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	if a, ok := s.timers[key]; ok && a.seq == seq {
		delete(s.timers, key)
	}
	s.mu.Unlock()

	rec, ok := s.store.Get(key)
	if !ok || rec.Seq != seq {
		return
	}

	sameSeq := func(r ScheduledEmail) bool { return r.Seq == seq }
	if err := s.deliver(rec); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("scheduled email failed, discarding")
		s.store.TakeIf(key, ttlstore.CauseSendFailed, sameSeq)
		return
	}
	s.store.TakeIf(key, ttlstore.CauseSent, sameSeq)

	s.mu.Lock()
	hooks := append([]func(string){}, s.onSent...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(key)
	}
}

func (s *Scheduler) deliver(rec ScheduledEmail) error {
	recipient, err := s.sealer.Open(rec.Recipient)
	if err != nil {
		return fmt.Errorf("open recipient: %w", err)
	}
	link, err := s.sealer.Open(rec.Link)
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}

	subject, html, err := Invitation(rec.Practitioner, string(link))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	return s.sender.Send(ctx, Message{
		From:    s.from,
		To:      string(recipient),
		Subject: subject,
		HTML:    html,
	})
}

func (s *Scheduler) stopTimer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
}
