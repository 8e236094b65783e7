package mailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practice-feedback/internal/sealer"
	"github.com/hackgods/practice-feedback/internal/ttlstore/ttlstoretest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestScheduler(t *testing.T, sender Sender) (*Scheduler, *ttlstoretest.Clock, *bytes.Buffer) {
	t.Helper()
	s, err := sealer.NewRandom()
	require.NoError(t, err)

	clock := ttlstoretest.NewClock(t0)
	buf := &bytes.Buffer{}
	sched := NewScheduler(s, sender, zerolog.New(buf), SchedulerConfig{
		From:  "Feedback <no-reply@example.com>",
		Grace: 5 * time.Minute,
		Clock: clock,
	})
	return sched, clock, buf
}

func TestScheduleOnce_SendsAtTime(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, buf := newTestScheduler(t, sender)

	err := sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://app.example.com/q/q-1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, sched.Pending("q-1"))

	clock.Advance(29 * time.Minute)
	assert.Equal(t, 0, sender.count())

	clock.Advance(time.Minute)
	require.Equal(t, 1, sender.count())

	msg := sender.sent[0]
	assert.Equal(t, "a@b.com", msg.To)
	assert.Equal(t, "Feedback <no-reply@example.com>", msg.From)
	assert.Contains(t, msg.HTML, "https://app.example.com/q/q-1")
	assert.Contains(t, msg.HTML, "Dr Martin")

	assert.False(t, sched.Pending("q-1"))
	assert.Contains(t, buf.String(), `"cause":"sent"`)
	assert.NotContains(t, buf.String(), "a@b.com")
	assert.NotContains(t, buf.String(), "app.example.com")
}

func TestScheduleOnce_CancelBeforeFiring(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, _ := newTestScheduler(t, sender)

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(30*time.Minute)))

	clock.Advance(10 * time.Minute)
	assert.True(t, sched.Cancel("q-1"))
	assert.False(t, sched.Pending("q-1"))

	clock.Advance(time.Hour)
	assert.Equal(t, 0, sender.count())
	assert.False(t, sched.Cancel("q-1"))
}

func TestScheduleOnce_PastTimeSendsImmediately(t *testing.T) {
	for _, sendErr := range []error{nil, errors.New("provider down")} {
		sender := &fakeSender{err: sendErr}
		sched, _, buf := newTestScheduler(t, sender)

		require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(-time.Minute)))

		assert.Equal(t, 1, sender.count())
		assert.False(t, sched.Pending("q-1"))
		assert.Equal(t, 0, sched.Store().Len())
		if sendErr != nil {
			assert.Contains(t, buf.String(), `"cause":"send_failed"`)
		} else {
			assert.Contains(t, buf.String(), `"cause":"sent"`)
		}
	}
}

func TestScheduleOnce_FailedSendIsNotRetried(t *testing.T) {
	sender := &fakeSender{err: errors.New("provider down")}
	sched, clock, _ := newTestScheduler(t, sender)

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(time.Minute)))

	clock.Advance(time.Hour)
	assert.Equal(t, 1, sender.count())
	assert.False(t, sched.Pending("q-1"))
}

func TestScheduleOnce_StoresOnlyCiphertext(t *testing.T) {
	sched, _, _ := newTestScheduler(t, &fakeSender{})

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(time.Hour)))

	rec, ok := sched.Store().Get("q-1")
	require.True(t, ok)
	assert.False(t, bytes.Contains(rec.Recipient.Ciphertext, []byte("a@b.com")))
	assert.False(t, bytes.Contains(rec.Link.Ciphertext, []byte("https://x/q/1")))
	assert.NotEqual(t, rec.Recipient.Nonce, rec.Link.Nonce)
	assert.Equal(t, t0.Add(time.Hour), rec.SendAt)
}

func TestScheduleOnce_RescheduleReplaces(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, _ := newTestScheduler(t, sender)

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(10*time.Minute)))
	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "c@d.com", "https://x/q/1", t0.Add(20*time.Minute)))

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 0, sender.count())

	clock.Advance(10 * time.Minute)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "c@d.com", sender.sent[0].To)
}

// hookSender lets a test act while a send is in flight.
type hookSender struct {
	fakeSender
	during func(Message)
}

func (h *hookSender) Send(ctx context.Context, msg Message) error {
	if h.during != nil {
		h.during(msg)
	}
	return h.fakeSender.Send(ctx, msg)
}

func TestCount(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, _ := newTestScheduler(t, sender)
	assert.Equal(t, 0, sched.Count())

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(10*time.Minute)))
	require.NoError(t, sched.ScheduleOnce("q-2", "Dr Martin", "c@d.com", "https://x/q/2", t0.Add(20*time.Minute)))
	require.NoError(t, sched.ScheduleOnce("q-2", "Dr Martin", "c@d.com", "https://x/q/2", t0.Add(30*time.Minute)))
	assert.Equal(t, 2, sched.Count())

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, sched.Count())

	clock.Advance(time.Hour)
	assert.Equal(t, 0, sched.Count())
	assert.Equal(t, 2, sender.count())
}

func TestFire_StaleSeqIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, _ := newTestScheduler(t, sender)

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(10*time.Minute)))
	first, ok := sched.Store().Get("q-1")
	require.True(t, ok)

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "c@d.com", "https://x/q/1", t0.Add(time.Hour)))

	// a timer from the first scheduling that Stop could not catch
	sched.fire("q-1", first.Seq)
	assert.Equal(t, 0, sender.count())
	assert.True(t, sched.Pending("q-1"))

	clock.Advance(time.Hour)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "c@d.com", sender.sent[0].To)
	assert.False(t, sched.Pending("q-1"))
}

func TestFire_RescheduleDuringSendKeepsNewEmail(t *testing.T) {
	sender := &hookSender{}
	sched, clock, _ := newTestScheduler(t, sender)
	sender.during = func(msg Message) {
		if msg.To == "a@b.com" {
			require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "c@d.com", "https://x/q/1", t0.Add(time.Hour)))
		}
	}

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(10*time.Minute)))

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, sender.count())
	assert.True(t, sched.Pending("q-1"))
	assert.Equal(t, 1, sched.Count())

	clock.Advance(50 * time.Minute)
	require.Equal(t, 2, sender.count())
	assert.Equal(t, "c@d.com", sender.sent[1].To)
	assert.False(t, sched.Pending("q-1"))
}

func TestOnSent_RunsOnlyAfterSuccess(t *testing.T) {
	sender := &fakeSender{}
	sched, clock, _ := newTestScheduler(t, sender)

	var got []string
	sched.OnSent(func(key string) { got = append(got, key) })

	require.NoError(t, sched.ScheduleOnce("q-1", "Dr Martin", "a@b.com", "https://x/q/1", t0.Add(10*time.Minute)))
	clock.Advance(10 * time.Minute)
	assert.Equal(t, []string{"q-1"}, got)

	sender.mu.Lock()
	sender.err = errors.New("provider down")
	sender.mu.Unlock()
	require.NoError(t, sched.ScheduleOnce("q-2", "Dr Martin", "c@d.com", "https://x/q/2", t0.Add(20*time.Minute)))
	clock.Advance(10 * time.Minute)
	assert.Equal(t, []string{"q-1"}, got)

	require.NoError(t, sched.ScheduleOnce("q-3", "Dr Martin", "e@f.com", "https://x/q/3", t0.Add(30*time.Minute)))
	assert.True(t, sched.Cancel("q-3"))
	clock.Advance(time.Hour)
	assert.Equal(t, []string{"q-1"}, got)
}

func TestTemplates(t *testing.T) {
	subject, html, err := Invitation("Dr <b>Martin</b>", "https://x/q/1")
	require.NoError(t, err)
	assert.NotEmpty(t, subject)
	assert.Contains(t, html, "Dr &lt;b&gt;Martin&lt;/b&gt;")

	_, html, err = AdminNotice("new practitioner", []string{"id=42", "tier=free"})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(html, "<li>"))
}
