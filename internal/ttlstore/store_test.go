package ttlstore_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practice-feedback/internal/ttlstore"
	"github.com/hackgods/practice-feedback/internal/ttlstore/ttlstoretest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type note struct {
	Patient string
	Text    string
}

// stillClock never fires timers, so only lazy reads and sweeps remove entries.
type stillClock struct{ now time.Time }

func (c *stillClock) Now() time.Time { return c.now }

func (c *stillClock) AfterFunc(time.Duration, func()) ttlstore.Timer { return noopTimer{} }

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func newLogged[V any](clock ttlstore.Clock) (*ttlstore.Store[V], *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return ttlstore.New[V]("test", zerolog.New(buf), clock), buf
}

func countCause(buf *bytes.Buffer, cause ttlstore.Cause) int {
	return strings.Count(buf.String(), `"cause":"`+string(cause)+`"`)
}

func TestPut_ReturnsExpiry(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, _ := newLogged[note](clock)

	expiresAt := s.Put("a", note{Text: "x"}, time.Hour)

	assert.Equal(t, t0.Add(time.Hour), expiresAt)
	got, ok := s.ExpiresAt("a")
	require.True(t, ok)
	assert.Equal(t, expiresAt, got)
}

func TestGet_HonoursExpiryWithoutTimersOrSweep(t *testing.T) {
	clock := &stillClock{now: t0}
	s, buf := newLogged[note](clock)

	s.Put("a", note{Text: "x"}, 10*time.Minute)

	clock.now = t0.Add(10*time.Minute - time.Nanosecond)
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", v.Text)

	clock.now = t0.Add(10 * time.Minute)
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseExpired))
}

func TestGet_ExpiredLooksLikeNeverCreated(t *testing.T) {
	clock := &stillClock{now: t0}
	s, _ := newLogged[note](clock)

	s.Put("a", note{Text: "x"}, time.Minute)
	clock.now = t0.Add(2 * time.Minute)

	expired, okExpired := s.Get("a")
	missing, okMissing := s.Get("never")

	assert.Equal(t, okMissing, okExpired)
	assert.Equal(t, missing, expired)
}

func TestDelete(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, buf := newLogged[note](clock)

	s.Put("a", note{Text: "x"}, time.Hour)

	assert.True(t, s.Delete("a"))
	_, ok := s.Get("a")
	assert.False(t, ok)

	assert.False(t, s.Delete("a"))
	assert.False(t, s.Delete("never"))
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseDeleted))
	assert.Equal(t, 0, clock.Pending())
}

func TestSweep_RemovesExactlyExpired(t *testing.T) {
	clock := &stillClock{now: t0}
	s, buf := newLogged[note](clock)

	s.Put("short-1", note{}, time.Minute)
	s.Put("short-2", note{}, 2*time.Minute)
	s.Put("long", note{}, time.Hour)

	clock.now = t0.Add(2 * time.Minute)

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("long")
	assert.True(t, ok)

	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, countCause(buf, ttlstore.CauseSweep))
}

func TestPut_SweepsAfterInsert(t *testing.T) {
	clock := &stillClock{now: t0}
	s, buf := newLogged[note](clock)

	s.Put("old", note{}, time.Minute)
	clock.now = t0.Add(5 * time.Minute)
	s.Put("new", note{}, time.Minute)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseSweep))
}

func TestConsultationNoteLifetime(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, buf := newLogged[note](clock)

	s.Put("note-1", note{Patient: "p-1", Text: "knee pain, review in 2 weeks"}, 60*time.Minute)

	clock.Advance(59 * time.Minute)
	_, ok := s.Get("note-1")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = s.Get("note-1")
	assert.False(t, ok)

	assert.Equal(t, 1, countCause(buf, ttlstore.CauseExpired))
	assert.Equal(t, 1, strings.Count(buf.String(), "ephemeral entry removed"))
	assert.NotContains(t, buf.String(), "knee pain")
	assert.NotContains(t, buf.String(), "p-1")
	assert.Contains(t, buf.String(), `"key":"note-1"`)
}

func TestPut_OverwriteRearmsTimer(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, buf := newLogged[note](clock)

	s.Put("a", note{Text: "first"}, 10*time.Minute)
	clock.Advance(5 * time.Minute)
	s.Put("a", note{Text: "second"}, 10*time.Minute)

	clock.Advance(6 * time.Minute)
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", v.Text)
	assert.Equal(t, 0, countCause(buf, ttlstore.CauseExpired))

	clock.Advance(4 * time.Minute)
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseExpired))
}

type response struct {
	Answers  []int
	ViewedAt *time.Time
}

func TestUpdate_FirstViewShortensLifetime(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, _ := newLogged[response](clock)

	s.Put("q-1", response{Answers: []int{5, 4, 5}}, 24*time.Hour)

	clock.Advance(10 * time.Minute)
	view := func() (response, bool) {
		v, _, ok := s.Update("q-1", func(r response) (response, time.Duration) {
			if r.ViewedAt != nil {
				return r, ttlstore.KeepTTL
			}
			now := clock.Now()
			r.ViewedAt = &now
			return r, time.Minute
		})
		return v, ok
	}

	first, ok := view()
	require.True(t, ok)
	require.NotNil(t, first.ViewedAt)
	assert.Equal(t, t0.Add(10*time.Minute), *first.ViewedAt)

	clock.Advance(30 * time.Second)
	again, ok := view()
	require.True(t, ok)
	assert.Equal(t, first.ViewedAt, again.ViewedAt)

	expiresAt, ok := s.ExpiresAt("q-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(11*time.Minute), expiresAt)

	clock.Advance(60 * time.Second)
	_, ok = s.Get("q-1")
	assert.False(t, ok)
}

func TestUpdate_MissingKey(t *testing.T) {
	s, _ := newLogged[response](ttlstoretest.NewClock(t0))

	called := false
	_, _, ok := s.Update("nope", func(r response) (response, time.Duration) {
		called = true
		return r, ttlstore.KeepTTL
	})

	assert.False(t, ok)
	assert.False(t, called)
}

func TestTake(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, buf := newLogged[note](clock)

	s.Put("a", note{Text: "x"}, time.Hour)

	v, ok := s.Take("a", ttlstore.CauseSent)
	require.True(t, ok)
	assert.Equal(t, "x", v.Text)

	_, ok = s.Take("a", ttlstore.CauseSent)
	assert.False(t, ok)
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseSent))
}

func TestTakeIf(t *testing.T) {
	clock := ttlstoretest.NewClock(t0)
	s, buf := newLogged[note](clock)

	s.Put("a", note{Text: "new"}, time.Hour)

	_, ok := s.TakeIf("a", ttlstore.CauseSent, func(n note) bool { return n.Text == "old" })
	assert.False(t, ok)
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, 0, countCause(buf, ttlstore.CauseSent))

	v, ok := s.TakeIf("a", ttlstore.CauseSent, func(n note) bool { return n.Text == "new" })
	require.True(t, ok)
	assert.Equal(t, "new", v.Text)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, countCause(buf, ttlstore.CauseSent))

	_, ok = s.TakeIf("missing", ttlstore.CauseSent, func(note) bool { return true })
	assert.False(t, ok)
}

func TestRun_StopsOnCancel(t *testing.T) {
	clock := &stillClock{now: t0}
	s, _ := newLogged[note](clock)
	s.Put("a", note{}, time.Minute)
	clock.now = t0.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSystemClockStore(t *testing.T) {
	s, _ := newLogged[note](nil)

	s.Put("a", note{}, 20*time.Millisecond)
	_, ok := s.Get("a")
	assert.True(t, ok)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}
