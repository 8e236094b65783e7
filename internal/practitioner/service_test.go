package practitioner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practice-feedback/internal/geocode"
	"github.com/hackgods/practice-feedback/internal/mailer"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]Practitioner
	referrals []Referral
	payments  []PaymentLog
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]Practitioner)}
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (m *memRepo) Create(_ context.Context, p Practitioner) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return nil, ErrAlreadyOnboarded
	}
	p.CreatedAt = time.Now()
	m.rows[p.ID] = p
	return &p, nil
}

func (m *memRepo) UpdateProfile(_ context.Context, p Practitioner) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p
	return &p, nil
}

func (m *memRepo) ListAll(_ context.Context, limit, offset int) ([]Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Practitioner
	for _, p := range m.rows {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) SetSubscription(_ context.Context, id, tier string, customerID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return ErrPractitionerNotFound
	}
	p.Tier = tier
	if customerID != nil {
		p.StripeCustomerID = customerID
	}
	m.rows[id] = p
	return nil
}

func (m *memRepo) FindByCustomerID(_ context.Context, customerID string) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			return &p, nil
		}
	}
	return nil, ErrPractitionerNotFound
}

func (m *memRepo) InsertPaymentLog(_ context.Context, l PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, l)
	return nil
}

func (m *memRepo) CreateReferral(_ context.Context, r Referral) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals = append(m.referrals, r)
	return &r, nil
}

func (m *memRepo) ListReferrals(_ context.Context, practitionerID string) ([]Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Referral
	for _, r := range m.referrals {
		if r.PractitionerID == practitionerID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeGeocoder struct {
	place *geocode.Place
	err   error
	calls int
}

func (f *fakeGeocoder) Lookup(_ context.Context, _, _ string) (*geocode.Place, error) {
	f.calls++
	return f.place, f.err
}

type fakeSender struct {
	sent []mailer.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func newTestService(geo *fakeGeocoder, sender *fakeSender) (*Service, *memRepo) {
	repo := newMemRepo()
	svc := NewService(repo, geo, sender, zerolog.Nop(), Config{
		EmailFrom:     "no-reply@example.com",
		AdminEmail:    "ops@example.com",
		PublicBaseURL: "https://app.example.com",
	})
	return svc, repo
}

func strPtr(s string) *string { return &s }

func TestOnboard(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestService(&fakeGeocoder{}, sender)
	email := gofakeit.Email()

	p, err := svc.Onboard(context.Background(), "dr-1", email, OnboardInput{Name: gofakeit.Name(), Specialty: strPtr("Cardiology")})
	require.NoError(t, err)
	assert.Equal(t, TierFree, p.Tier)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, email, sender.sent[0].To)
	assert.Equal(t, "ops@example.com", sender.sent[1].To)
	assert.NotContains(t, sender.sent[1].HTML, email)

	_, err = svc.Onboard(context.Background(), "dr-1", email, OnboardInput{Name: "Again"})
	assert.ErrorIs(t, err, ErrAlreadyOnboarded)

	_, err = svc.Onboard(context.Background(), "dr-2", email, OnboardInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestOnboard_EmailFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, &fakeSender{err: errors.New("down")})

	_, err := svc.Onboard(context.Background(), "dr-1", gofakeit.Email(), OnboardInput{Name: gofakeit.Name()})
	assert.NoError(t, err)
}

func TestUpdateProfile_Geocodes(t *testing.T) {
	geo := &fakeGeocoder{place: &geocode.Place{City: "Lyon", Postcode: "69002", Lat: 45.76, Lon: 4.83}}
	svc, _ := newTestService(geo, &fakeSender{})
	_, err := svc.Onboard(context.Background(), "dr-1", gofakeit.Email(), OnboardInput{Name: "Dr Martin"})
	require.NoError(t, err)

	p, err := svc.UpdateProfile(context.Background(), "dr-1", ProfileInput{
		Name:    "Dr Martin",
		Address: strPtr("12 rue de la Paix"),
	})
	require.NoError(t, err)
	require.NotNil(t, p.City)
	assert.Equal(t, "Lyon", *p.City)
	assert.Equal(t, "69002", *p.Postcode)
	assert.InDelta(t, 45.76, *p.Lat, 1e-9)
}

func TestUpdateProfile_GeocodeErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		want error
	}{
		"no match":    {err: geocode.ErrNoMatch, want: ErrAddressNotFound},
		"unavailable": {err: errors.New("timeout"), want: ErrGeocoderUnavailable},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(&fakeGeocoder{err: tc.err}, &fakeSender{})
			_, err := svc.Onboard(context.Background(), "dr-1", gofakeit.Email(), OnboardInput{Name: "Dr Martin"})
			require.NoError(t, err)

			_, err = svc.UpdateProfile(context.Background(), "dr-1", ProfileInput{Name: "Dr Martin", Postcode: strPtr("00000")})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUpdateProfile_NoAddressSkipsGeocoder(t *testing.T) {
	geo := &fakeGeocoder{}
	svc, _ := newTestService(geo, &fakeSender{})
	_, err := svc.Onboard(context.Background(), "dr-1", gofakeit.Email(), OnboardInput{Name: "Dr Martin"})
	require.NoError(t, err)

	p, err := svc.UpdateProfile(context.Background(), "dr-1", ProfileInput{Name: "Dr Martin B."})
	require.NoError(t, err)
	assert.Equal(t, "Dr Martin B.", p.Name)
	assert.Equal(t, 0, geo.calls)

	_, err = svc.UpdateProfile(context.Background(), "missing", ProfileInput{Name: "x"})
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestRefer(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestService(&fakeGeocoder{}, sender)
	_, err := svc.Onboard(context.Background(), "dr-1", gofakeit.Email(), OnboardInput{Name: "Dr Martin"})
	require.NoError(t, err)
	sender.sent = nil

	_, err = svc.Refer(context.Background(), "dr-1", "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidReferral)

	ref, err := svc.Refer(context.Background(), "dr-1", "colleague@example.com")
	require.NoError(t, err)
	assert.Equal(t, "colleague@example.com", ref.Email)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].HTML, "ref="+ref.ID.String())
	assert.Contains(t, sender.sent[0].Subject, "Dr Martin")

	list, err := svc.Referrals(context.Background(), "dr-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	sender.err = errors.New("down")
	_, err = svc.Refer(context.Background(), "dr-1", "other@example.com")
	assert.ErrorIs(t, err, ErrEmailFailed)
}
