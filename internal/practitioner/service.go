package practitioner

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/practice-feedback/internal/geocode"
	"github.com/hackgods/practice-feedback/internal/mailer"
)

var (
	ErrInvalidProfile      = errors.New("invalid profile")
	ErrAddressNotFound     = errors.New("address could not be located")
	ErrGeocoderUnavailable = errors.New("address lookup is unavailable")
	ErrInvalidReferral     = errors.New("referral email is invalid")
	ErrEmailFailed         = errors.New("email could not be sent")
)

// Geocoder resolves a free form address
type Geocoder interface {
	Lookup(ctx context.Context, query, postcode string) (*geocode.Place, error)
}

type Config struct {
	EmailFrom     string
	AdminEmail    string
	PublicBaseURL string
}

type Service struct {
	repo     Repository
	geocoder Geocoder
	sender   mailer.Sender
	cfg      Config
	log      zerolog.Logger
}

func NewService(repo Repository, geocoder Geocoder, sender mailer.Sender, logger zerolog.Logger, cfg Config) *Service {
	return &Service{
		repo:     repo,
		geocoder: geocoder,
		sender:   sender,
		cfg:      cfg,
		log:      logger.With().Str("component", "practitioner").Logger(),
	}
}

func (s *Service) Profile(ctx context.Context, id string) (*Practitioner, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load practitioner: %w", err)
	}
	return p, nil
}

type OnboardInput struct {
	Name      string
	Specialty *string
}

// Onboard creates the profile of a newly signed up practitioner. Welcome and
// admin emails are best effort.
func (s *Service) Onboard(ctx context.Context, id, email string, in OnboardInput) (*Practitioner, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	created, err := s.repo.Create(ctx, Practitioner{
		ID:        id,
		Email:     email,
		Name:      name,
		Specialty: in.Specialty,
		Tier:      TierFree,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyOnboarded) {
			return nil, err
		}
		return nil, fmt.Errorf("create practitioner: %w", err)
	}

	subject, html, err := mailer.Welcome(created.Name, s.cfg.PublicBaseURL+"/dashboard")
	if err == nil {
		err = s.sender.Send(ctx, mailer.Message{From: s.cfg.EmailFrom, To: created.Email, Subject: subject, HTML: html})
	}
	if err != nil {
		s.log.Error().Err(err).Str("practitioner_id", created.ID).Msg("welcome email failed")
	}

	s.notifyAdmin(ctx, "new practitioner", []string{"id=" + created.ID, "tier=" + created.Tier})

	return created, nil
}

type ProfileInput struct {
	Name      string
	Specialty *string
	Address   *string
	Postcode  *string
}

// UpdateProfile saves profile fields, geocoding the address when one is given
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*Practitioner, error) {
	current, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	next := *current
	next.Name = name
	next.Specialty = in.Specialty
	next.Address = in.Address
	next.Postcode = in.Postcode
	next.City, next.Lat, next.Lon = nil, nil, nil

	if in.Address != nil || in.Postcode != nil {
		query := strings.TrimSpace(deref(in.Address) + " " + deref(in.Postcode))
		place, err := s.geocoder.Lookup(ctx, query, deref(in.Postcode))
		if err != nil {
			if errors.Is(err, geocode.ErrNoMatch) {
				return nil, ErrAddressNotFound
			}
			s.log.Error().Err(err).Str("practitioner_id", id).Msg("geocoding failed")
			return nil, fmt.Errorf("%w: %v", ErrGeocoderUnavailable, err)
		}
		next.City = &place.City
		next.Lat = &place.Lat
		next.Lon = &place.Lon
		if next.Postcode == nil && place.Postcode != "" {
			next.Postcode = &place.Postcode
		}
	}

	updated, err := s.repo.UpdateProfile(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("update practitioner: %w", err)
	}
	return updated, nil
}

// ListAll is the admin listing of practitioners
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]Practitioner, error) {
	if limit <= 0 {
		limit = 50 // default
	}
	if limit > 200 {
		limit = 200 // max
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	return list, nil
}

// Refer records an invitation from a practitioner to a colleague and emails it
func (s *Service) Refer(ctx context.Context, practitionerID, email string) (*Referral, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, ErrInvalidReferral
	}

	p, err := s.Profile(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	ref, err := s.repo.CreateReferral(ctx, Referral{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Email:          addr.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}

	subject, html, err := mailer.Referral(p.Name, s.cfg.PublicBaseURL+"/signup?ref="+ref.ID.String())
	if err != nil {
		return nil, err
	}
	if err := s.sender.Send(ctx, mailer.Message{From: s.cfg.EmailFrom, To: addr.Address, Subject: subject, HTML: html}); err != nil {
		s.log.Error().Err(err).Str("referral_id", ref.ID.String()).Msg("referral email failed")
		return nil, fmt.Errorf("%w: %v", ErrEmailFailed, err)
	}

	return ref, nil
}

func (s *Service) Referrals(ctx context.Context, practitionerID string) ([]Referral, error) {
	list, err := s.repo.ListReferrals(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	return list, nil
}

func (s *Service) notifyAdmin(ctx context.Context, event string, fields []string) {
	if s.cfg.AdminEmail == "" {
		return
	}
	subject, html, err := mailer.AdminNotice(event, fields)
	if err == nil {
		err = s.sender.Send(ctx, mailer.Message{From: s.cfg.EmailFrom, To: s.cfg.AdminEmail, Subject: subject, HTML: html})
	}
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("admin notification failed")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
