package ring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/sipring/internal/dialog"
	"github.com/sweeney/sipring/internal/store"
)

// ErrDisabled is returned when a trigger hits a profile that exists but
// is switched off.
var ErrDisabled = errors.New("profile is disabled")

// SIPDefaults are the daemon-wide SIP settings profiles inherit.
type SIPDefaults struct {
	LocalHost    string
	UserAgent    string
	RingDuration time.Duration
}

// Service resolves profile IDs or slugs against the store and drives
// the coordinator. It is the trigger surface shared by the HTTP API and
// the MQTT bridge.
type Service struct {
	store *store.Store
	coord *Coordinator
	sip   SIPDefaults
}

// NewService wires a Service.
func NewService(st *store.Store, coord *Coordinator, sip SIPDefaults) *Service {
	return &Service{store: st, coord: coord, sip: sip}
}

// Coordinator exposes the underlying coordinator for handle-level calls.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// Store exposes the profile store.
func (s *Service) Store() *store.Store { return s.store }

// TriggerProfile rings the profile identified by UUID or slug.
// durationOverride of zero means the profile's configured window.
func (s *Service) TriggerProfile(ctx context.Context, idOrSlug string, durationOverride time.Duration) (Status, error) {
	p, err := s.store.GetProfile(ctx, idOrSlug)
	if err != nil {
		return Status{}, err
	}
	if !p.Enabled {
		return Status{}, fmt.Errorf("%w: %s", ErrDisabled, p.Slug)
	}
	return s.coord.Trigger(ctx, s.targetFor(p), durationOverride)
}

// CancelProfile aborts whatever ring attempt is active for the profile.
func (s *Service) CancelProfile(ctx context.Context, idOrSlug string) (Status, error) {
	p, err := s.store.GetProfile(ctx, idOrSlug)
	if err != nil {
		return Status{}, err
	}
	st, ok := s.coord.CancelTarget(p.ID)
	if !ok {
		return Status{}, nil
	}
	return st, nil
}

// targetFor maps a stored profile onto a coordinator target, filling
// daemon-wide defaults the profile leaves unset.
func (s *Service) targetFor(p store.Profile) Target {
	duration := p.RingDuration
	if duration == 0 {
		duration = s.sip.RingDuration
	}
	return Target{
		ID:           p.ID,
		Slug:         p.Slug,
		RingDuration: duration,
		Policy:       OverlapPolicy(p.OverlapPolicy),
		Call: dialog.CallTarget{
			User:       p.SIPUser,
			Host:       p.SIPServer,
			Port:       p.SIPPort,
			CallerName: p.CallerName,
			CallerUser: p.CallerUser,
			LocalHost:  s.sip.LocalHost,
			LocalPort:  p.LocalPort,
			UserAgent:  s.sip.UserAgent,
		},
	}
}
