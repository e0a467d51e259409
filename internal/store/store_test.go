package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sipring.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProfile() *Profile {
	return &Profile{
		Name:      "Front Door",
		SIPUser:   "21",
		SIPServer: "192.168.1.10",
		Enabled:   true,
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Front Door", "front-door"},
		{"Büro  / Etage 2", "b-ro-etage-2"},
		{"---", ""},
		{"already-slugged", "already-slugged"},
		{"  Trim Me  ", "trim-me"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.name); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCreateAndGetProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testProfile()
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if p.ID == "" {
		t.Fatal("CreateProfile did not assign an ID")
	}
	if p.Slug != "front-door" {
		t.Fatalf("slug = %q, want front-door", p.Slug)
	}
	if p.SIPPort != 5060 || p.LocalPort != 5062 {
		t.Fatalf("default ports not applied: sip %d local %d", p.SIPPort, p.LocalPort)
	}
	if p.RingDuration != 30*time.Second {
		t.Fatalf("default ring duration = %s", p.RingDuration)
	}
	if p.CallerUser != "doorbell" {
		t.Fatalf("default caller user = %q", p.CallerUser)
	}

	byID, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProfile by ID: %v", err)
	}
	bySlug, err := s.GetProfile(ctx, "front-door")
	if err != nil {
		t.Fatalf("GetProfile by slug: %v", err)
	}
	if byID.ID != bySlug.ID || byID.ID != p.ID {
		t.Fatalf("lookups disagree: %q vs %q vs %q", byID.ID, bySlug.ID, p.ID)
	}
	if !byID.Enabled {
		t.Error("enabled flag not persisted")
	}
}

func TestGetProfileNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProfile(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateProfileDuplicateSlug(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateProfile(ctx, testProfile()); err != nil {
		t.Fatalf("first CreateProfile: %v", err)
	}
	err := s.CreateProfile(ctx, testProfile())
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("err = %v, want ErrSlugTaken", err)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"empty name", func(p *Profile) { p.Name = "" }},
		{"missing sip_user", func(p *Profile) { p.SIPUser = "" }},
		{"missing sip_server", func(p *Profile) { p.SIPServer = "" }},
		{"ring duration too long", func(p *Profile) { p.RingDuration = 10 * time.Minute }},
		{"ring duration too short", func(p *Profile) { p.RingDuration = 10 * time.Millisecond }},
		{"bad overlap policy", func(p *Profile) { p.OverlapPolicy = "stack" }},
	}
	for _, tt := range tests {
		p := testProfile()
		tt.mutate(p)
		if err := s.CreateProfile(ctx, p); err == nil {
			t.Errorf("%s: CreateProfile accepted invalid profile", tt.name)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testProfile()
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	p.Name = "Back Door"
	p.Slug = ""
	p.RingDuration = 45 * time.Second
	p.OverlapPolicy = "replace"
	if err := s.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	got, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Slug != "back-door" {
		t.Errorf("slug not re-derived: %q", got.Slug)
	}
	if got.RingDuration != 45*time.Second {
		t.Errorf("ring duration = %s", got.RingDuration)
	}
	if got.OverlapPolicy != "replace" {
		t.Errorf("overlap policy = %q", got.OverlapPolicy)
	}

	missing := testProfile()
	missing.ID = "does-not-exist"
	if err := s.UpdateProfile(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing profile: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testProfile()
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := s.DeleteProfile(ctx, "front-door"); err != nil {
		t.Fatalf("DeleteProfile by slug: %v", err)
	}
	if _, err := s.GetProfile(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile still present after delete: %v", err)
	}
	if err := s.DeleteProfile(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateRingStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testProfile()
	if err := s.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := s.UpdateRingStatus(ctx, p.ID, "cancelled", at); err != nil {
		t.Fatalf("UpdateRingStatus: %v", err)
	}

	got, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.LastRingState != "cancelled" {
		t.Errorf("last ring status = %q", got.LastRingState)
	}
	if got.LastRingAt == nil || !got.LastRingAt.Equal(at) {
		t.Errorf("last ring at = %v, want %v", got.LastRingAt, at)
	}
}

func TestEventLogAndPruning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	logEvent := func(slug string, endedAgo time.Duration, outcome string) {
		t.Helper()
		err := s.AppendEvent(ctx, RingEvent{
			ProfileID: "p-" + slug,
			Slug:      slug,
			Outcome:   outcome,
			Reason:    "user",
			StartedAt: now.Add(-endedAgo - 10*time.Second),
			EndedAt:   now.Add(-endedAgo),
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	logEvent("front-door", 100*24*time.Hour, "no_response")
	logEvent("front-door", time.Hour, "cancelled")
	logEvent("back-door", time.Minute, "hangup")

	all, err := s.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Slug != "back-door" {
		t.Errorf("events not newest-first: first is %q", all[0].Slug)
	}

	front, err := s.ListEvents(ctx, "front-door", 0)
	if err != nil {
		t.Fatalf("ListEvents filtered: %v", err)
	}
	if len(front) != 2 {
		t.Fatalf("got %d front-door events, want 2", len(front))
	}

	limited, err := s.ListEvents(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListEvents limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: got %d events", len(limited))
	}

	pruned, err := s.PruneEvents(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d events, want 1", pruned)
	}
	remaining, err := s.ListEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListEvents after prune: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("got %d events after prune, want 2", len(remaining))
	}
}
