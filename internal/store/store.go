// Package store persists ring profiles and the ring event log in a
// single SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no profile matches the given ID or slug.
	ErrNotFound = errors.New("profile not found")
	// ErrSlugTaken is returned when a profile's slug collides with another's.
	ErrSlugTaken = errors.New("slug already in use")
)

// Profile is one configured ring target.
type Profile struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	Slug          string        `json:"slug" yaml:"slug"`
	SIPUser       string        `json:"sip_user" yaml:"sip_user"`
	SIPServer     string        `json:"sip_server" yaml:"sip_server"`
	SIPPort       int           `json:"sip_port" yaml:"sip_port"`
	CallerName    string        `json:"caller_name" yaml:"caller_name"`
	CallerUser    string        `json:"caller_user" yaml:"caller_user"`
	RingDuration  time.Duration `json:"ring_duration" yaml:"ring_duration"`
	LocalPort     int           `json:"local_port" yaml:"local_port"`
	OverlapPolicy string        `json:"overlap_policy" yaml:"overlap_policy"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at"`
	LastRingAt    *time.Time    `json:"last_ring_at,omitempty" yaml:"last_ring_at,omitempty"`
	LastRingState string        `json:"last_ring_status,omitempty" yaml:"last_ring_status,omitempty"`
}

// RingEvent is one finished ring attempt, as logged.
type RingEvent struct {
	ID        int64     `json:"id"`
	ProfileID string    `json:"profile_id"`
	Slug      string    `json:"slug"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	slug             TEXT NOT NULL UNIQUE,
	sip_user         TEXT NOT NULL,
	sip_server       TEXT NOT NULL,
	sip_port         INTEGER NOT NULL DEFAULT 5060,
	caller_name      TEXT NOT NULL DEFAULT '',
	caller_user      TEXT NOT NULL DEFAULT 'doorbell',
	ring_duration_s  INTEGER NOT NULL DEFAULT 30,
	local_port       INTEGER NOT NULL DEFAULT 5062,
	overlap_policy   TEXT NOT NULL DEFAULT 'ignore',
	enabled          INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL,
	last_ring_at     INTEGER,
	last_ring_status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id TEXT NOT NULL,
	slug       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_profile ON events(profile_id, ended_at);
`

// Open opens (creating if needed) the SQLite store at path.
func Open(path string) (*Store, error) {
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Slugify derives a URL-safe slug from a profile name: lowercase, runs
// of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// normalize fills defaults and derives the slug.
func normalize(p *Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.TrimSpace(p.SIPUser) == "" {
		return fmt.Errorf("sip_user is required")
	}
	if strings.TrimSpace(p.SIPServer) == "" {
		return fmt.Errorf("sip_server is required")
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Name)
	}
	if p.Slug == "" {
		return fmt.Errorf("name %q yields an empty slug", p.Name)
	}
	if p.SIPPort == 0 {
		p.SIPPort = 5060
	}
	if p.CallerUser == "" {
		p.CallerUser = "doorbell"
	}
	if p.RingDuration == 0 {
		p.RingDuration = 30 * time.Second
	}
	if p.RingDuration < time.Second || p.RingDuration > 300*time.Second {
		return fmt.Errorf("ring_duration %s out of range 1s..300s", p.RingDuration)
	}
	if p.LocalPort == 0 {
		p.LocalPort = 5062
	}
	if p.OverlapPolicy == "" {
		p.OverlapPolicy = "ignore"
	}
	switch p.OverlapPolicy {
	case "ignore", "extend", "replace":
	default:
		return fmt.Errorf("unknown overlap_policy %q", p.OverlapPolicy)
	}
	return nil
}

// CreateProfile inserts a new profile, assigning its ID and slug.
func (s *Store) CreateProfile(ctx context.Context, p *Profile) error {
	if err := normalize(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (id, name, slug, sip_user, sip_server, sip_port, caller_name,
	caller_user, ring_duration_s, local_port, overlap_policy, enabled, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.SIPUser, p.SIPServer, p.SIPPort, p.CallerName,
		p.CallerUser, int64(p.RingDuration/time.Second), p.LocalPort,
		p.OverlapPolicy, boolInt(p.Enabled), toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// UpdateProfile replaces the stored profile with the same ID.
func (s *Store) UpdateProfile(ctx context.Context, p *Profile) error {
	if err := normalize(p); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE profiles SET name = ?, slug = ?, sip_user = ?, sip_server = ?, sip_port = ?,
	caller_name = ?, caller_user = ?, ring_duration_s = ?, local_port = ?,
	overlap_policy = ?, enabled = ?
WHERE id = ?`,
		p.Name, p.Slug, p.SIPUser, p.SIPServer, p.SIPPort,
		p.CallerName, p.CallerUser, int64(p.RingDuration/time.Second), p.LocalPort,
		p.OverlapPolicy, boolInt(p.Enabled), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
		}
		return fmt.Errorf("update profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProfile removes a profile by UUID or slug.
func (s *Store) DeleteProfile(ctx context.Context, idOrSlug string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM profiles WHERE id = ? OR slug = ?`, idOrSlug, idOrSlug)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const profileColumns = `id, name, slug, sip_user, sip_server, sip_port, caller_name,
	caller_user, ring_duration_s, local_port, overlap_policy, enabled, created_at,
	last_ring_at, last_ring_status`

// GetProfile looks a profile up by UUID or slug.
func (s *Store) GetProfile(ctx context.Context, idOrSlug string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ? OR slug = ?`,
		idOrSlug, idOrSlug)
	return scanProfile(row)
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateRingStatus records the latest ring attempt's terminal state on
// the profile itself, for quick listing.
func (s *Store) UpdateRingStatus(ctx context.Context, profileID, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET last_ring_at = ?, last_ring_status = ? WHERE id = ?`,
		toMillis(at), status, profileID)
	if err != nil {
		return fmt.Errorf("update ring status: %w", err)
	}
	return nil
}

// AppendEvent logs one finished ring attempt.
func (s *Store) AppendEvent(ctx context.Context, e RingEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (profile_id, slug, outcome, reason, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		e.ProfileID, e.Slug, e.Outcome, e.Reason,
		toMillis(e.StartedAt), toMillis(e.EndedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns logged events newest first, optionally filtered by
// profile ID or slug. limit <= 0 means a default of 100.
func (s *Store) ListEvents(ctx context.Context, idOrSlug string, limit int) ([]RingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, profile_id, slug, outcome, reason, started_at, ended_at
FROM events`
	args := []any{}
	if idOrSlug != "" {
		query += ` WHERE profile_id = ? OR slug = ?`
		args = append(args, idOrSlug, idOrSlug)
	}
	query += ` ORDER BY ended_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []RingEvent
	for rows.Next() {
		var e RingEvent
		var started, ended int64
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Slug, &e.Outcome, &e.Reason,
			&started, &ended); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StartedAt = fromMillis(started)
		e.EndedAt = fromMillis(ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneEvents deletes events that ended before the cutoff. Returns the
// number of rows removed.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE ended_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var ringSeconds int64
	var enabled int
	var created int64
	var lastRingAt sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.SIPUser, &p.SIPServer, &p.SIPPort,
		&p.CallerName, &p.CallerUser, &ringSeconds, &p.LocalPort, &p.OverlapPolicy,
		&enabled, &created, &lastRingAt, &p.LastRingState)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.RingDuration = time.Duration(ringSeconds) * time.Second
	p.Enabled = enabled != 0
	p.CreatedAt = fromMillis(created)
	if lastRingAt.Valid {
		t := fromMillis(lastRingAt.Int64)
		p.LastRingAt = &t
	}
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
