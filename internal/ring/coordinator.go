// Package ring arbitrates concurrent ring requests: at most one active
// session per logical target, with a configurable policy for what a new
// trigger does to an already-ringing target.
package ring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/sipring/internal/dialog"
	"github.com/sweeney/sipring/internal/metrics"
)

// OverlapPolicy governs a trigger against a target that is already ringing.
type OverlapPolicy string

const (
	PolicyIgnore  OverlapPolicy = "ignore"  // keep the existing session untouched
	PolicyExtend  OverlapPolicy = "extend"  // re-arm its ring window to the full duration
	PolicyReplace OverlapPolicy = "replace" // cancel it and start fresh
)

// Valid reports whether p is a known policy.
func (p OverlapPolicy) Valid() bool {
	switch p {
	case PolicyIgnore, PolicyExtend, PolicyReplace:
		return true
	}
	return false
}

// Target is the logical ring destination as configured, identified by
// its profile ID (not by any call identifier).
type Target struct {
	ID           string
	Slug         string
	Call         dialog.CallTarget
	RingDuration time.Duration
	Policy       OverlapPolicy
}

// Event describes one finished ring attempt.
type Event struct {
	HandleID  string
	TargetID  string
	Slug      string
	Outcome   dialog.Outcome
	Reason    dialog.CancelReason
	StartedAt time.Time
	EndedAt   time.Time
}

// Status is the non-blocking view of a handle. Found is false for
// handles the coordinator no longer (or never) knew.
type Status struct {
	Found    bool
	HandleID string
	State    dialog.State
	Elapsed  time.Duration
	Outcome  dialog.Outcome
	Reason   dialog.CancelReason
}

// keep this many terminal snapshots around for late Status calls
const finishedArchiveSize = 256

type entry struct {
	target  Target
	sess    *dialog.Session
	started time.Time
}

// Coordinator owns all active sessions. The map lock is held only
// across lookups and updates, never across a send or a timer wait.
type Coordinator struct {
	wire    dialog.Wire
	clock   func() time.Time
	metrics *metrics.Metrics
	retry   dialog.RetryPolicy
	onEvent func(Event)

	mu       sync.Mutex
	byTarget map[string]*entry
	byHandle map[string]*entry
	finished map[string]Status
	order    []string // finished handle eviction order
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryPolicy overrides the INVITE retransmission schedule.
func WithRetryPolicy(p dialog.RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

// WithEventFunc installs the terminal-outcome callback (event log, MQTT).
func WithEventFunc(fn func(Event)) Option {
	return func(c *Coordinator) { c.onEvent = fn }
}

// New creates a Coordinator sending through wire.
func New(wire dialog.Wire, opts ...Option) *Coordinator {
	c := &Coordinator{
		wire:     wire,
		clock:    time.Now,
		retry:    dialog.DefaultRetryPolicy,
		byTarget: make(map[string]*entry),
		byHandle: make(map[string]*entry),
		finished: make(map[string]Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts (or, per policy, reuses) a ring attempt for the target.
// durationOverride of zero means the target's configured duration.
// Safe for concurrent use; never blocks beyond a map access, except that
// the replace policy waits for the old session to have put its abort on
// the wire before the new setup request is sent.
func (c *Coordinator) Trigger(ctx context.Context, target Target, durationOverride time.Duration) (Status, error) {
	if target.ID == "" {
		return Status{}, fmt.Errorf("target has no ID")
	}
	policy := target.Policy
	if !policy.Valid() {
		policy = PolicyIgnore
	}
	duration := target.RingDuration
	if durationOverride > 0 {
		duration = durationOverride
	}

	c.mu.Lock()
	existing := c.byTarget[target.ID]
	if existing != nil && existing.sess.State() != dialog.StateTerminated {
		switch policy {
		case PolicyIgnore:
			snap := statusOf(existing)
			c.mu.Unlock()
			return snap, nil
		case PolicyExtend:
			c.mu.Unlock()
			existing.sess.Extend(duration)
			return statusOf(existing), nil
		}
	} else {
		existing = nil
	}

	// Create and publish the replacement under the same lock, so a
	// concurrent trigger for this target sees it immediately.
	handleID := uuid.NewString()
	e := &entry{target: target, started: c.clock()}
	e.sess = dialog.New(dialog.Config{
		HandleID:     handleID,
		Target:       target.Call,
		Wire:         c.wire,
		RingDuration: duration,
		Retry:        c.retry,
		Clock:        c.clock,
		Hooks: dialog.Hooks{
			Retransmit: c.metrics.RetransmissionRecorded,
		},
		OnFinish: func(s *dialog.Session) { c.finish(target, s) },
	})
	c.byTarget[target.ID] = e
	c.byHandle[handleID] = e
	c.mu.Unlock()

	if existing != nil {
		// The old session must emit its abort before the new INVITE goes
		// out, so the phone never sees two overlapping setups.
		existing.sess.CancelAndWait(dialog.ReasonPolicy)
	}

	c.metrics.AttemptStarted()
	e.sess.Start(ctx)
	return statusOf(e), nil
}

func (c *Coordinator) finish(target Target, s *dialog.Session) {
	snap := s.Snapshot()
	outcome, reason := s.Result()

	c.mu.Lock()
	if e := c.byTarget[target.ID]; e != nil && e.sess == s {
		delete(c.byTarget, target.ID)
	}
	delete(c.byHandle, s.HandleID())
	c.finished[s.HandleID()] = Status{
		Found:    true,
		HandleID: s.HandleID(),
		State:    dialog.StateTerminated,
		Elapsed:  snap.Elapsed,
		Outcome:  outcome,
		Reason:   reason,
	}
	c.order = append(c.order, s.HandleID())
	for len(c.order) > finishedArchiveSize {
		delete(c.finished, c.order[0])
		c.order = c.order[1:]
	}
	c.mu.Unlock()

	c.metrics.AttemptFinished(string(outcome), snap.Elapsed.Seconds())

	if c.onEvent != nil {
		now := c.clock()
		c.onEvent(Event{
			HandleID:  s.HandleID(),
			TargetID:  target.ID,
			Slug:      target.Slug,
			Outcome:   outcome,
			Reason:    reason,
			StartedAt: now.Add(-snap.Elapsed),
			EndedAt:   now,
		})
	}
}

// Cancel drives the referenced session's cancellation path, whatever its
// state. Cancelling an unknown or finished handle is a no-op.
func (c *Coordinator) Cancel(handleID string) Status {
	c.mu.Lock()
	e := c.byHandle[handleID]
	c.mu.Unlock()

	if e == nil {
		return c.Status(handleID)
	}
	e.sess.Cancel(dialog.ReasonUser)
	return statusOf(e)
}

// CancelTarget cancels whatever session is active for the target ID.
func (c *Coordinator) CancelTarget(targetID string) (Status, bool) {
	c.mu.Lock()
	e := c.byTarget[targetID]
	c.mu.Unlock()

	if e == nil {
		return Status{}, false
	}
	e.sess.Cancel(dialog.ReasonUser)
	return statusOf(e), true
}

// Status returns the snapshot for a handle. It never errors: unknown or
// long-finished handles report Found == false.
func (c *Coordinator) Status(handleID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.byHandle[handleID]; e != nil {
		return statusOf(e)
	}
	if st, ok := c.finished[handleID]; ok {
		return st
	}
	return Status{HandleID: handleID}
}

// ActiveTarget returns the active handle for a target, if any.
func (c *Coordinator) ActiveTarget(targetID string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.byTarget[targetID]; e != nil && e.sess.State() != dialog.StateTerminated {
		return statusOf(e), true
	}
	return Status{}, false
}

// ActiveCount reports how many sessions are currently tracked as active.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byTarget)
}

func statusOf(e *entry) Status {
	snap := e.sess.Snapshot()
	return Status{
		Found:    true,
		HandleID: e.sess.HandleID(),
		State:    snap.State,
		Elapsed:  snap.Elapsed,
		Outcome:  snap.Outcome,
		Reason:   snap.Reason,
	}
}
