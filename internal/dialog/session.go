// Package dialog drives one ring attempt through its lifecycle:
// IDLE → INVITING → RINGING → {CANCELING, ANSWERED} → TERMINATED.
// Each session runs as its own goroutine; all mutation of session state
// happens inside it, fed by timer fires, inbound datagrams and control
// messages. A session holds at most one pending timer at any time.
package dialog

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/sweeney/sipring/internal/correlator"
	"github.com/sweeney/sipring/internal/sipmsg"
	"github.com/sweeney/sipring/internal/transport"
)

// Wire is the transport surface a session needs. *transport.UDP
// implements it; tests substitute a recorder.
type Wire interface {
	Send(data []byte, addr *net.UDPAddr) error
	Register(callID string, ch chan<- transport.Inbound)
	Unregister(callID string)
}

// Hooks are optional observability callbacks, invoked from the session's
// own goroutine.
type Hooks struct {
	Retransmit func()
	Transition func(from, to State)
}

// Config assembles a session. Zero values get sensible defaults.
type Config struct {
	HandleID     string
	Target       CallTarget
	Wire         Wire
	RingDuration time.Duration
	Retry        RetryPolicy
	CancelWait   time.Duration
	Clock        func() time.Time
	Hooks        Hooks
	OnFinish     func(*Session)
}

type timerReason int

const (
	timerNone timerReason = iota
	timerResponseWait
	timerRingDuration
	timerCancelWait
)

type ctrlKind int

const (
	ctrlCancel ctrlKind = iota
	ctrlExtend
)

type ctrlMsg struct {
	kind     ctrlKind
	reason   CancelReason
	duration time.Duration
	ack      chan struct{}
}

// Session is the mutable protocol state of one ring attempt.
type Session struct {
	handleID string
	target   CallTarget
	wire     Wire
	builder  *sipmsg.Builder
	clock    func() time.Time
	hooks    Hooks
	onFinish func(*Session)

	retry        RetryPolicy
	ringDuration time.Duration
	cancelWait   time.Duration

	machine *fsm.FSM

	// Protocol identity. callID and fromTag never change; toTag is set
	// at most once, from the dialog-establishing 2xx.
	callID  string
	fromTag string
	toTag   string
	cseq    uint32
	branch  string

	destAddr     *net.UDPAddr
	invite       *sipmsg.Message
	expect       *correlator.Expectation // outstanding INVITE transaction
	cancelExpect *correlator.Expectation // outstanding CANCEL transaction
	usedBranches []string

	attempts    int
	lastSendErr error

	timer    *time.Timer
	timerWhy timerReason
	got487   bool

	inbox chan transport.Inbound
	ctrl  chan ctrlMsg
	done  chan struct{}

	// Snapshot fields, guarded for cross-goroutine reads.
	mu        sync.Mutex
	startedAt time.Time
	endedAt   time.Time
	outcome   Outcome
	reason    CancelReason

	pendingOutcome Outcome // what TERMINATED will report once canceling completes
}

// New creates a session in IDLE. Call-ID, from tag and the first branch
// are generated here and never change afterwards.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.CancelWait == 0 {
		cfg.CancelWait = 5 * time.Second
	}
	if cfg.RingDuration == 0 {
		cfg.RingDuration = 30 * time.Second
	}

	s := &Session{
		handleID:     cfg.HandleID,
		target:       cfg.Target,
		wire:         cfg.Wire,
		clock:        cfg.Clock,
		hooks:        cfg.Hooks,
		onFinish:     cfg.OnFinish,
		retry:        cfg.Retry,
		ringDuration: cfg.RingDuration,
		cancelWait:   cfg.CancelWait,
		callID:       sipmsg.GenerateCallID(),
		fromTag:      sipmsg.GenerateTag(),
		branch:       sipmsg.GenerateBranch(),
		cseq:         1,
		inbox:        make(chan transport.Inbound, 8),
		ctrl:         make(chan ctrlMsg, 4),
		done:         make(chan struct{}),
	}
	s.builder = &sipmsg.Builder{
		TargetUser: cfg.Target.User,
		TargetHost: cfg.Target.Host,
		TargetPort: cfg.Target.Port,
		CallerName: cfg.Target.CallerName,
		CallerUser: cfg.Target.CallerUser,
		LocalHost:  cfg.Target.LocalHost,
		LocalPort:  cfg.Target.LocalPort,
		UserAgent:  cfg.Target.UserAgent,
	}
	s.usedBranches = []string{s.branch}
	s.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "invite", Src: []string{string(StateIdle)}, Dst: string(StateInviting)},
			{Name: "ringing", Src: []string{string(StateInviting)}, Dst: string(StateRinging)},
			{Name: "answer", Src: []string{string(StateInviting), string(StateRinging)}, Dst: string(StateAnswered)},
			{Name: "cancel", Src: []string{string(StateInviting), string(StateRinging)}, Dst: string(StateCanceling)},
			{Name: "terminate", Src: []string{
				string(StateIdle), string(StateInviting), string(StateRinging),
				string(StateCanceling), string(StateAnswered),
			}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if s.hooks.Transition != nil && e.Src != e.Dst {
					s.hooks.Transition(State(e.Src), State(e.Dst))
				}
			},
		},
	)
	return s
}

// HandleID returns the coordinator-assigned handle.
func (s *Session) HandleID() string { return s.handleID }

// CallID returns the session's Call-ID.
func (s *Session) CallID() string { return s.callID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.machine.Current()) }

// Done is closed once the session reaches TERMINATED and has cleaned up.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot is the non-blocking status view.
type Snapshot struct {
	HandleID string
	State    State
	Elapsed  time.Duration
	Outcome  Outcome
	Reason   CancelReason
}

// Snapshot returns the current state, elapsed time and terminal outcome
// if reached. Safe to call from any goroutine.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		HandleID: s.handleID,
		State:    s.State(),
		Outcome:  s.outcome,
		Reason:   s.reason,
	}
	if !s.startedAt.IsZero() {
		end := s.endedAt
		if end.IsZero() {
			end = s.clock()
		}
		snap.Elapsed = end.Sub(s.startedAt)
	}
	return snap
}

// Cancel requests cancellation without waiting for it to be processed.
func (s *Session) Cancel(reason CancelReason) {
	s.control(ctrlMsg{kind: ctrlCancel, reason: reason})
}

// CancelAndWait requests cancellation and blocks until the session has
// acted on it (abort/teardown sent), or the session is already done.
// The replace overlap policy relies on this ordering.
func (s *Session) CancelAndWait(reason CancelReason) {
	c := ctrlMsg{kind: ctrlCancel, reason: reason, ack: make(chan struct{})}
	if s.control(c) {
		select {
		case <-c.ack:
		case <-s.done:
		}
	}
}

// Extend re-arms the ring-duration window to the full given duration
// without resending anything.
func (s *Session) Extend(d time.Duration) {
	s.control(ctrlMsg{kind: ctrlExtend, duration: d})
}

func (s *Session) control(c ctrlMsg) bool {
	select {
	case s.ctrl <- c:
		return true
	case <-s.done:
		return false
	}
}

// Start launches the session goroutine and sends the initial INVITE.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	s.wire.Register(s.callID, s.inbox)
	s.begin()

	ctxDone := ctx.Done()
	for s.State() != StateTerminated {
		select {
		case in := <-s.inbox:
			s.onMessage(in.Msg)
		case <-s.timerC():
			why := s.timerWhy
			s.timer = nil
			s.timerWhy = timerNone
			s.onTimeout(why)
		case c := <-s.ctrl:
			s.onControl(c)
			if c.ack != nil {
				close(c.ack)
			}
		case <-ctxDone:
			ctxDone = nil
			s.onControl(ctrlMsg{kind: ctrlCancel, reason: ReasonShutdown})
		}
	}

	s.wire.Unregister(s.callID)
	close(s.done)
	if s.onFinish != nil {
		s.onFinish(s)
	}
}

// begin performs IDLE → INVITING: builds and sends the INVITE, arms the
// response-wait timer.
func (s *Session) begin() {
	s.mu.Lock()
	s.startedAt = s.clock()
	s.mu.Unlock()

	addr, err := s.target.resolve()
	if err != nil {
		log.Printf("call %s: %v", s.callID, err)
		s.terminate(OutcomeError, ReasonUser)
		return
	}
	s.destAddr = addr

	s.invite = s.builder.Invite(s.callID, s.fromTag, s.branch, s.cseq)
	exp := correlator.ExpectationFor(s.invite)
	s.expect = &exp

	s.event("invite")
	s.attempts = 1
	s.send(s.invite)
	s.armTimer(s.retry.Interval(0), timerResponseWait)
}

func (s *Session) onTimeout(why timerReason) {
	switch {
	case why == timerResponseWait && s.State() == StateInviting:
		if s.attempts >= s.retry.MaxAttempts {
			if s.lastSendErr != nil {
				s.terminate(OutcomeError, ReasonTimeout)
			} else {
				s.terminate(OutcomeNoResponse, ReasonTimeout)
			}
			return
		}
		// Retransmit the identical request: same branch, same CSeq.
		s.send(s.invite)
		if s.hooks.Retransmit != nil {
			s.hooks.Retransmit()
		}
		interval := s.retry.Interval(s.attempts)
		s.attempts++
		s.armTimer(interval, timerResponseWait)

	case why == timerRingDuration && s.State() == StateRinging:
		s.startCancel(OutcomeTimeout, ReasonTimeout)

	case why == timerRingDuration && s.State() == StateAnswered:
		// The ring window doubles as the hangup budget once answered.
		s.teardown(ReasonTimeout)

	case why == timerCancelWait && s.State() == StateCanceling:
		// The abort acknowledgment is advisory; its absence is success.
		s.terminate(s.pendingOutcome, s.reasonLocked())
	}
}

func (s *Session) onMessage(msg *sipmsg.Message) {
	if msg.IsResponse() {
		s.onResponse(msg)
		return
	}
	s.onRequest(msg)
}

func (s *Session) onResponse(msg *sipmsg.Message) {
	if s.cancelExpect != nil && correlator.MatchesResponse(*s.cancelExpect, msg) {
		// The CANCEL's own 200 is advisory; termination is confirmed by
		// the 487 on the INVITE transaction or the cancel-wait timeout.
		return
	}

	if s.expect == nil || !correlator.MatchesResponse(*s.expect, msg) {
		// Matches our Call-ID (it was routed here) but fails the strict
		// transaction checks: a protocol violation. Drop it.
		log.Printf("call %s: dropping uncorrelated response %d", s.callID, msg.StatusCode)
		return
	}

	switch state := s.State(); {
	case msg.StatusCode < 180:
		// 100 Trying: the transaction is alive but nothing transitions.

	case msg.StatusCode < 200:
		if state == StateInviting {
			s.event("ringing")
			s.armTimer(s.ringDuration, timerRingDuration)
		}

	case msg.StatusCode < 300:
		switch state {
		case StateInviting, StateRinging:
			s.answered(msg)
		case StateCanceling:
			// Race: the phone answered before our CANCEL landed. ACK to
			// stop its retransmissions, then tear the dialog down.
			s.toTag = msg.ToTag()
			s.expect = nil
			s.sendAck()
			s.teardown(s.reasonLocked())
		}

	default:
		s.expect = nil
		switch state {
		case StateInviting, StateRinging:
			// Final rejection: dialog never established, no teardown.
			switch msg.StatusCode {
			case 486, 600:
				s.terminate(OutcomeBusy, ReasonPeer)
			case 487:
				s.terminate(OutcomeRejected, ReasonPeer)
			default:
				s.terminate(OutcomeRejected, ReasonPeer)
			}
		case StateCanceling:
			s.got487 = true
			s.maybeFinishCancel()
		}
	}
}

func (s *Session) onRequest(msg *sipmsg.Message) {
	d := correlator.Dialog{CallID: s.callID, LocalTag: s.fromTag, RemoteTag: s.toTag}
	if msg.Method == "BYE" && correlator.MatchesDialogRequest(d, msg) {
		// Peer-initiated teardown of the established dialog.
		s.send(sipmsg.OKFor(msg))
		s.terminate(OutcomeHangup, ReasonPeer)
		return
	}
	log.Printf("call %s: dropping unexpected %s request", s.callID, msg.Method)
}

func (s *Session) onControl(c ctrlMsg) {
	switch c.kind {
	case ctrlCancel:
		switch s.State() {
		case StateInviting, StateRinging:
			outcome := OutcomeCancelled
			if c.reason == ReasonPolicy {
				outcome = OutcomeReplaced
			}
			s.startCancel(outcome, c.reason)
		case StateAnswered:
			s.teardown(c.reason)
		default:
			// Already canceling or terminated: nothing to do.
		}
	case ctrlExtend:
		d := c.duration
		if d == 0 {
			d = s.ringDuration
		}
		s.ringDuration = d
		if s.State() == StateRinging || s.State() == StateAnswered {
			s.armTimer(d, timerRingDuration)
		}
	}
}

// answered handles the dialog-establishing 2xx: stores the peer tag,
// ACKs, and keeps the ring window running as the hangup budget.
func (s *Session) answered(msg *sipmsg.Message) {
	s.toTag = msg.ToTag()
	s.expect = nil
	s.event("answer")
	s.sendAck()
	if s.timerWhy != timerRingDuration {
		s.armTimer(s.ringDuration, timerRingDuration)
	}
}

func (s *Session) sendAck() {
	branch := sipmsg.GenerateBranch()
	s.usedBranches = append(s.usedBranches, branch)
	s.send(s.builder.Ack(s.callID, s.fromTag, s.toTag, branch, s.cseq))
}

// startCancel performs {INVITING,RINGING} → CANCELING: sends the abort
// request mirroring the INVITE and arms the abort-response-wait timer.
func (s *Session) startCancel(outcome Outcome, reason CancelReason) {
	cancel := s.builder.Cancel(s.callID, s.fromTag, s.branch, s.cseq)
	if err := correlator.ValidateCancel(s.invite, cancel); err != nil {
		log.Printf("call %s: refusing malformed CANCEL: %v", s.callID, err)
		s.terminate(OutcomeError, reason)
		return
	}
	exp := correlator.ExpectationFor(cancel)
	s.cancelExpect = &exp
	s.pendingOutcome = outcome
	s.setReason(reason)
	s.event("cancel")
	s.send(cancel)
	s.armTimer(s.cancelWait, timerCancelWait)
}

func (s *Session) maybeFinishCancel() {
	if s.got487 {
		s.terminate(s.pendingOutcome, s.reasonLocked())
	}
}

// teardown performs ANSWERED → TERMINATED: sends BYE with an incremented
// CSeq and a fresh branch, then terminates without waiting (best-effort;
// any late response lands on the unmatched path).
func (s *Session) teardown(reason CancelReason) {
	s.cseq++ // incremented exactly once, only for the teardown
	branch := sipmsg.GenerateBranch()
	bye := s.builder.Bye(s.callID, s.fromTag, s.toTag, branch, s.cseq)
	if err := correlator.ValidateBye(s.invite, bye, s.toTag, s.usedBranches); err != nil {
		log.Printf("call %s: refusing malformed BYE: %v", s.callID, err)
		s.terminate(OutcomeError, reason)
		return
	}
	s.usedBranches = append(s.usedBranches, branch)
	s.send(bye)
	s.terminate(OutcomeHangup, reason)
}

func (s *Session) terminate(outcome Outcome, reason CancelReason) {
	s.clearTimer()
	s.mu.Lock()
	s.outcome = outcome
	s.reason = reason
	s.endedAt = s.clock()
	s.mu.Unlock()
	s.event("terminate")
}

func (s *Session) send(msg *sipmsg.Message) {
	if err := s.wire.Send(msg.Encode(), s.destAddr); err != nil {
		log.Printf("call %s: %v", s.callID, err)
		s.lastSendErr = err
	}
}

func (s *Session) event(name string) {
	if err := s.machine.Event(context.Background(), name); err != nil {
		log.Printf("call %s: state machine rejected %q in %s: %v", s.callID, name, s.State(), err)
	}
}

// armTimer replaces the session's single pending timer. A session never
// has two timers outstanding.
func (s *Session) armTimer(d time.Duration, why timerReason) {
	s.clearTimer()
	s.timer = time.NewTimer(d)
	s.timerWhy = why
}

func (s *Session) clearTimer() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer = nil
	s.timerWhy = timerNone
}

func (s *Session) timerC() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

func (s *Session) setReason(r CancelReason) {
	s.mu.Lock()
	s.reason = r
	s.mu.Unlock()
}

func (s *Session) reasonLocked() CancelReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Result reports the terminal outcome and reason. Valid once Done is
// closed or State is TERMINATED.
func (s *Session) Result() (Outcome, CancelReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.reason
}
