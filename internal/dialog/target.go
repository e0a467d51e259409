package dialog

import (
	"fmt"
	"net"
)

// CallTarget is the immutable addressing for one ring attempt. It is
// supplied by the profile store; the engine never mutates it.
type CallTarget struct {
	User       string // extension to ring
	Host       string
	Port       int
	CallerName string // human-readable name shown on the handset
	CallerUser string
	LocalHost  string // address advertised in Via/From/Contact
	LocalPort  int
	UserAgent  string
}

func (t CallTarget) resolve() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.Host, t.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving target %s:%d: %w", t.Host, t.Port, err)
	}
	return addr, nil
}

// State is a point in the session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateInviting   State = "inviting"
	StateRinging    State = "ringing"
	StateCanceling  State = "canceling"
	StateAnswered   State = "answered"
	StateTerminated State = "terminated"
)

// Outcome is the terminal result of a ring attempt.
type Outcome string

const (
	OutcomeNoResponse Outcome = "no_response"
	OutcomeRejected   Outcome = "rejected"
	OutcomeBusy       Outcome = "busy"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeReplaced   Outcome = "replaced"
	OutcomeHangup     Outcome = "hangup"
	OutcomeError      Outcome = "error"
)

// CancelReason records what triggered a cancellation. All reasons take
// the same state-machine path; the reason exists for observability only.
type CancelReason string

const (
	ReasonUser     CancelReason = "user"
	ReasonPolicy   CancelReason = "policy"
	ReasonTimeout  CancelReason = "timeout"
	ReasonShutdown CancelReason = "shutdown"
	ReasonPeer     CancelReason = "peer"
)
