// Package correlator decides which session an inbound message belongs
// to and whether an outbound CANCEL/BYE is well-formed against the
// transaction it refers to. It is the single source of truth for "does
// this response finish this transaction"; it does no I/O.
package correlator

import (
	"fmt"
	"strings"

	"github.com/sweeney/sipring/internal/sipmsg"
)

// Expectation describes the client transaction a session is waiting on.
type Expectation struct {
	CallID     string
	Branch     string
	CSeqNum    uint32
	CSeqMethod string
}

// ExpectationFor derives the Expectation from a sent request.
func ExpectationFor(req *sipmsg.Message) Expectation {
	num, method, _ := req.CSeq()
	return Expectation{
		CallID:     req.CallID(),
		Branch:     req.ViaBranch(),
		CSeqNum:    num,
		CSeqMethod: method,
	}
}

// MatchesResponse reports whether msg is a response to the expected
// transaction. All of Call-ID, Via branch and CSeq number+method must
// match; anything less is a protocol violation and must be dropped.
func MatchesResponse(exp Expectation, msg *sipmsg.Message) bool {
	if !msg.IsResponse() {
		return false
	}
	if msg.CallID() != exp.CallID {
		return false
	}
	if msg.ViaBranch() != exp.Branch {
		return false
	}
	num, method, ok := msg.CSeq()
	if !ok {
		return false
	}
	return num == exp.CSeqNum && method == exp.CSeqMethod
}

// Dialog identifies a session's dialog from the session's point of view.
type Dialog struct {
	CallID    string
	LocalTag  string // our From tag
	RemoteTag string // peer's tag, empty until the dialog is established
}

// MatchesDialogRequest reports whether an inbound request (peer-initiated
// teardown) belongs to the dialog. On an inbound request the peer is the
// originator, so the tags appear swapped.
func MatchesDialogRequest(d Dialog, msg *sipmsg.Message) bool {
	if msg.IsResponse() {
		return false
	}
	if msg.CallID() != d.CallID {
		return false
	}
	if d.RemoteTag == "" {
		return false
	}
	return msg.FromTag() == d.RemoteTag && msg.ToTag() == d.LocalTag
}

// ValidateCancel checks that cancel exactly mirrors the INVITE it
// aborts: same destination, Call-ID, From (with tag), To (no tag yet),
// Via branch and CSeq number, with only the method changed. Called
// before any CANCEL is put on the wire.
func ValidateCancel(invite, cancel *sipmsg.Message) error {
	if cancel.Method != "CANCEL" {
		return fmt.Errorf("method is %q, want CANCEL", cancel.Method)
	}
	if cancel.RequestURI != invite.RequestURI {
		return fmt.Errorf("request URI %q does not mirror INVITE %q", cancel.RequestURI, invite.RequestURI)
	}
	for _, name := range []string{"Via", "From", "To", "Call-ID"} {
		if cancel.Get(name) != invite.Get(name) {
			return fmt.Errorf("%s header %q does not mirror INVITE %q", name, cancel.Get(name), invite.Get(name))
		}
	}
	if cancel.ToTag() != "" {
		return fmt.Errorf("CANCEL carries a to tag %q", cancel.ToTag())
	}
	invNum, _, _ := invite.CSeq()
	num, method, ok := cancel.CSeq()
	if !ok || method != "CANCEL" {
		return fmt.Errorf("CSeq %q is not a CANCEL", cancel.Get("CSeq"))
	}
	if num != invNum {
		return fmt.Errorf("CSeq number %d does not reuse INVITE's %d", num, invNum)
	}
	return nil
}

// ValidateBye checks that bye is a well-formed teardown for the dialog
// established by invite: same Call-ID, both tags present (our tag from
// the INVITE, the peer's from the 2xx), a strictly greater CSeq number
// and a branch never used before by this session.
func ValidateBye(invite, bye *sipmsg.Message, remoteTag string, priorBranches []string) error {
	if bye.Method != "BYE" {
		return fmt.Errorf("method is %q, want BYE", bye.Method)
	}
	if remoteTag == "" {
		return fmt.Errorf("dialog not established: no remote tag")
	}
	if bye.CallID() != invite.CallID() {
		return fmt.Errorf("Call-ID %q differs from dialog's %q", bye.CallID(), invite.CallID())
	}
	if bye.FromTag() != invite.FromTag() {
		return fmt.Errorf("from tag %q differs from dialog's %q", bye.FromTag(), invite.FromTag())
	}
	if bye.ToTag() != remoteTag {
		return fmt.Errorf("to tag %q differs from peer's %q", bye.ToTag(), remoteTag)
	}
	invNum, _, _ := invite.CSeq()
	num, method, ok := bye.CSeq()
	if !ok || method != "BYE" {
		return fmt.Errorf("CSeq %q is not a BYE", bye.Get("CSeq"))
	}
	if num <= invNum {
		return fmt.Errorf("CSeq number %d not greater than INVITE's %d", num, invNum)
	}
	branch := bye.ViaBranch()
	if !strings.HasPrefix(branch, "z9hG4bK") {
		return fmt.Errorf("branch %q missing magic cookie", branch)
	}
	for _, prior := range priorBranches {
		if branch == prior {
			return fmt.Errorf("branch %q was already used by this session", branch)
		}
	}
	return nil
}
