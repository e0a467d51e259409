package sipmsg

import "fmt"

// Builder constructs the outbound requests for one ring attempt. All
// fields are fixed for the attempt's lifetime; per-transaction values
// (branch, CSeq, tags) are passed per call.
type Builder struct {
	TargetUser string
	TargetHost string
	TargetPort int
	CallerName string
	CallerUser string
	LocalHost  string
	LocalPort  int
	UserAgent  string
}

func (b *Builder) requestURI() string {
	return fmt.Sprintf("sip:%s@%s", b.TargetUser, b.TargetHost)
}

func (b *Builder) via(branch string) string {
	return fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s", b.LocalHost, b.LocalPort, branch)
}

func (b *Builder) from(fromTag string) string {
	return fmt.Sprintf("%q <sip:%s@%s>;tag=%s", b.CallerName, b.CallerUser, b.LocalHost, fromTag)
}

func (b *Builder) to(toTag string) string {
	if toTag == "" {
		return fmt.Sprintf("<sip:%s@%s>", b.TargetUser, b.TargetHost)
	}
	return fmt.Sprintf("<sip:%s@%s>;tag=%s", b.TargetUser, b.TargetHost, toTag)
}

// Invite builds the call-setup request. The header order matches what
// the reference hardware was tested against and must not be changed.
func (b *Builder) Invite(callID, fromTag, branch string, cseq uint32) *Message {
	m := NewRequest("INVITE", b.requestURI())
	m.Add("Via", b.via(branch))
	m.Add("Max-Forwards", "70")
	m.Add("From", b.from(fromTag))
	m.Add("To", b.to(""))
	m.Add("Call-ID", callID)
	m.Add("CSeq", fmt.Sprintf("%d INVITE", cseq))
	m.Add("Contact", fmt.Sprintf("<sip:%s@%s:%d>", b.CallerUser, b.LocalHost, b.LocalPort))
	// Two alternate caller-identity forms; some handsets only honor one.
	m.Add("P-Asserted-Identity", fmt.Sprintf("%q <sip:%s@local>", b.CallerName, b.CallerUser))
	m.Add("Remote-Party-ID", fmt.Sprintf("%q <sip:%s@local>;party=calling;screen=yes;privacy=off", b.CallerName, b.CallerUser))
	m.Add("User-Agent", b.UserAgent)
	m.Add("Content-Length", "0")
	return m
}

// Cancel builds the abort request for an outstanding INVITE. It mirrors
// the INVITE exactly (URI, branch, tags, CSeq number), only the method
// differs.
func (b *Builder) Cancel(callID, fromTag, branch string, cseq uint32) *Message {
	m := NewRequest("CANCEL", b.requestURI())
	m.Add("Via", b.via(branch))
	m.Add("Max-Forwards", "70")
	m.Add("From", b.from(fromTag))
	m.Add("To", b.to(""))
	m.Add("Call-ID", callID)
	m.Add("CSeq", fmt.Sprintf("%d CANCEL", cseq))
	m.Add("Content-Length", "0")
	return m
}

// Ack builds the dialog-completion acknowledgment for a 2xx answer.
// branch must be freshly generated; cseq is the INVITE's number.
func (b *Builder) Ack(callID, fromTag, toTag, branch string, cseq uint32) *Message {
	m := NewRequest("ACK", b.requestURI())
	m.Add("Via", b.via(branch))
	m.Add("Max-Forwards", "70")
	m.Add("From", b.from(fromTag))
	m.Add("To", b.to(toTag))
	m.Add("Call-ID", callID)
	m.Add("CSeq", fmt.Sprintf("%d ACK", cseq))
	m.Add("Content-Length", "0")
	return m
}

// Bye builds the teardown request for an established dialog. branch must
// be freshly generated and cseq strictly greater than the INVITE's.
func (b *Builder) Bye(callID, fromTag, toTag, branch string, cseq uint32) *Message {
	m := NewRequest("BYE", b.requestURI())
	m.Add("Via", b.via(branch))
	m.Add("Max-Forwards", "70")
	m.Add("From", b.from(fromTag))
	m.Add("To", b.to(toTag))
	m.Add("Call-ID", callID)
	m.Add("CSeq", fmt.Sprintf("%d BYE", cseq))
	m.Add("Content-Length", "0")
	return m
}

// OKFor builds a minimal 200 OK answering an inbound request, echoing
// the correlation headers back. Used only to acknowledge a peer BYE.
func OKFor(req *Message) *Message {
	m := NewResponse(200, "OK")
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		if v := req.Get(name); v != "" {
			m.Add(name, v)
		}
	}
	m.Add("Content-Length", "0")
	return m
}
