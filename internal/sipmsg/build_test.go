package sipmsg

import (
	"strings"
	"testing"
)

func testBuilder() *Builder {
	return &Builder{
		TargetUser: "21",
		TargetHost: "192.168.1.20",
		TargetPort: 5060,
		CallerName: "Doorbell",
		CallerUser: "doorbell",
		LocalHost:  "192.168.1.10",
		LocalPort:  5062,
		UserAgent:  "sipring",
	}
}

func TestInviteWireForm(t *testing.T) {
	b := testBuilder()
	wire := string(b.Invite("sipring-a1b2c3d4", "fromtag01", "z9hG4bKabc123def456", 1).Encode())

	want := "INVITE sip:21@192.168.1.20 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.10:5062;branch=z9hG4bKabc123def456\r\n" +
		"Max-Forwards: 70\r\n" +
		"From: \"Doorbell\" <sip:doorbell@192.168.1.10>;tag=fromtag01\r\n" +
		"To: <sip:21@192.168.1.20>\r\n" +
		"Call-ID: sipring-a1b2c3d4\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Contact: <sip:doorbell@192.168.1.10:5062>\r\n" +
		"P-Asserted-Identity: \"Doorbell\" <sip:doorbell@local>\r\n" +
		"Remote-Party-ID: \"Doorbell\" <sip:doorbell@local>;party=calling;screen=yes;privacy=off\r\n" +
		"User-Agent: sipring\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	if wire != want {
		t.Errorf("INVITE wire form mismatch:\ngot:\n%s\nwant:\n%s", wire, want)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	b := testBuilder()
	first := string(b.Invite("cid", "ft", "z9hG4bKx", 1).Encode())
	second := string(b.Invite("cid", "ft", "z9hG4bKx", 1).Encode())
	if first != second {
		t.Error("expected identical bytes for identical input")
	}
}

func TestCancelMirrorsInvite(t *testing.T) {
	b := testBuilder()
	inv := b.Invite("sipring-a1b2c3d4", "fromtag01", "z9hG4bKabc123def456", 1)
	cancel := b.Cancel("sipring-a1b2c3d4", "fromtag01", "z9hG4bKabc123def456", 1)

	if cancel.Method != "CANCEL" {
		t.Fatalf("expected CANCEL, got %q", cancel.Method)
	}
	if cancel.RequestURI != inv.RequestURI {
		t.Errorf("request URI differs: %q vs %q", cancel.RequestURI, inv.RequestURI)
	}
	for _, name := range []string{"Via", "From", "To", "Call-ID"} {
		if cancel.Get(name) != inv.Get(name) {
			t.Errorf("%s differs: %q vs %q", name, cancel.Get(name), inv.Get(name))
		}
	}
	if cancel.Get("CSeq") != "1 CANCEL" {
		t.Errorf("expected CSeq '1 CANCEL', got %q", cancel.Get("CSeq"))
	}
	if cancel.ToTag() != "" {
		t.Errorf("CANCEL must not carry a to tag, got %q", cancel.ToTag())
	}
}

func TestByeCarriesBothTagsAndNewCSeq(t *testing.T) {
	b := testBuilder()
	bye := b.Bye("sipring-a1b2c3d4", "fromtag01", "peertag99", "z9hG4bKfreshbranch", 2)

	if bye.FromTag() != "fromtag01" {
		t.Errorf("unexpected from tag: %q", bye.FromTag())
	}
	if bye.ToTag() != "peertag99" {
		t.Errorf("unexpected to tag: %q", bye.ToTag())
	}
	if bye.Get("CSeq") != "2 BYE" {
		t.Errorf("expected CSeq '2 BYE', got %q", bye.Get("CSeq"))
	}
	if bye.ViaBranch() != "z9hG4bKfreshbranch" {
		t.Errorf("unexpected branch: %q", bye.ViaBranch())
	}
}

func TestAckUsesInviteCSeqNumber(t *testing.T) {
	b := testBuilder()
	ack := b.Ack("sipring-a1b2c3d4", "fromtag01", "peertag99", "z9hG4bKackbranch", 1)
	if ack.Get("CSeq") != "1 ACK" {
		t.Errorf("expected CSeq '1 ACK', got %q", ack.Get("CSeq"))
	}
	if ack.ToTag() != "peertag99" {
		t.Errorf("unexpected to tag: %q", ack.ToTag())
	}
}

func TestOKForEchoesCorrelationHeaders(t *testing.T) {
	req := NewRequest("BYE", "sip:doorbell@192.168.1.10")
	req.Add("Via", "SIP/2.0/UDP 192.168.1.20:5060;branch=z9hG4bKpeer")
	req.Add("From", "<sip:21@192.168.1.20>;tag=peertag99")
	req.Add("To", "<sip:doorbell@192.168.1.10>;tag=fromtag01")
	req.Add("Call-ID", "sipring-a1b2c3d4")
	req.Add("CSeq", "2 BYE")

	ok := OKFor(req)
	if ok.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", ok.StatusCode)
	}
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		if ok.Get(name) != req.Get(name) {
			t.Errorf("%s not echoed: %q", name, ok.Get(name))
		}
	}
	if ok.Get("Content-Length") != "0" {
		t.Errorf("expected Content-Length 0, got %q", ok.Get("Content-Length"))
	}
}

func TestGenerators(t *testing.T) {
	callID := GenerateCallID()
	if !strings.HasPrefix(callID, "sipring-") || len(callID) != len("sipring-")+8 {
		t.Errorf("unexpected call ID: %q", callID)
	}
	branch := GenerateBranch()
	if !strings.HasPrefix(branch, "z9hG4bK") || len(branch) != len("z9hG4bK")+12 {
		t.Errorf("unexpected branch: %q", branch)
	}
	if len(GenerateTag()) != 8 {
		t.Errorf("unexpected tag length: %q", GenerateTag())
	}

	seen := make(map[string]bool)
	for range 100 {
		b := GenerateBranch()
		if seen[b] {
			t.Fatalf("duplicate branch generated: %q", b)
		}
		seen[b] = true
	}
}
