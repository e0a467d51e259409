package sipmsg

import (
	"errors"
	"strings"
	"testing"
)

const ringingResponse = "SIP/2.0 180 Ringing\r\n" +
	"Via: SIP/2.0/UDP 192.168.1.10:5062;branch=z9hG4bKabc123def456\r\n" +
	"From: \"Doorbell\" <sip:doorbell@192.168.1.10>;tag=fromtag01\r\n" +
	"To: <sip:21@192.168.1.20>\r\n" +
	"Call-ID: sipring-a1b2c3d4\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n" +
	"\r\n"

const okResponse = "SIP/2.0 200 OK\r\n" +
	"Via: SIP/2.0/UDP 192.168.1.10:5062;branch=z9hG4bKabc123def456\r\n" +
	"From: \"Doorbell\" <sip:doorbell@192.168.1.10>;tag=fromtag01\r\n" +
	"To: <sip:21@192.168.1.20>;tag=peertag99\r\n" +
	"Call-ID: sipring-a1b2c3d4\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n" +
	"\r\n"

func TestParseRingingResponse(t *testing.T) {
	msg, err := Parse([]byte(ringingResponse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.IsResponse() {
		t.Fatal("expected a response")
	}
	if msg.StatusCode != 180 {
		t.Errorf("expected status 180, got %d", msg.StatusCode)
	}
	if msg.ReasonPhrase != "Ringing" {
		t.Errorf("expected reason Ringing, got %q", msg.ReasonPhrase)
	}
	if msg.CallID() != "sipring-a1b2c3d4" {
		t.Errorf("unexpected Call-ID: %q", msg.CallID())
	}
	if msg.ViaBranch() != "z9hG4bKabc123def456" {
		t.Errorf("unexpected branch: %q", msg.ViaBranch())
	}
	if msg.FromTag() != "fromtag01" {
		t.Errorf("unexpected from tag: %q", msg.FromTag())
	}
	if msg.ToTag() != "" {
		t.Errorf("expected no to tag on 180, got %q", msg.ToTag())
	}
	num, method, ok := msg.CSeq()
	if !ok || num != 1 || method != "INVITE" {
		t.Errorf("unexpected CSeq: %d %s ok=%v", num, method, ok)
	}
}

func TestParseToTagFromOK(t *testing.T) {
	msg, err := Parse([]byte(okResponse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ToTag() != "peertag99" {
		t.Errorf("expected to tag peertag99, got %q", msg.ToTag())
	}
}

func TestParseRequest(t *testing.T) {
	wire := "BYE sip:doorbell@192.168.1.10 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.20:5060;branch=z9hG4bKpeerbranch\r\n" +
		"From: <sip:21@192.168.1.20>;tag=peertag99\r\n" +
		"To: \"Doorbell\" <sip:doorbell@192.168.1.10>;tag=fromtag01\r\n" +
		"Call-ID: sipring-a1b2c3d4\r\n" +
		"CSeq: 2 BYE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	msg, err := Parse([]byte(wire))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.IsResponse() {
		t.Fatal("expected a request")
	}
	if msg.Method != "BYE" {
		t.Errorf("expected method BYE, got %q", msg.Method)
	}
	if msg.RequestURI != "sip:doorbell@192.168.1.10" {
		t.Errorf("unexpected request URI: %q", msg.RequestURI)
	}
	// On an inbound request the tags are swapped relative to our dialog.
	if msg.FromTag() != "peertag99" || msg.ToTag() != "fromtag01" {
		t.Errorf("unexpected tags: from=%q to=%q", msg.FromTag(), msg.ToTag())
	}
}

func TestParseTolerance(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"trailing blank lines", ringingResponse + "\r\n\r\n"},
		{"leading keepalive crlf", "\r\n\r\n" + ringingResponse},
		{"bare lf line endings", strings.ReplaceAll(ringingResponse, "\r\n", "\n")},
		{"header without space after colon", "SIP/2.0 180 Ringing\r\nCall-ID:sipring-x\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.wire)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"empty", ""},
		{"garbage start line", "hello world\r\n\r\n"},
		{"bad status code", "SIP/2.0 abc Ringing\r\n\r\n"},
		{"status code out of range", "SIP/2.0 99 Huh\r\n\r\n"},
		{"header without colon", "SIP/2.0 180 Ringing\r\nNoColonHere\r\n\r\n"},
		{"empty header name", "SIP/2.0 180 Ringing\r\n: value\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.wire))
			if err == nil {
				t.Fatal("expected error")
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParseErrorCarriesFragment(t *testing.T) {
	_, err := Parse([]byte("SIP/2.0 180 Ringing\r\nNoColonHere\r\n\r\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Fragment != "NoColonHere" {
		t.Errorf("expected fragment NoColonHere, got %q", perr.Fragment)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	b := testBuilder()
	orig := b.Invite("sipring-a1b2c3d4", "fromtag01", "z9hG4bKabc123def456", 1)
	parsed, err := Parse(orig.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Method != "INVITE" {
		t.Errorf("expected INVITE, got %q", parsed.Method)
	}
	if parsed.CallID() != orig.CallID() {
		t.Errorf("Call-ID changed across round trip")
	}
	if len(parsed.Headers()) != len(orig.Headers()) {
		t.Errorf("header count changed: %d != %d", len(parsed.Headers()), len(orig.Headers()))
	}
}
