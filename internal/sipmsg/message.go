package sipmsg

import (
	"strconv"
	"strings"
)

// Message represents a SIP message as a start line, an ordered list of
// headers and an optional body. Header order is preserved exactly as built
// or parsed; the DECT bases this was written against care about it.
type Message struct {
	// Request fields (zero for responses)
	Method     string
	RequestURI string

	// Response fields (zero for requests)
	StatusCode   int
	ReasonPhrase string

	headers []Header
	Body    []byte
}

// Header is a single name/value pair.
type Header struct {
	Name  string
	Value string
}

// NewRequest creates a request message with no headers yet.
func NewRequest(method, requestURI string) *Message {
	return &Message{Method: method, RequestURI: requestURI}
}

// NewResponse creates a response message with no headers yet.
func NewResponse(code int, reason string) *Message {
	return &Message{StatusCode: code, ReasonPhrase: reason}
}

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool {
	return m.StatusCode != 0
}

// Add appends a header, preserving insertion order.
func (m *Message) Add(name, value string) {
	m.headers = append(m.headers, Header{Name: name, Value: value})
}

// Get returns the value of the first header with the given name
// (case-insensitive, per SIP), or empty string if absent.
func (m *Message) Get(name string) string {
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Headers returns all headers in order.
func (m *Message) Headers() []Header {
	return m.headers
}

// CallID returns the Call-ID header value.
func (m *Message) CallID() string {
	return m.Get("Call-ID")
}

// CSeq returns the sequence number and method from the CSeq header.
// ok is false if the header is absent or malformed.
func (m *Message) CSeq() (num uint32, method string, ok bool) {
	v := strings.TrimSpace(m.Get("CSeq"))
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(n), fields[1], true
}

// ViaBranch returns the branch parameter of the first Via header,
// or empty string if absent.
func (m *Message) ViaBranch() string {
	return headerParam(m.Get("Via"), "branch")
}

// FromTag returns the tag parameter of the From header, or empty string.
func (m *Message) FromTag() string {
	return headerParam(m.Get("From"), "tag")
}

// ToTag returns the tag parameter of the To header, or empty string.
// For a dialog-establishing 200 OK this is the peer's tag.
func (m *Message) ToTag() string {
	return headerParam(m.Get("To"), "tag")
}

// headerParam extracts a ;name=value parameter from a header value.
// The value ends at the next ';', '>' or whitespace.
func headerParam(hv, name string) string {
	marker := ";" + name + "="
	idx := strings.Index(hv, marker)
	if idx < 0 {
		return ""
	}
	rest := hv[idx+len(marker):]
	end := strings.IndexAny(rest, ";> \t")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// Encode produces the wire form of the message. Headers are emitted in
// the exact order they were added; the output is deterministic.
func (m *Message) Encode() []byte {
	var b strings.Builder
	if m.IsResponse() {
		b.WriteString("SIP/2.0 ")
		b.WriteString(strconv.Itoa(m.StatusCode))
		if m.ReasonPhrase != "" {
			b.WriteString(" ")
			b.WriteString(m.ReasonPhrase)
		}
		b.WriteString("\r\n")
	} else {
		b.WriteString(m.Method)
		b.WriteString(" ")
		b.WriteString(m.RequestURI)
		b.WriteString(" SIP/2.0\r\n")
	}
	for _, h := range m.headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(string(m.Body))
	return []byte(b.String())
}
