package sipmsg

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed SIP message. Fragment holds the
// offending piece of input.
type ParseError struct {
	Fragment string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed SIP message: %s: %q", e.Reason, e.Fragment)
}

// Parse decodes a wire-form SIP message. It tolerates trailing blank
// lines and bare-LF line endings, but rejects malformed start lines and
// header lines with a *ParseError.
func Parse(data []byte) (*Message, error) {
	text := string(data)

	// Split head (start line + headers) from body at the first blank line.
	head := text
	body := ""
	if idx := strings.Index(text, "\r\n\r\n"); idx >= 0 {
		head, body = text[:idx], text[idx+4:]
	} else if idx := strings.Index(text, "\n\n"); idx >= 0 {
		head, body = text[:idx], text[idx+2:]
	}

	lines := strings.Split(head, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}

	// Skip leading blank lines (keep-alive CRLFs between datagrams).
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	if start == len(lines) {
		return nil, &ParseError{Fragment: "", Reason: "empty message"}
	}

	msg, err := parseStartLine(lines[start])
	if err != nil {
		return nil, err
	}

	for _, line := range lines[start+1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			return nil, &ParseError{Fragment: line, Reason: "header without colon"}
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" {
			return nil, &ParseError{Fragment: line, Reason: "empty header name"}
		}
		msg.Add(name, value)
	}

	if body != "" {
		msg.Body = []byte(body)
	}
	return msg, nil
}

func parseStartLine(line string) (*Message, error) {
	if strings.HasPrefix(line, "SIP/2.0 ") {
		rest := line[len("SIP/2.0 "):]
		codeStr, reason, _ := strings.Cut(rest, " ")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 699 {
			return nil, &ParseError{Fragment: line, Reason: "invalid status code"}
		}
		return NewResponse(code, reason), nil
	}

	fields := strings.Fields(line)
	if len(fields) != 3 || fields[2] != "SIP/2.0" {
		return nil, &ParseError{Fragment: line, Reason: "invalid start line"}
	}
	return NewRequest(fields[0], fields[1]), nil
}
