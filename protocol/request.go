// Package protocol implements the line-oriented request/response text format shared
// by SHIORI (over the personality's stdio pipes) and SSTP (over local sockets).
//
// A message is a first line, a block of "Key: Value" header lines and a blank line.
// Both bare "\n" and "\r\n" line endings are accepted on input; output always uses CRLF.
package protocol

import (
	"bytes"
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/furin-lab/nanika/ghosterr"
)

// DefaultVersion is used when a request or response carries no version.
const DefaultVersion = "SHIORI/3.0"

// maxReferences bounds the reference slice built from Reference{n} headers.
const maxReferences = 1024

// Method is a request method.
type Method string

const (
	MethodGet         Method = "GET"
	MethodNotify      Method = "NOTIFY"
	MethodSend        Method = "SEND"
	MethodCommunicate Method = "COMMUNICATE"
	MethodExecute     Method = "EXECUTE"
	MethodGive        Method = "GIVE"
)

// ParseMethod returns the Method named by s. Names are case-sensitive.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(s); m {
	case MethodGet, MethodNotify, MethodSend, MethodCommunicate, MethodExecute, MethodGive:
		return m, true
	}
	return "", false
}

// TrustLevel is the trust assigned to a request's origin.
// The zero value is the lowest trust.
type TrustLevel int

const (
	TrustExternal TrustLevel = iota
	TrustLocal
)

func (t TrustLevel) String() string {
	if t == TrustLocal {
		return "local"
	}
	return "external"
}

// Header names with protocol meaning.
const (
	HeaderID            = "ID"
	HeaderCharset       = "Charset"
	HeaderSender        = "Sender"
	HeaderValue         = "Value"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderSecurityLevel = "SecurityLevel"
	HeaderSecurityToken = "SecurityToken"
	HeaderScript        = "Script"
	HeaderEvent         = "Event"
)

// Request is a parsed SHIORI or SSTP request.
type Request struct {
	Method  Method
	Version string
	// ID is the event or command name.
	ID string
	// Headers holds every parsed header, including ID and Reference{n}.
	Headers Headers
	// References are the positional arguments taken from Reference{n} headers.
	References []string
	Body       string
	// Trust is set by EvaluateTrust; it is never read from the wire directly.
	Trust TrustLevel
}

// NewRequest builds a request carrying an event id and its references.
func NewRequest(method Method, version, id string, refs ...string) *Request {
	return &Request{
		Method:     method,
		Version:    version,
		ID:         id,
		References: refs,
	}
}

// Reference returns the n-th reference, or "" when absent.
func (r *Request) Reference(n int) string {
	if n < 0 || n >= len(r.References) {
		return ""
	}
	return r.References[n]
}

// EvaluateTrust decides the request's trust level against the configured token and
// stores it in r.Trust. Only a "SecurityLevel: local" request whose SecurityToken
// matches a non-empty token is trusted; unset or unmatched headers mean external.
func (r *Request) EvaluateTrust(token string) TrustLevel {
	r.Trust = TrustExternal
	if token == "" || !strings.EqualFold(r.Headers.Get(HeaderSecurityLevel), "local") {
		return r.Trust
	}
	got := r.Headers.Get(HeaderSecurityToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
		r.Trust = TrustLocal
	}
	return r.Trust
}

// ParseRequest parses a request from wire text. A malformed first line is a
// ParseError; header lines without a ": " separator are skipped.
func ParseRequest(text string) (*Request, error) {
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, ghosterr.New(ghosterr.ParseError, "protocol.ParseRequest", "empty request line")
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return nil, ghosterr.Newf(ghosterr.ParseError, "protocol.ParseRequest", "malformed request line %q", lines[0])
	}
	method, ok := ParseMethod(parts[0])
	if !ok {
		return nil, ghosterr.Newf(ghosterr.ParseError, "protocol.ParseRequest", "unknown method %q", parts[0])
	}

	req := &Request{Method: method, Version: parts[1]}
	// SHIORI/2.x puts the event between method and version: "GET Version SHIORI/2.6".
	if !strings.Contains(parts[1], "/") && len(parts) >= 3 && strings.Contains(parts[2], "/") {
		req.ID = parts[1]
		req.Version = parts[2]
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" {
			continue
		}
		req.Headers.Set(key, value)
		if key == HeaderID {
			req.ID = value
			continue
		}
		if idx, ok := referenceIndex(key); ok {
			req.setReference(idx, value)
		}
	}

	req.Body = bodyOf(text, req.Headers.Get(HeaderContentLength))
	return req, nil
}

// FormatRequest serializes r. The first line is followed by ID, the remaining
// headers in insertion order, then Reference{n}, a blank line and the body.
func FormatRequest(r *Request) string {
	method := r.Method
	if method == "" {
		method = MethodGet
	}
	version := r.Version
	if version == "" {
		version = DefaultVersion
	}

	var b strings.Builder
	b.WriteString(string(method))
	b.WriteByte(' ')
	b.WriteString(version)
	b.WriteString("\r\n")
	if r.ID != "" {
		writeHeader(&b, HeaderID, r.ID)
	}
	for _, key := range r.Headers.keys {
		if key == HeaderID {
			continue
		}
		if _, ok := referenceIndex(key); ok {
			continue
		}
		writeHeader(&b, key, r.Headers.values[key])
	}
	for i, ref := range r.References {
		writeHeader(&b, "Reference"+strconv.Itoa(i), ref)
	}
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.String()
}

func (r *Request) setReference(idx int, value string) {
	if idx >= maxReferences {
		return
	}
	for len(r.References) <= idx {
		r.References = append(r.References, "")
	}
	r.References[idx] = value
}

// referenceIndex returns n for a header named "Reference{n}".
func referenceIndex(key string) (int, bool) {
	digits, ok := strings.CutPrefix(key, "Reference")
	if !ok || digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func writeHeader(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// splitLines splits text on "\n", dropping a trailing "\r" from each line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// bodyOf returns the text after the header terminator, cut to contentLength bytes
// when that header holds a valid length.
func bodyOf(text, contentLength string) string {
	_, body, ok := cutTerminator(text)
	if !ok {
		return ""
	}
	if contentLength == "" {
		return body
	}
	n, err := strconv.Atoi(strings.TrimSpace(contentLength))
	if err != nil || n < 0 {
		return body
	}
	if n < len(body) {
		return body[:n]
	}
	return body
}

// cutTerminator splits text at the first blank-line terminator ("\r\n\r\n" or "\n\n").
func cutTerminator(text string) (head, rest string, found bool) {
	crlf := strings.Index(text, "\r\n\r\n")
	lf := strings.Index(text, "\n\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return text[:crlf], text[crlf+4:], true
	case lf >= 0:
		return text[:lf], text[lf+2:], true
	}
	return text, "", false
}

// HasTerminator reports whether b contains a complete header block.
func HasTerminator(b []byte) bool {
	_, _, ok := SplitMessage(b)
	return ok
}

// SplitMessage splits b after the first blank-line terminator. msg includes the
// terminator; rest is whatever follows it.
func SplitMessage(b []byte) (msg, rest []byte, ok bool) {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return b[:crlf+4], b[crlf+4:], true
	case lf >= 0:
		return b[:lf+2], b[lf+2:], true
	}
	return nil, b, false
}

func (m Method) String() string { return string(m) }
