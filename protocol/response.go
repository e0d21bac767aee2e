package protocol

import (
	"strconv"
	"strings"

	"github.com/furin-lab/nanika/ghosterr"
)

// Response is a SHIORI or SSTP response.
type Response struct {
	Version    string
	StatusCode int
	// StatusText defaults to StatusText(StatusCode) when empty.
	StatusText string
	// Value is the payload, usually a SakuraScript. It may contain newlines.
	Value   string
	Headers Headers
}

// NewResponse builds a response with the standard reason phrase for code.
func NewResponse(code int, value string) Response {
	return Response{StatusCode: code, StatusText: StatusText(code), Value: value}
}

func (r *Response) statusLine() string {
	version := r.Version
	if version == "" {
		version = DefaultVersion
	}
	text := r.StatusText
	if text == "" {
		text = StatusText(r.StatusCode)
	}
	line := version + " " + strconv.Itoa(r.StatusCode)
	if text != "" {
		line += " " + text
	}
	return line + "\r\n"
}

// FormatResponse serializes a SHIORI response: status line, Content-Type, any
// extra headers in insertion order, Value, then the blank-line terminator.
// Newlines inside the value are written as CRLF continuation lines.
func FormatResponse(r Response) string {
	var b strings.Builder
	b.WriteString(r.statusLine())

	contentType := r.Headers.Get(HeaderContentType)
	if contentType == "" {
		contentType = "text/plain"
	}
	writeHeader(&b, HeaderContentType, contentType)
	for _, key := range r.Headers.keys {
		if key == HeaderContentType || key == HeaderValue {
			continue
		}
		writeHeader(&b, key, r.Headers.values[key])
	}
	writeHeader(&b, HeaderValue, crlf(r.Value))
	b.WriteString("\r\n")
	return b.String()
}

// FormatStatus serializes an SSTP response: status line, headers in insertion order,
// optional value lines, then the blank-line terminator.
func FormatStatus(r Response) string {
	var b strings.Builder
	b.WriteString(r.statusLine())
	for _, key := range r.Headers.keys {
		writeHeader(&b, key, r.Headers.values[key])
	}
	if v := strings.TrimSpace(r.Value); v != "" {
		b.WriteString(crlf(v))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// ParseResponse parses a response blob. The Value header is reassembled with
// ExtractValue and is not kept in Headers.
func ParseResponse(text string) (*Response, error) {
	lines := splitLines(text)
	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return nil, ghosterr.Newf(ghosterr.ParseError, "protocol.ParseResponse", "malformed status line %q", lines[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ghosterr.Newf(ghosterr.ParseError, "protocol.ParseResponse", "bad status code %q", parts[1])
	}

	resp := &Response{
		Version:    parts[0],
		StatusCode: code,
		StatusText: strings.Join(parts[2:], " "),
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" || key == HeaderValue {
			continue
		}
		resp.Headers.Set(key, value)
	}
	resp.Value = ExtractValue(text)
	return resp, nil
}

// ExtractValue returns the payload of the "Value: " line of a response blob, joined
// with any following non-blank lines up to the blank-line terminator and trimmed.
// A blob without a Value line yields "".
func ExtractValue(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
	for i, line := range lines {
		rest, ok := strings.CutPrefix(line, HeaderValue+":")
		if !ok {
			continue
		}
		var b strings.Builder
		b.WriteString(strings.TrimPrefix(rest, " "))
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				break
			}
			b.WriteByte('\n')
			b.WriteString(next)
		}
		return strings.TrimSpace(b.String())
	}
	return ""
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
