package sstp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/furin-lab/nanika/ghosterr"
	"github.com/furin-lab/nanika/protocol"
)

const (
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodyBytes   = 1 << 20
)

// message is one decoded request together with the charset it arrived in.
type message struct {
	req     *protocol.Request
	charset string
	enc     encoding.Encoding
}

// readMessage reads a header block up to the blank line, decodes it in the
// charset it declares and reads a Content-Length body when one is announced.
// io.EOF is returned unwrapped when the peer sent nothing at all.
func readMessage(r *bufio.Reader, maxHeader, maxBody int) (*message, error) {
	head, err := readHead(r, maxHeader)
	if err != nil {
		return nil, err
	}

	charset := rawHeader(head, protocol.HeaderCharset)
	enc := encoding.Encoding(unicode.UTF8)
	if charset != "" {
		if enc, err = lookupCharset(charset); err != nil {
			return nil, err
		}
	}
	text, err := enc.NewDecoder().Bytes(head)
	if err != nil {
		return nil, ghosterr.Wrap(ghosterr.ParseError, "sstp.decode", err)
	}
	req, err := protocol.ParseRequest(string(text))
	if err != nil {
		return nil, err
	}

	if cl := strings.TrimSpace(req.Headers.Get(protocol.HeaderContentLength)); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, ghosterr.Newf(ghosterr.ParseError, "sstp.decode", "bad Content-Length %q", cl)
		}
		if n > maxBody {
			return nil, ghosterr.Newf(ghosterr.ProtocolViolation, "sstp.decode", "body of %d bytes exceeds %d", n, maxBody)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, ghosterr.Wrap(ghosterr.ParseError, "sstp.decode", err)
		}
		decoded, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return nil, ghosterr.Wrap(ghosterr.ParseError, "sstp.decode", err)
		}
		req.Body = string(decoded)
	}
	return &message{req: req, charset: charset, enc: enc}, nil
}

// readHead returns the bytes up to and including the blank-line terminator.
// Blank lines before the request line are skipped.
func readHead(r *bufio.Reader, max int) ([]byte, error) {
	var head []byte
	for {
		line, err := r.ReadSlice('\n')
		if len(head) == 0 && err == nil && isBlank(line) {
			continue
		}
		head = append(head, line...)
		if len(head) > max {
			return nil, ghosterr.Newf(ghosterr.ProtocolViolation, "sstp.decode", "header block exceeds %d bytes", max)
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF && len(head) == 0:
			return nil, io.EOF
		case err != nil:
			return nil, ghosterr.Wrap(ghosterr.ParseError, "sstp.decode", err)
		}
		if isBlank(line) {
			return head, nil
		}
	}
}

func isBlank(line []byte) bool {
	return len(bytes.TrimRight(line, "\r\n")) == 0
}

// rawHeader finds a header in an undecoded block. Header names and the
// charset label are ASCII in every supported encoding.
func rawHeader(head []byte, key string) string {
	prefix := []byte(key + ":")
	for _, line := range bytes.Split(head, []byte("\n")) {
		if rest, ok := bytes.CutPrefix(line, prefix); ok {
			return string(bytes.TrimSpace(rest))
		}
	}
	return ""
}

func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, ghosterr.Newf(ghosterr.ProtocolViolation, "sstp.decode", "unsupported charset %q", name)
	}
	return enc, nil
}

// encodeText converts s to enc, replacing runes the charset cannot represent.
func encodeText(enc encoding.Encoding, s string) ([]byte, error) {
	if enc == nil {
		return []byte(s), nil
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
}
