package sstp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/furin-lab/nanika/protocol"
)

// Send delivers req to the SSTP server at addr and returns its response.
// A missing Charset defaults to UTF-8; Content-Length is set from the body.
func Send(ctx context.Context, addr string, req *protocol.Request) (*protocol.Response, error) {
	var d net.Dialer
	return send(ctx, &d, addr, req)
}

// SendTLS is Send over the TLS endpoint.
func SendTLS(ctx context.Context, addr string, req *protocol.Request, config *tls.Config) (*protocol.Response, error) {
	d := &tls.Dialer{Config: config}
	return send(ctx, d, addr, req)
}

type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

func send(ctx context.Context, d contextDialer, addr string, req *protocol.Request) (*protocol.Response, error) {
	out := *req
	out.Headers = protocol.Headers{}
	for _, key := range req.Headers.Keys() {
		out.Headers.Set(key, req.Headers.Get(key))
	}
	if out.Version == "" {
		out.Version = DefaultVersion
	}
	charset := out.Headers.Get(protocol.HeaderCharset)
	if charset == "" {
		charset = "UTF-8"
		out.Headers.Set(protocol.HeaderCharset, charset)
	}
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}

	body, err := encodeText(enc, req.Body)
	if err != nil {
		return nil, fmt.Errorf("sstp: encode body: %w", err)
	}
	out.Body = ""
	if len(body) > 0 {
		out.Headers.Set(protocol.HeaderContentLength, strconv.Itoa(len(body)))
	}
	head, err := encodeText(enc, protocol.FormatRequest(&out))
	if err != nil {
		return nil, fmt.Errorf("sstp: encode request: %w", err)
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sstp: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(DefaultIdleTimeout))
	}

	if _, err := conn.Write(append(head, body...)); err != nil {
		return nil, fmt.Errorf("sstp: write: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(conn, DefaultMaxHeaderBytes))
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("sstp: read: %w", err)
	}
	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sstp: decode response: %w", err)
	}
	return protocol.ParseResponse(string(text))
}
