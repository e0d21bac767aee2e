// Package sstp serves SSTP, the local socket protocol other applications use to
// talk to a running ghost. Every connection carries exactly one request and is
// closed after its response.
package sstp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"github.com/furin-lab/nanika/ghosterr"
	"github.com/furin-lab/nanika/protocol"
)

const (
	DefaultPort        = 9801
	DefaultTLSPort     = 9821
	DefaultIdleTimeout = 10 * time.Second
	DefaultVersion     = "SSTP/1.4"

	drainTimeout = 500 * time.Millisecond
	drainLimit   = 256 << 10
)

// Options configures a Server. Port 0 picks a free port.
type Options struct {
	Address string
	Port    int
	TLSPort int
	// TLSConfig enables the TLS endpoint. TLSCert and TLSKey are loaded into one
	// when TLSConfig is nil.
	TLSConfig   *tls.Config
	TLSCert     string
	TLSKey      string
	IdleTimeout time.Duration
	// MaxConns caps concurrent connections; 0 means unlimited.
	MaxConns int
	// Rate and Burst bound requests per Sender; Rate 0 disables the limit.
	Rate           float64
	Burst          int
	TrustToken     string
	Sender         string
	AllowRemote    bool
	MaxHeaderBytes int
	MaxBodyBytes   int
	Logger         *zap.Logger
}

// Server is an SSTP listener on a plain and an optional TLS endpoint.
type Server struct {
	opts    Options
	handler Handler
	log     *zap.Logger
	conns   *connLimiter
	senders *senderLimiter

	mu        sync.Mutex
	listeners []net.Listener
	active    map[net.Conn]struct{}
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a server. A nil handler means DefaultHandler.
func New(opts Options, h Handler) *Server {
	if opts.Address == "" {
		opts.Address = "127.0.0.1"
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxHeaderBytes <= 0 {
		opts.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if h == nil {
		h = DefaultHandler
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		opts:    opts,
		handler: h,
		log:     log.Named("sstp"),
		conns:   newConnLimiter(opts.MaxConns),
		senders: newSenderLimiter(opts.Rate, opts.Burst),
		active:  make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Listen binds the plain endpoint and, when TLS is configured, the TLS endpoint.
func (s *Server) Listen() error {
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}

	plain, err := net.Listen("tcp", net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("sstp: listen: %w", err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, plain)
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("addr", plain.Addr()))

	if tlsConfig == nil {
		return nil
	}
	secure, err := tls.Listen("tcp", net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.TLSPort)), tlsConfig)
	if err != nil {
		s.Close()
		return fmt.Errorf("sstp: listen tls: %w", err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, secure)
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("addr", secure.Addr()), zap.Bool("tls", true))
	return nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.opts.TLSConfig != nil {
		return s.opts.TLSConfig, nil
	}
	if s.opts.TLSCert == "" || s.opts.TLSKey == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.opts.TLSCert, s.opts.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("sstp: load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// Addrs returns the bound endpoint addresses, plain first.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Serve accepts connections until ctx ends or Close is called. Open
// connections are closed and waited for before it returns.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	if len(listeners) == 0 {
		return errors.New("sstp: Serve called before Listen")
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(connCtx)
	for _, l := range listeners {
		g.Go(func() error { return s.accept(connCtx, l) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.Close()
		case <-s.done:
		}
		return nil
	})
	err := g.Wait()
	cancel()
	s.wg.Wait()
	return err
}

func (s *Server) accept(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("sstp: accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// track registers conn so Close can interrupt it. It fails once closed.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close stops the listeners and interrupts open connections.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		for _, l := range s.listeners {
			l.Close()
		}
		for c := range s.active {
			c.Close()
		}
		s.active = nil
		s.mu.Unlock()
		close(s.done)
		s.senders.Stop()
	})
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.log.With(zap.String("remote", remote))
	conn.SetDeadline(time.Now().Add(s.opts.IdleTimeout))

	if !s.conns.Acquire() {
		log.Warn("connection limit reached")
		s.reply(conn, nil, DefaultVersion, "", protocol.StatusServiceUnavailable)
		return
	}
	defer s.conns.Release()

	if !s.opts.AllowRemote && !isLoopback(conn.RemoteAddr()) {
		log.Warn("rejecting non-local peer")
		s.reply(conn, nil, DefaultVersion, "", protocol.StatusNotLocalIP)
		return
	}

	msg, err := readMessage(bufio.NewReader(conn), s.opts.MaxHeaderBytes, s.opts.MaxBodyBytes)
	if err != nil {
		var ne net.Error
		switch {
		case err == io.EOF, errors.As(err, &ne) && ne.Timeout(), errors.Is(err, net.ErrClosed):
			log.Debug("connection closed without a request", zap.Error(err))
		default:
			log.Warn("bad request", zap.Error(err), zap.String("kind", string(ghosterr.KindOf(err))))
			s.reply(conn, nil, DefaultVersion, "", protocol.StatusBadRequest)
		}
		return
	}

	req := msg.req
	version := req.Version
	method := req.Method.String()
	sender := req.Headers.Get(protocol.HeaderSender)
	if msg.charset == "" || sender == "" {
		log.Warn("request without Charset or Sender", zap.String("method", method))
		s.reply(conn, msg.enc, version, msg.charset, protocol.StatusBadRequest)
		observe(method, protocol.StatusBadRequest)
		return
	}
	if !s.senders.Allow(sender) {
		log.Warn("rate limited", zap.String("sender", sender))
		s.reply(conn, msg.enc, version, msg.charset, protocol.StatusServiceUnavailable)
		observe(method, protocol.StatusServiceUnavailable)
		return
	}

	req.EvaluateTrust(s.opts.TrustToken)
	resp := s.handler.ServeSSTP(ctx, req)
	if resp == nil {
		resp = Acknowledge(req)
	}
	log.Info("request",
		zap.String("method", method),
		zap.String("sender", sender),
		zap.String("trust", req.Trust.String()),
		zap.Int("status", resp.StatusCode),
	)
	observe(method, resp.StatusCode)
	s.write(conn, msg.enc, version, msg.charset, resp)
}

// reply writes a bare status response for a rejected request and drains
// whatever the peer sent so the response is not lost to a connection reset.
func (s *Server) reply(conn net.Conn, enc encoding.Encoding, version, charset string, code int) {
	resp := protocol.NewResponse(code, "")
	s.write(conn, enc, version, charset, &resp)
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	conn.SetReadDeadline(time.Now().Add(drainTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, drainLimit))
}

func (s *Server) write(conn net.Conn, enc encoding.Encoding, version, charset string, resp *protocol.Response) {
	if resp.Version == "" {
		resp.Version = version
	}
	if resp.Version == "" {
		resp.Version = DefaultVersion
	}
	if charset == "" {
		charset = "UTF-8"
	}
	if !resp.Headers.Has(protocol.HeaderCharset) {
		resp.Headers.Set(protocol.HeaderCharset, charset)
	}
	if !resp.Headers.Has(protocol.HeaderSender) && s.opts.Sender != "" {
		resp.Headers.Set(protocol.HeaderSender, s.opts.Sender)
	}
	out, err := encodeText(enc, protocol.FormatStatus(*resp))
	if err != nil {
		s.log.Warn("encode response", zap.Error(err))
		return
	}
	if _, err := conn.Write(out); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
