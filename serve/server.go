package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika"
	defaults "github.com/furin-lab/nanika/default"
	"github.com/furin-lab/nanika/ghost"
)

// controlTimeout bounds one control exchange, reload included.
const controlTimeout = 30 * time.Second

// Controller is the running ghost as seen from the control socket.
type Controller interface {
	Status() *nanika.Status
	Reload(ctx context.Context) error
	Click(surface, x, y, button int) error
	Talk(prompt string) error
	Choice(id string) error
	Notify(event string, refs ...string) error
	Inject(script, source string) error
}

// Server listens on a Unix domain socket for control requests.
type Server struct {
	listener   net.Listener
	sockPath   string
	configPath string
	ctl        Controller
	log        *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewServer creates a control server bound to the given socket path.
// configPath is the file the config actions read.
func NewServer(sockPath, configPath string, ctl Controller, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener:   listener,
		sockPath:   sockPath,
		configPath: configPath,
		ctl:        ctl,
		log:        log.Named("control"),
	}, nil
}

// Serve accepts connections until Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, waits for open exchanges and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.listener.Close()
	s.wg.Wait()
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlTimeout))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	s.log.Debug("request", zap.ByteString("data", raw))

	var resp *nanika.ControlResponse
	var req nanika.ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		resp = failure("invalid_request", err.Error())
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		resp = s.handle(ctx, &req)
		cancel()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", zap.Error(err))
		return
	}

	s.log.Debug("response", zap.ByteString("data", data))

	conn.Write(append(data, '\n'))
}

func (s *Server) handle(ctx context.Context, req *nanika.ControlRequest) *nanika.ControlResponse {
	switch req.Action {
	case "status":
		return &nanika.ControlResponse{OK: true, Status: s.ctl.Status()}

	case "reload":
		if err := s.ctl.Reload(ctx); err != nil {
			return fromError(err)
		}
		s.log.Info("personality reloaded")
		return &nanika.ControlResponse{OK: true, Status: s.ctl.Status()}

	case "click":
		return fromError(s.ctl.Click(req.Surface, req.X, req.Y, req.Button))

	case "talk":
		return fromError(s.ctl.Talk(req.Text))

	case "choice":
		if req.Text == "" {
			return failure("invalid_request", "choice id is required")
		}
		return fromError(s.ctl.Choice(req.Text))

	case "notify":
		if req.Event == "" {
			return failure("invalid_request", "event is required")
		}
		return fromError(s.ctl.Notify(req.Event, req.References...))

	case "script":
		if req.Text == "" {
			return failure("invalid_request", "script is required")
		}
		return fromError(s.ctl.Inject(req.Text, "control"))

	case "config":
		cfg, err := nanika.LoadConfigFile(s.configPath)
		if err != nil {
			return failure("config_error", err.Error())
		}
		return &nanika.ControlResponse{OK: true, Config: cfg}

	case "defaults":
		return &nanika.ControlResponse{OK: true, Config: nanika.DefaultConfig()}

	case "default_prompt":
		return &nanika.ControlResponse{OK: true, Prompt: defaults.DefaultPrompt}

	case "validate":
		cfg, err := nanika.LoadConfigFile(s.configPath)
		if err != nil {
			return failure("config_error", err.Error())
		}
		return &nanika.ControlResponse{OK: true, Warnings: nanika.ValidateConfig(cfg)}
	}
	return failure("unknown_action", "unknown action: "+req.Action)
}

func failure(code, msg string) *nanika.ControlResponse {
	return &nanika.ControlResponse{Error: &nanika.Error{Code: code, Message: msg}}
}

func fromError(err error) *nanika.ControlResponse {
	switch {
	case err == nil:
		return &nanika.ControlResponse{OK: true}
	case errors.Is(err, ghost.ErrNotRunning):
		return failure("not_running", err.Error())
	case errors.Is(err, ghost.ErrBusy):
		return failure("busy", err.Error())
	}
	return failure("error", err.Error())
}

// request sends one control request to the daemon at sockPath.
func request(ctx context.Context, sockPath string, req *nanika.ControlRequest) (*nanika.ControlResponse, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("no response from daemon")
	}
	var resp nanika.ControlResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
