// Package shiori hosts an external personality engine (a SHIORI) as a
// subprocess and talks to it over its standard input and output.
//
// The wire protocol is strictly half-duplex: the host writes one request, then
// reads until the blank-line terminator of the response. A Host allows one
// request in flight at a time.
package shiori

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/ghosterr"
	"github.com/furin-lab/nanika/protocol"
)

const (
	// DefaultTimeout bounds one request/response exchange.
	DefaultTimeout = 5 * time.Second
	// DefaultSettle is how long Start waits before checking the process is alive.
	DefaultSettle = 500 * time.Millisecond

	stopTimeout = 2 * time.Second
	readSize    = 4096
)

// Options configures a Host.
type Options struct {
	// Path is the personality file. Relative paths resolve against Dir.
	Path string
	// Dir is the resource root and the working directory of the subprocess.
	// Defaults to the directory of Path.
	Dir string
	// Protocol is the version written on request lines. Defaults to SHIORI/3.0.
	Protocol string
	Timeout  time.Duration
	// Settle defaults to DefaultSettle; a negative value disables the wait.
	Settle    time.Duration
	Launchers []Launcher
	// Env holds extra KEY=VALUE pairs appended to the host environment.
	Env    []string
	Logger *zap.Logger
}

// Host supervises one personality subprocess.
type Host struct {
	opts Options
	log  *zap.Logger

	// mu guards proc.
	mu   sync.Mutex
	proc *process

	// reqMu keeps one request in flight.
	reqMu sync.Mutex
}

// process is one spawned personality.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	chunks chan []byte
	done   chan struct{}
	quit   chan struct{}

	// Guarded by Host.reqMu. pending holds output not yet consumed; stale counts
	// responses still owed to requests that timed out.
	pending []byte
	stale   int
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// New creates a host. The subprocess is not started until Start.
func New(opts Options) *Host {
	if opts.Protocol == "" {
		opts.Protocol = protocol.DefaultVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch {
	case opts.Settle == 0:
		opts.Settle = DefaultSettle
	case opts.Settle < 0:
		opts.Settle = 0
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{opts: opts, log: log.Named("shiori")}
}

// Start spawns the personality and waits the settle time. It fails with
// ProcessNotStarted when the file cannot be resolved, the process cannot be
// spawned, or it exits before settling. Starting a running host is a no-op.
func (h *Host) Start(ctx context.Context) error {
	const op = "shiori.start"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc != nil && h.proc.alive() {
		return nil
	}

	name, args, err := ResolveCommand(h.opts.Path, h.opts.Dir, h.opts.Launchers)
	if err != nil {
		return err
	}
	dir := h.opts.Dir
	if dir == "" {
		dir = filepath.Dir(h.opts.Path)
	}

	// The process outlives ctx; ctx only bounds startup.
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), h.opts.Env...)
	cmd.Stderr = &stderrLogger{log: h.log}
	cmd.WaitDelay = time.Second
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		return ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}
	pid := cmd.Process.Pid
	h.log.Info("personality started", zap.String("command", name), zap.Strings("args", args), zap.Int("pid", pid))

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		pw.Close()
		h.log.Info("personality exited", zap.Int("pid", pid), zap.Error(err))
		close(p.done)
	}()
	go readChunks(pr, p.chunks, p.quit)

	fail := func(err error) error {
		close(p.quit)
		stdin.Close()
		cmd.Process.Kill()
		<-p.done
		return err
	}

	if h.opts.Settle > 0 {
		timer := time.NewTimer(h.opts.Settle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.done:
		case <-ctx.Done():
			return fail(ghosterr.Wrap(ghosterr.ProcessNotStarted, op, ctx.Err()))
		}
	}
	if !p.alive() {
		return fail(ghosterr.New(ghosterr.ProcessNotStarted, op, "personality exited during startup"))
	}

	h.proc = p
	return nil
}

// Running reports whether the subprocess is alive.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc != nil && h.proc.alive()
}

// PID returns the subprocess id, or 0 when not started.
func (h *Host) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc == nil {
		return 0
	}
	return h.proc.cmd.Process.Pid
}

// Request sends event with its references and returns the response's Value.
//
// A host that is not running fails with ProcessTerminated without any I/O. When
// no complete response arrives within the timeout, or ctx ends first, the
// request fails with CommunicationError and the process is left as it is; the
// late response is discarded when it arrives.
func (h *Host) Request(ctx context.Context, event string, refs ...string) (string, error) {
	const op = "shiori.request"
	h.reqMu.Lock()
	defer h.reqMu.Unlock()

	h.mu.Lock()
	p := h.proc
	h.mu.Unlock()
	if p == nil || !p.alive() {
		observe(event, resultTerminated, 0)
		return "", ghosterr.Newf(ghosterr.ProcessTerminated, op, "%s: personality is not running", event)
	}

	// Settle output left over from earlier exchanges before writing.
	buf := p.takeStale(drain(p.chunks, p.pending))
	if len(buf) > 0 && p.stale == 0 {
		h.log.Debug("discarding unsolicited output", zap.Int("bytes", len(buf)))
		buf = nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	text := protocol.FormatRequest(protocol.NewRequest(protocol.MethodGet, h.opts.Protocol, event, refs...))
	if _, err := io.WriteString(p.stdin, text); err != nil {
		observe(event, resultError, time.Since(start))
		return "", ghosterr.Wrap(ghosterr.CommunicationError, op, err)
	}

	for {
		buf = p.takeStale(buf)
		if msg, rest, ok := protocol.SplitMessage(buf); ok {
			p.pending = rest
			value := protocol.ExtractValue(string(msg))
			elapsed := time.Since(start)
			if value == "" {
				observe(event, resultEmpty, elapsed)
			} else {
				observe(event, resultOK, elapsed)
			}
			h.log.Debug("response", zap.String("event", event), zap.Duration("elapsed", elapsed), zap.Int("bytes", len(msg)))
			return value, nil
		}

		select {
		case b, ok := <-p.chunks:
			if !ok {
				observe(event, resultError, time.Since(start))
				return "", ghosterr.Newf(ghosterr.CommunicationError, op, "%s: personality closed its output", event)
			}
			buf = append(buf, b...)
		case <-ctx.Done():
			p.pending = buf
			p.stale++
			observe(event, resultTimeout, time.Since(start))
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ghosterr.Newf(ghosterr.CommunicationError, op, "%s: no response within %s", event, h.opts.Timeout)
			}
			return "", ghosterr.Wrap(ghosterr.CommunicationError, op, ctx.Err())
		}
	}
}

// takeStale drops complete responses owed to timed-out requests from the front of buf.
func (p *process) takeStale(buf []byte) []byte {
	for p.stale > 0 {
		_, rest, ok := protocol.SplitMessage(buf)
		if !ok {
			break
		}
		p.stale--
		buf = rest
	}
	return buf
}

// Stop terminates the subprocess: stdin is closed, SIGTERM sent, and after a
// bounded wait the process is killed. Stopping a stopped host is a no-op.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.proc
	if p == nil {
		return nil
	}
	h.proc = nil
	close(p.quit)
	p.stdin.Close()

	if !p.alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.cmd.Process.Kill()
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		h.log.Warn("personality ignored SIGTERM, killing", zap.Int("pid", p.cmd.Process.Pid))
		p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}

// Restart stops the subprocess and starts it again.
func (h *Host) Restart(ctx context.Context) error {
	if err := h.Stop(); err != nil {
		return err
	}
	return h.Start(ctx)
}

// readChunks copies r into chunks until EOF or quit, then closes chunks.
func readChunks(r io.ReadCloser, chunks chan<- []byte, quit <-chan struct{}) {
	defer close(chunks)
	defer r.Close()
	buf := make([]byte, readSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case chunks <- b:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drain appends whatever chunks are ready without blocking.
func drain(chunks <-chan []byte, buf []byte) []byte {
	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				return buf
			}
			buf = append(buf, b...)
		default:
			return buf
		}
	}
}

// stderrLogger logs the subprocess's stderr line by line.
type stderrLogger struct {
	log *zap.Logger
	buf []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(w.buf[:i], "\r"); len(line) > 0 {
			w.log.Warn("personality stderr", zap.ByteString("line", line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
