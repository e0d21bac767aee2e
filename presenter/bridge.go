package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/furin-lab/nanika/sakura"
)

const (
	DefaultBridgeAddress = "127.0.0.1:9810"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendSize = 64
	maxInboundSize = 64 << 10
)

// InputHandler receives user input from bridge clients.
type InputHandler interface {
	Click(surface, x, y, button int) error
	Talk(prompt string) error
	Choice(id string) error
}

// Message is sent to bridge clients.
type Message struct {
	// Type is "action", "hide" or "error".
	Type   string         `json:"type"`
	Action *sakura.Action `json:"action,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Input is received from bridge clients. Type is "click", "talk" or "choice".
type Input struct {
	Type    string `json:"type"`
	Surface int    `json:"surface"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Button  int    `json:"button"`
	Text    string `json:"text,omitempty"`
	ID      string `json:"id,omitempty"`
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Address string
	Input   InputHandler
	Logger  *zap.Logger
}

// Bridge presents a ghost to websocket clients and serves /metrics and
// /healthz next to the websocket endpoint.
type Bridge struct {
	opts     BridgeOptions
	log      *zap.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu      sync.RWMutex
	clients map[*client]struct{}
	addr    net.Addr
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	writeMu sync.Mutex
}

func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Address == "" {
		opts.Address = DefaultBridgeAddress
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		opts: opts,
		log:  log.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", b.handleWebSocket)
	r.Get("/healthz", b.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	b.router = r
	return b
}

// Handler returns the bridge's routes.
func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Addr returns the listening address once Run has bound it.
func (b *Bridge) Addr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr
}

// Clients returns the number of connected clients.
func (b *Bridge) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Run serves HTTP until ctx ends, then disconnects every client.
func (b *Bridge) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", b.opts.Address)
	if err != nil {
		return fmt.Errorf("bridge: listen: %w", err)
	}
	b.mu.Lock()
	b.addr = l.Addr()
	b.mu.Unlock()

	srv := &http.Server{Handler: b.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	b.log.Info("listening", zap.Stringer("addr", l.Addr()))

	select {
	case err := <-errc:
		b.Close()
		return fmt.Errorf("bridge: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Close()
	err = srv.Shutdown(shutdownCtx)
	if serr := <-errc; !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	return err
}

// Close disconnects every client.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.conn.Close()
	}
}

func (b *Bridge) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": b.Clients()})
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	b.readPump(c)

	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	close(c.send)
	<-done
	conn.Close()
	b.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

func (b *Bridge) readPump(c *client) {
	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Input
		if err := c.conn.ReadJSON(&in); err != nil {
			var syntax *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typ) {
				c.queue(b.encode(Message{Type: "error", Error: "invalid message"}))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		if err := b.dispatch(in); err != nil {
			b.log.Warn("input rejected", zap.String("type", in.Type), zap.Error(err))
			c.queue(b.encode(Message{Type: "error", Error: err.Error()}))
		}
	}
}

func (b *Bridge) dispatch(in Input) error {
	if b.opts.Input == nil {
		return errors.New("input is not accepted")
	}
	switch in.Type {
	case "click":
		return b.opts.Input.Click(in.Surface, in.X, in.Y, in.Button)
	case "talk":
		return b.opts.Input.Talk(in.Text)
	case "choice":
		return b.opts.Input.Choice(in.ID)
	}
	return fmt.Errorf("unknown input type %q", in.Type)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				for range c.send {
				}
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				for range c.send {
				}
				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// queue drops data when the client is too far behind.
func (c *client) queue(data []byte) bool {
	if data == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Bridge) encode(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		b.log.Error("encode message", zap.Error(err))
		return nil
	}
	return data
}

func (b *Bridge) broadcast(m Message) {
	data := b.encode(m)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if !c.queue(data) {
			b.log.Warn("client too slow, message dropped")
		}
	}
}

func (b *Bridge) action(a sakura.Action) {
	b.broadcast(Message{Type: "action", Action: &a})
}

func (b *Bridge) DisplayText(ctx context.Context, text string, scope int) error {
	b.action(sakura.DisplayText(text, scope))
	return nil
}

func (b *Bridge) ChangeSurface(ctx context.Context, surface, scope int) error {
	b.action(sakura.ChangeSurface(surface, scope))
	return nil
}

func (b *Bridge) Wait(ctx context.Context, d time.Duration) error {
	b.action(sakura.Wait(d))
	return sleep(ctx, d)
}

func (b *Bridge) ShowChoices(ctx context.Context, choices []sakura.Choice) error {
	b.action(sakura.ShowChoices(choices))
	return nil
}

func (b *Bridge) Hide(ctx context.Context) error {
	b.broadcast(Message{Type: "hide"})
	return nil
}
