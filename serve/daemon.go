package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/ai"
	"github.com/furin-lab/nanika/fmo"
	"github.com/furin-lab/nanika/ghost"
	"github.com/furin-lab/nanika/personality"
	"github.com/furin-lab/nanika/presenter"
	"github.com/furin-lab/nanika/protocol"
	"github.com/furin-lab/nanika/shiori"
	"github.com/furin-lab/nanika/sstp"
	"github.com/furin-lab/nanika/state"
)

// DaemonOptions configures a Daemon.
type DaemonOptions struct {
	Config *nanika.Config
	// ConfigPath is reported by the control socket's config actions.
	ConfigPath string
	// SocketPath is the control socket; empty disables it.
	SocketPath string
	Logger     *zap.Logger
}

// Daemon owns every component of a running ghost.
type Daemon struct {
	cfg *nanika.Config
	log *zap.Logger

	engine      *personality.Engine
	personality ghost.Personality
	dispatcher  *ghost.Dispatcher
	runner      *presenter.Runner
	bridge      *presenter.Bridge
	sstp        *sstp.Server
	fmo         *fmo.Publisher
	watcher     *ghost.Watcher
	control     *Server
}

// NewDaemon builds the components described by the configuration. Nothing
// runs until Run.
func NewDaemon(ctx context.Context, opts DaemonOptions) (_ *Daemon, err error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	for _, w := range nanika.ValidateConfig(cfg) {
		log.Warn("config", zap.String("warning", w))
	}

	d := &Daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if err := d.newPersonality(ctx); err != nil {
		return nil, err
	}

	d.dispatcher = ghost.New(d.personality, ghost.Options{
		HostName:     cfg.Ghost.HostName,
		HostVersion:  cfg.Ghost.HostVersion,
		Platform:     nanika.ResolvePlatform(cfg),
		TickInterval: cfg.Ghost.TickInterval.Duration,
		CloseGrace:   cfg.Ghost.CloseGrace.Duration,
		Regions:      regionTable(cfg.Ghost.Regions),
		Logger:       log,
	})

	var p presenter.Presenter = presenter.NewLog(log)
	if cfg.Bridge.Enabled {
		d.bridge = presenter.NewBridge(presenter.BridgeOptions{
			Address: cfg.Bridge.Address,
			Input:   d.dispatcher,
			Logger:  log,
		})
		p = presenter.Multi(p, d.bridge)
	}
	d.runner = presenter.NewRunner(p, log)

	if nanika.Enabled(cfg.SSTP.Enabled, true) {
		d.sstp = sstp.New(sstpOptions(cfg, log), sstp.HandlerFunc(d.ServeSSTP))
	}

	if nanika.Enabled(cfg.FMO.Enabled, true) {
		d.fmo, err = fmo.NewPublisher(fmo.Options{
			Path:      nanika.ResolveFMOPath(cfg),
			Size:      cfg.FMO.Size,
			Interval:  cfg.FMO.Interval.Duration,
			GhostPath: nanika.ResolveGhostDir(cfg),
			Name:      cfg.Ghost.Name,
			State: func() fmo.State {
				s := d.runner.Snapshot()
				return fmo.State{Surface: s.Surface, Talking: s.Talking}
			},
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("fmo: %w", err)
		}
	}

	if opts.SocketPath != "" {
		d.control, err = NewServer(opts.SocketPath, opts.ConfigPath, d, log)
		if err != nil {
			return nil, fmt.Errorf("control socket: %w", err)
		}
	}
	return d, nil
}

func (d *Daemon) newPersonality(ctx context.Context) error {
	cfg := d.cfg
	switch cfg.Shiori.Backend {
	case "process":
		path := nanika.ResolveShioriPath(cfg)
		if path == "" {
			return errors.New("no personality configured; set NANIKA_SHIORI or shiori.path")
		}
		dir := nanika.ResolveGhostDir(cfg)
		full := path
		if !filepath.IsAbs(full) && dir != "" {
			full = filepath.Join(dir, full)
		}
		if _, err := os.Stat(full); err != nil {
			return fmt.Errorf("personality: %w", err)
		}
		launchers := make([]shiori.Launcher, len(cfg.Shiori.Launchers))
		for i, l := range cfg.Shiori.Launchers {
			launchers[i] = shiori.Launcher{Pattern: l.Pattern, Command: l.Command}
		}
		d.personality = shiori.New(shiori.Options{
			Path:      path,
			Dir:       dir,
			Protocol:  cfg.Shiori.Protocol,
			Timeout:   cfg.Shiori.Timeout.Duration,
			Settle:    cfg.Shiori.Settle.Duration,
			Launchers: launchers,
			Logger:    d.log,
		})
		if nanika.Enabled(cfg.Shiori.Watch, true) {
			w, err := ghost.NewWatcher(full, reloader{d}, 0, d.log)
			if err != nil {
				return fmt.Errorf("watch personality: %w", err)
			}
			d.watcher = w
		}
		return nil

	case "builtin":
		engine, err := newEngine(ctx, cfg, d.log)
		if err != nil {
			return err
		}
		d.engine = engine
		d.personality = personality.NewLocal(engine, cfg.Shiori.Protocol)
		return nil
	}
	return fmt.Errorf("unknown shiori.backend %q", cfg.Shiori.Backend)
}

// newEngine builds the built-in personality with its state store and generator.
func newEngine(ctx context.Context, cfg *nanika.Config, log *zap.Logger) (*personality.Engine, error) {
	store, err := state.Open(state.Options{
		Backend:  cfg.State.Backend,
		Path:     nanika.ResolveStatePath(cfg),
		RedisURL: nanika.ResolveRedisURL(cfg),
		Key:      cfg.State.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	gen, err := ai.New(ctx, ai.Config{
		Backend:         cfg.AI.Backend,
		BaseURL:         nanika.ResolveAIBaseURL(cfg),
		APIKey:          nanika.ResolveAIAPIKey(cfg),
		APIType:         cfg.AI.APIType,
		Model:           nanika.ResolveAIModel(cfg),
		MaxTokens:       cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
		Timeout:         cfg.AI.Timeout.Duration,
		BreakerFailures: cfg.AI.BreakerFailures,
		BreakerCooldown: cfg.AI.BreakerCooldown.Duration,
		Logger:          log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return personality.New(personality.Options{
		Name:      cfg.Ghost.Name,
		Version:   nanika.Version,
		Store:     store,
		Generator: gen,
		Regions:   regionTable(cfg.Ghost.Regions),
		Prompt:    loadCustomPrompt(log),
		Logger:    log,
	}), nil
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt(log *zap.Logger) string {
	promptPath := nanika.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	log.Info("loaded custom prompt", zap.String("path", promptPath))
	return string(data)
}

// regionTable puts configured regions ahead of the defaults, earlier entries first.
func regionTable(extra []nanika.RegionConfig) *ghost.RegionTable {
	t := ghost.DefaultRegions()
	for i := len(extra) - 1; i >= 0; i-- {
		r := extra[i]
		t.Add(ghost.Region{Surface: r.Surface, Name: r.Name, Rect: image.Rect(r.X0, r.Y0, r.X1, r.Y1)})
	}
	return t
}

func sstpOptions(cfg *nanika.Config, log *zap.Logger) sstp.Options {
	return sstp.Options{
		Address:     cfg.SSTP.Address,
		Port:        cfg.SSTP.Port,
		TLSPort:     cfg.SSTP.TLSPort,
		TLSCert:     cfg.SSTP.TLSCert,
		TLSKey:      cfg.SSTP.TLSKey,
		IdleTimeout: cfg.SSTP.IdleTimeout.Duration,
		MaxConns:    cfg.SSTP.MaxConns,
		Rate:        cfg.SSTP.Rate,
		Burst:       cfg.SSTP.Burst,
		TrustToken:  cfg.SSTP.TrustToken,
		Sender:      cfg.SSTP.Sender,
		AllowRemote: cfg.SSTP.AllowRemote,
		Logger:      log,
	}
}

// Run boots the ghost and serves until ctx ends, then shuts the session down
// and presents what it said on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	if d.sstp != nil {
		if err := d.sstp.Listen(); err != nil {
			return err
		}
	}
	if err := d.dispatcher.Boot(ctx); err != nil {
		return fmt.Errorf("boot ghost: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	runCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	runnerDone := make(chan struct{})
	g.Go(func() error {
		defer close(runnerDone)
		return d.runner.Run(runCtx)
	})
	g.Go(func() error {
		d.pump()
		stopRunner()
		<-runnerDone
		flushCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Ghost.CloseGrace.Duration)
		defer cancel()
		if err := d.runner.Flush(flushCtx); err != nil {
			d.log.Warn("presentation cut short", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Ghost.CloseGrace.Duration+time.Second)
		defer cancel()
		return d.dispatcher.Shutdown(shutdownCtx)
	})

	if d.sstp != nil {
		g.Go(func() error { return d.sstp.Serve(gctx) })
	}
	if d.fmo != nil {
		g.Go(func() error { return d.fmo.Run(gctx) })
	}
	if d.bridge != nil {
		g.Go(func() error { return d.bridge.Run(gctx) })
	}
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}
	if d.control != nil {
		g.Go(d.control.Serve)
		g.Go(func() error {
			<-gctx.Done()
			d.control.Close()
			return nil
		})
	}

	d.log.Info("ready", zap.String("ghost", d.cfg.Ghost.Name), zap.String("backend", d.cfg.Shiori.Backend))
	return g.Wait()
}

// pump hands scripts to the runner until the session closes its events.
func (d *Daemon) pump() {
	for ev := range d.dispatcher.Events() {
		switch ev.Kind {
		case ghost.ScriptReceived:
			if err := d.runner.EnqueueScript(ev.Script); err != nil {
				d.log.Warn("dropping script", zap.String("source", ev.Source), zap.Error(err))
			}
		case ghost.ErrorOccurred:
			d.log.Error("ghost error",
				zap.String("source", ev.Source),
				zap.String("kind", string(ev.ErrKind)),
				zap.Error(ev.Err))
		}
	}
}

func (d *Daemon) close() {
	if d.control != nil {
		d.control.Close()
	}
	if d.sstp != nil {
		d.sstp.Close()
	}
	if d.bridge != nil {
		d.bridge.Close()
	}
	if d.fmo != nil {
		if err := d.fmo.Close(); err != nil {
			d.log.Warn("close fmo", zap.Error(err))
		}
	}
	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			d.log.Warn("close state store", zap.Error(err))
		}
	}
}

// ServeSSTP forwards SEND scripts and NOTIFY events to the ghost.
func (d *Daemon) ServeSSTP(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodExecute:
		if req.Trust != protocol.TrustLocal {
			return status(protocol.StatusRefuse)
		}
	case protocol.MethodSend:
		script := req.Headers.Get(protocol.HeaderScript)
		if script == "" {
			return status(protocol.StatusBadRequest)
		}
		if err := d.dispatcher.Inject(script, "SSTP"); err != nil {
			return dispatchStatus(err)
		}
	case protocol.MethodNotify:
		if event := req.Headers.Get(protocol.HeaderEvent); event != "" {
			if err := d.dispatcher.Notify(event, req.References...); err != nil {
				return dispatchStatus(err)
			}
		}
		if script := req.Headers.Get(protocol.HeaderScript); script != "" {
			if err := d.dispatcher.Inject(script, "SSTP"); err != nil {
				return dispatchStatus(err)
			}
		}
	}
	return sstp.Acknowledge(req)
}

func status(code int) *protocol.Response {
	resp := protocol.NewResponse(code, "")
	return &resp
}

func dispatchStatus(err error) *protocol.Response {
	if errors.Is(err, ghost.ErrNotRunning) {
		return status(protocol.StatusInvisible)
	}
	return status(protocol.StatusServiceUnavailable)
}

// Status implements Controller.
func (d *Daemon) Status() *nanika.Status {
	snap := d.runner.Snapshot()
	st := &nanika.Status{
		Name:    d.cfg.Ghost.Name,
		State:   d.dispatcher.State().String(),
		Backend: d.cfg.Shiori.Backend,
		Surface: snap.Surface,
		Talking: snap.Talking,
	}
	if d.fmo != nil {
		st.FMOID = d.fmo.ID()
	}
	if d.sstp != nil {
		for _, a := range d.sstp.Addrs() {
			st.SSTP = append(st.SSTP, a.String())
		}
	}
	return st
}

func (d *Daemon) Reload(ctx context.Context) error          { return d.dispatcher.Reload(ctx) }
func (d *Daemon) Click(surface, x, y, button int) error     { return d.dispatcher.Click(surface, x, y, button) }
func (d *Daemon) Talk(prompt string) error                  { return d.dispatcher.Talk(prompt) }
func (d *Daemon) Choice(id string) error                    { return d.dispatcher.Choice(id) }
func (d *Daemon) Notify(event string, refs ...string) error { return d.dispatcher.Notify(event, refs...) }
func (d *Daemon) Inject(script, source string) error        { return d.dispatcher.Inject(script, source) }

// reloader lets the watcher restart the personality through the dispatcher.
type reloader struct{ d *Daemon }

func (r reloader) Reload(ctx context.Context) error {
	return r.d.dispatcher.Reload(ctx)
}
