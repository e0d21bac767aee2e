// Package ghost drives a ghost session: it turns lifecycle and input events into
// personality requests and hands the resulting scripts to the presentation side
// through an event channel.
//
// All personality requests run on one worker goroutine, so ticks, clicks and
// forwarded SSTP events never overlap on the same personality.
package ghost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/ghosterr"
	"github.com/furin-lab/nanika/sakura"
)

// Event names sent to the personality.
const (
	EventBoot         = "OnBoot"
	EventClose        = "OnClose"
	EventMouseClick   = "OnMouseClick"
	EventSecondChange = "OnSecondChange"
	EventTalk         = "OnTalk"
	EventChoiceSelect = "OnChoiceSelect"
)

const (
	DefaultTickInterval = time.Second
	DefaultCloseGrace   = 3 * time.Second

	jobQueueSize    = 32
	eventBufferSize = 64
)

var (
	// ErrNotRunning is returned for input while the session is not running.
	ErrNotRunning = errors.New("ghost: session is not running")
	// ErrBusy is returned when the request queue is full.
	ErrBusy = errors.New("ghost: request queue is full")
)

// Personality is the request/response engine behind a ghost.
type Personality interface {
	Start(ctx context.Context) error
	Request(ctx context.Context, event string, refs ...string) (string, error)
	Stop() error
	Running() bool
}

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateBooting
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// EventKind tells ScriptReceived from ErrorOccurred.
type EventKind int

const (
	ScriptReceived EventKind = iota
	ErrorOccurred
)

// Event is delivered to the presentation side.
type Event struct {
	Kind EventKind
	// Source is the personality event (or "SSTP") that produced it.
	Source string
	// Script and Actions are set for ScriptReceived.
	Script  string
	Actions []sakura.Action
	// Err and ErrKind are set for ErrorOccurred.
	Err     error
	ErrKind ghosterr.Kind
}

// Options configures a Dispatcher.
type Options struct {
	// HostName, HostVersion and Platform are the OnBoot references.
	HostName     string
	HostVersion  string
	Platform     string
	TickInterval time.Duration
	CloseGrace   time.Duration
	Regions      *RegionTable
	Logger       *zap.Logger
}

// Dispatcher owns one ghost session.
type Dispatcher struct {
	p    Personality
	opts Options
	log  *zap.Logger

	state  atomic.Int32
	events chan Event
	jobs   chan job
	// done is closed once the worker has stopped for good.
	done chan struct{}

	// tickQueued is set while an OnSecondChange job waits or runs.
	tickQueued atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

type job struct {
	event string
	refs  []string
	// script is delivered as-is instead of asking the personality.
	script string
	// reload restarts the personality; the result goes to result.
	reload bool
	result chan error
}

// New creates a dispatcher for p. Nothing runs until Boot.
func New(p Personality, opts Options) *Dispatcher {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	if opts.Regions == nil {
		opts.Regions = DefaultRegions()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		p:      p,
		opts:   opts,
		log:    log.Named("ghost"),
		events: make(chan Event, eventBufferSize),
		jobs:   make(chan job, jobQueueSize),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of scripts and errors. It is closed by Shutdown.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Regions returns the click region table.
func (d *Dispatcher) Regions() *RegionTable {
	return d.opts.Regions
}

// Boot starts the personality and sends OnBoot. A non-empty reply is delivered
// as ScriptReceived ahead of anything queued later. The worker and tick loop
// start whatever the reply.
// Any failure stops the personality, returns the session to idle and is
// returned to the caller. A Shutdown that lands while OnBoot is outstanding
// wins: Boot stops the personality and returns an error wrapping ErrNotRunning.
func (d *Dispatcher) Boot(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateBooting)) {
		return fmt.Errorf("ghost: boot in state %s", d.State())
	}

	value, err := d.boot(ctx)
	if err != nil {
		d.p.Stop()
		d.state.CompareAndSwap(int32(StateBooting), int32(StateIdle))
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if !d.state.CompareAndSwap(int32(StateBooting), int32(StateRunning)) {
		d.mu.Unlock()
		cancel()
		d.p.Stop()
		return fmt.Errorf("ghost: shut down during boot: %w", ErrNotRunning)
	}
	d.cancel = cancel
	d.wg.Add(2)
	d.mu.Unlock()

	go d.work(runCtx, value)
	go d.tick(runCtx)
	d.log.Info("session running", zap.Duration("tick", d.opts.TickInterval))
	return nil
}

func (d *Dispatcher) boot(ctx context.Context) (string, error) {
	if err := d.p.Start(ctx); err != nil {
		return "", err
	}
	return d.p.Request(ctx, EventBoot, d.opts.HostName, d.opts.HostVersion, d.opts.Platform)
}

// Click classifies a click and queues OnMouseClick with references
// surface, x, y, button and region name.
func (d *Dispatcher) Click(surface, x, y, button int) error {
	region := d.opts.Regions.Classify(surface, x, y)
	return d.enqueue(job{
		event: EventMouseClick,
		refs:  []string{strconv.Itoa(surface), strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(button), region},
	})
}

// Talk queues OnTalk with the user's prompt.
func (d *Dispatcher) Talk(prompt string) error {
	return d.enqueue(job{event: EventTalk, refs: []string{prompt}})
}

// Choice queues OnChoiceSelect for a chosen option id.
func (d *Dispatcher) Choice(id string) error {
	return d.enqueue(job{event: EventChoiceSelect, refs: []string{id}})
}

// Notify queues an arbitrary event.
func (d *Dispatcher) Notify(event string, refs ...string) error {
	if event == "" {
		return errors.New("ghost: empty event name")
	}
	return d.enqueue(job{event: event, refs: refs})
}

// Inject queues a script from another source (an SSTP SEND) for delivery in
// order with personality replies.
func (d *Dispatcher) Inject(script, source string) error {
	if script == "" {
		return nil
	}
	return d.enqueue(job{event: source, script: script})
}

// Tick queues OnSecondChange unless a previous tick is still queued.
func (d *Dispatcher) Tick() {
	if !d.tickQueued.CompareAndSwap(false, true) {
		return
	}
	if err := d.enqueue(job{event: EventSecondChange}); err != nil {
		d.tickQueued.Store(false)
	}
}

// Reload restarts the personality between requests and waits for the result.
func (d *Dispatcher) Reload(ctx context.Context) error {
	result := make(chan error, 1)
	if err := d.enqueue(job{event: "reload", reload: true, result: result}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-d.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(j job) error {
	if d.State() != StateRunning {
		return ErrNotRunning
	}
	select {
	case d.jobs <- j:
		return nil
	default:
		d.log.Warn("request queue full, dropping", zap.String("event", j.event))
		return ErrBusy
	}
}

func (d *Dispatcher) work(ctx context.Context, boot string) {
	defer d.wg.Done()
	if boot != "" {
		d.deliver(ctx, EventBoot, boot)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			if ctx.Err() != nil {
				if j.result != nil {
					j.result <- ErrNotRunning
				}
				return
			}
			d.run(ctx, j)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	switch {
	case j.reload:
		d.log.Info("reloading personality")
		d.p.Stop()
		err := d.p.Start(ctx)
		if err != nil {
			d.fail(ctx, j.event, err)
		}
		j.result <- err
		return
	case j.script != "":
		d.deliver(ctx, j.event, j.script)
		return
	}

	if j.event == EventSecondChange {
		defer d.tickQueued.Store(false)
	}
	value, err := d.p.Request(ctx, j.event, j.refs...)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.fail(ctx, j.event, err)
		if ghosterr.NeedsRestart(err) && !d.p.Running() {
			d.restart(ctx)
		}
		return
	}
	if value != "" {
		d.deliver(ctx, j.event, value)
	}
}

func (d *Dispatcher) restart(ctx context.Context) {
	d.log.Warn("personality is down, restarting")
	if err := d.p.Start(ctx); err != nil {
		d.fail(ctx, "restart", err)
		return
	}
	d.log.Info("personality restarted")
}

func (d *Dispatcher) tick(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(d.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Tick()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, source, script string) {
	ev := Event{Kind: ScriptReceived, Source: source, Script: script, Actions: sakura.Parse(script)}
	if source == EventSecondChange {
		d.log.Debug("script", zap.String("source", source), zap.String("script", script))
	} else {
		d.log.Info("script", zap.String("source", source), zap.String("script", script))
	}
	d.emit(ctx, ev)
}

func (d *Dispatcher) fail(ctx context.Context, source string, err error) {
	d.log.Error("request failed", zap.String("event", source), zap.Error(err))
	d.emit(ctx, Event{Kind: ErrorOccurred, Source: source, Err: err, ErrKind: ghosterr.KindOf(err)})
}

func (d *Dispatcher) emit(ctx context.Context, ev Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Shutdown stops the tick loop and any in-flight request, sends OnClose within
// the close grace period, then stops the personality unconditionally and closes
// the events channel. OnClose failures are logged only. Calling Shutdown again
// is a no-op.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdown.Do(func() {
		prev := State(d.state.Swap(int32(StateShuttingDown)))
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		d.wg.Wait()
		close(d.done)

		if prev == StateRunning {
			graceCtx, cancel := context.WithTimeout(ctx, d.opts.CloseGrace)
			value, err := d.p.Request(graceCtx, EventClose)
			if err != nil {
				d.log.Warn("OnClose failed", zap.Error(err))
			} else if value != "" {
				d.deliver(graceCtx, EventClose, value)
			}
			cancel()
		}

		if err := d.p.Stop(); err != nil {
			d.log.Warn("stop personality", zap.Error(err))
		}
		d.state.Store(int32(StateTerminated))
		close(d.events)
		d.log.Info("session terminated")
	})
	return nil
}
