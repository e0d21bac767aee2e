package presenter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/sakura"
)

const runnerQueueSize = 64

// ErrQueueFull is returned by Enqueue when the runner is too far behind.
var ErrQueueFull = errors.New("presenter: action queue is full")

// Snapshot is the presentation state other components mirror.
type Snapshot struct {
	// Surface is the main character's surface.
	Surface int
	// Talking is true while a balloon is shown.
	Talking bool
}

// Runner executes action lists one action at a time, in the order they were
// queued.
type Runner struct {
	p     Presenter
	log   *zap.Logger
	queue chan batch

	mu       sync.Mutex
	surfaces map[int]int
	talking  bool
}

func NewRunner(p Presenter, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		p:        p,
		log:      log.Named("runner"),
		queue:    make(chan batch, runnerQueueSize),
		surfaces: map[int]int{0: 0, 1: 10},
	}
}

// batch is one queued script. Scripts queued as tokens are turned into
// actions only when they reach the front, against the surfaces shown by then.
type batch struct {
	actions []sakura.Action
	tokens  []sakura.Token
}

// Enqueue queues actions behind everything already queued.
func (r *Runner) Enqueue(actions []sakura.Action) error {
	if len(actions) == 0 {
		return nil
	}
	return r.push(batch{actions: actions})
}

// EnqueueScript queues a SakuraScript. A surface change that only returns a
// character to the surface it shows now is dropped, so "\s[0]" after an
// earlier script left scope 0 on another pose still takes effect.
func (r *Runner) EnqueueScript(script string) error {
	tokens := sakura.Tokenize(script)
	if len(tokens) == 0 {
		return nil
	}
	return r.push(batch{tokens: tokens})
}

func (r *Runner) push(b batch) error {
	select {
	case r.queue <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the current surface and talking flag.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Surface: r.surfaces[0], Talking: r.talking}
}

// Run executes queued actions until ctx ends. A failing action is logged and
// the next one runs.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-r.queue:
			if !r.runAll(ctx, r.actions(b)) {
				return nil
			}
		}
	}
}

// Flush executes what is still queued and returns once the queue is empty or
// ctx ends. It must not run concurrently with Run.
func (r *Runner) Flush(ctx context.Context) error {
	for {
		select {
		case b := <-r.queue:
			if !r.runAll(ctx, r.actions(b)) {
				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

func (r *Runner) actions(b batch) []sakura.Action {
	if b.tokens == nil {
		return b.actions
	}
	r.mu.Lock()
	shown := make(map[int]int, len(r.surfaces))
	for scope, n := range r.surfaces {
		shown[scope] = n
	}
	r.mu.Unlock()
	return sakura.GenerateFrom(b.tokens, shown)
}

// runAll reports false when ctx ended mid-list.
func (r *Runner) runAll(ctx context.Context, actions []sakura.Action) bool {
	for _, a := range actions {
		if err := r.exec(ctx, a); err != nil {
			if ctx.Err() != nil {
				return false
			}
			r.log.Warn("action failed", zap.String("kind", string(a.Kind)), zap.Error(err))
		}
	}
	return true
}

func (r *Runner) exec(ctx context.Context, a sakura.Action) error {
	switch a.Kind {
	case sakura.ActionDisplayText:
		r.setTalking(true)
		return r.p.DisplayText(ctx, a.Text, a.Scope)
	case sakura.ActionChangeSurface:
		r.mu.Lock()
		r.surfaces[a.Scope] = a.Surface
		r.mu.Unlock()
		return r.p.ChangeSurface(ctx, a.Surface, a.Scope)
	case sakura.ActionWait:
		return r.p.Wait(ctx, a.Duration)
	case sakura.ActionShowChoices:
		return r.p.ShowChoices(ctx, a.Choices)
	case sakura.ActionEnd:
		r.setTalking(false)
		return r.p.Hide(ctx)
	}
	return nil
}

func (r *Runner) setTalking(v bool) {
	r.mu.Lock()
	r.talking = v
	r.mu.Unlock()
}
