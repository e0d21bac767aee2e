// Package presenter executes SakuraScript actions against a presentation
// surface: a log for headless runs, or browser clients over a websocket bridge.
package presenter

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/furin-lab/nanika/sakura"
)

// Presenter shows a ghost. Wait blocks for d or until ctx ends.
type Presenter interface {
	DisplayText(ctx context.Context, text string, scope int) error
	ChangeSurface(ctx context.Context, surface, scope int) error
	Wait(ctx context.Context, d time.Duration) error
	ShowChoices(ctx context.Context, choices []sakura.Choice) error
	Hide(ctx context.Context) error
}

// Multi fans every call out to ps. Waits run concurrently so the pause is
// not multiplied.
func Multi(ps ...Presenter) Presenter {
	return multi(ps)
}

type multi []Presenter

func (m multi) each(fn func(Presenter) error) error {
	var errs []error
	for _, p := range m {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) DisplayText(ctx context.Context, text string, scope int) error {
	return m.each(func(p Presenter) error { return p.DisplayText(ctx, text, scope) })
}

func (m multi) ChangeSurface(ctx context.Context, surface, scope int) error {
	return m.each(func(p Presenter) error { return p.ChangeSurface(ctx, surface, scope) })
}

func (m multi) Wait(ctx context.Context, d time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m {
		g.Go(func() error { return p.Wait(gctx, d) })
	}
	return g.Wait()
}

func (m multi) ShowChoices(ctx context.Context, choices []sakura.Choice) error {
	return m.each(func(p Presenter) error { return p.ShowChoices(ctx, choices) })
}

func (m multi) Hide(ctx context.Context) error {
	return m.each(func(p Presenter) error { return p.Hide(ctx) })
}

// sleep waits for d or ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
