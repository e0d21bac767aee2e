package presenter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/sakura"
)

// Log presents a ghost as log lines.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log.Named("presenter")}
}

func (l *Log) DisplayText(ctx context.Context, text string, scope int) error {
	l.log.Info("say", zap.Int("scope", scope), zap.String("text", text))
	return nil
}

func (l *Log) ChangeSurface(ctx context.Context, surface, scope int) error {
	l.log.Debug("surface", zap.Int("scope", scope), zap.Int("surface", surface))
	return nil
}

func (l *Log) Wait(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (l *Log) ShowChoices(ctx context.Context, choices []sakura.Choice) error {
	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.Label + " (" + c.ID + ")"
	}
	l.log.Info("choices", zap.Strings("choices", labels))
	return nil
}

func (l *Log) Hide(ctx context.Context) error {
	l.log.Debug("hide")
	return nil
}
