package personality

import (
	"context"
	"sync/atomic"

	"github.com/furin-lab/nanika/ghosterr"
	"github.com/furin-lab/nanika/protocol"
)

// Local runs an Engine in process behind the ghost.Personality interface.
// Requests and responses still pass through the wire codec.
type Local struct {
	e       *Engine
	version string
	running atomic.Bool
}

// NewLocal wraps e. version is the protocol version of outgoing requests.
func NewLocal(e *Engine, version string) *Local {
	if version == "" {
		version = Version
	}
	return &Local{e: e, version: version}
}

func (l *Local) Start(ctx context.Context) error {
	l.running.Store(true)
	return nil
}

func (l *Local) Request(ctx context.Context, event string, refs ...string) (string, error) {
	const op = "personality.request"
	if !l.running.Load() {
		return "", ghosterr.Newf(ghosterr.ProcessTerminated, op, "%s: personality is not running", event)
	}
	req, err := protocol.ParseRequest(protocol.FormatRequest(protocol.NewRequest(protocol.MethodGet, l.version, event, refs...)))
	if err != nil {
		return "", err
	}
	resp := l.e.Handle(ctx, req)
	return protocol.ExtractValue(protocol.FormatResponse(resp)), nil
}

func (l *Local) Stop() error {
	l.running.Store(false)
	return nil
}

func (l *Local) Running() bool {
	return l.running.Load()
}
