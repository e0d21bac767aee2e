package sstp

import (
	"context"

	"github.com/furin-lab/nanika/protocol"
)

// Handler answers one validated SSTP request. The request's Trust is already
// evaluated. Version, Charset and Sender of the returned response are filled in
// by the server when left empty.
type Handler interface {
	ServeSSTP(ctx context.Context, req *protocol.Request) *protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

func (f HandlerFunc) ServeSSTP(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f(ctx, req)
}

// DefaultHandler acknowledges NOTIFY with 204 and everything else with 200.
var DefaultHandler Handler = HandlerFunc(func(ctx context.Context, req *protocol.Request) *protocol.Response {
	return Acknowledge(req)
})

// Acknowledge returns the baseline response for req.
func Acknowledge(req *protocol.Request) *protocol.Response {
	code := protocol.StatusOK
	if req.Method == protocol.MethodNotify {
		code = protocol.StatusNoContent
	}
	resp := protocol.NewResponse(code, "")
	return &resp
}
