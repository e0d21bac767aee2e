package personality

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/protocol"
)

// Serve answers requests read from r on w until r reaches EOF or ctx ends.
// Each request ends with a blank line; malformed ones get 400.
func (e *Engine) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		text, err := readRequest(br)
		if text != "" {
			resp := e.serveOne(ctx, text)
			if _, werr := bw.WriteString(protocol.FormatResponse(resp)); werr != nil {
				return werr
			}
			if werr := bw.Flush(); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (e *Engine) serveOne(ctx context.Context, text string) protocol.Response {
	req, err := protocol.ParseRequest(text)
	if err != nil {
		e.log.Warn("bad request", zap.Error(err))
		return e.respond(protocol.StatusBadRequest, "")
	}
	e.log.Debug("request", zap.String("event", req.ID))
	return e.Handle(ctx, req)
}

// readRequest returns the lines up to and including the terminating blank
// line. Leading blank lines are skipped. At EOF any partial request is
// returned with io.EOF.
func readRequest(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		blank := strings.TrimSpace(line) == ""
		if !blank || b.Len() > 0 {
			b.WriteString(line)
		}
		if err != nil {
			return b.String(), err
		}
		if blank && b.Len() > 0 {
			return b.String(), nil
		}
	}
}
