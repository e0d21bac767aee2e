package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/furin-lab/nanika/sakura"
)

// Entry is one exchange with the personality.
type Entry struct {
	Event      string
	References []string
	Value      string
	Err        error
	Actions    []sakura.Action
}

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

type requestRecord struct {
	Timestamp  time.Time `toml:"timestamp"`
	Event      string    `toml:"event"`
	References []string  `toml:"references,omitempty"`
}

type responseRecord struct {
	Value string `toml:"value,omitempty"`
	Error string `toml:"error,omitempty"`
}

type actionRecord struct {
	Kind    sakura.ActionKind `toml:"kind"`
	Scope   int               `toml:"scope"`
	Text    string            `toml:"text,omitempty"`
	Surface int               `toml:"surface,omitempty"`
	Wait    string            `toml:"wait,omitempty"`
	Choices []sakura.Choice   `toml:"choices,omitempty"`
}

type entryRecord struct {
	Request  requestRecord  `toml:"request"`
	Response responseRecord `toml:"response"`
	Actions  []actionRecord `toml:"actions,omitempty"`
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, e *Entry) error {
	rec := entryRecord{
		Request:  requestRecord{Timestamp: time.Now().Truncate(time.Second), Event: e.Event, References: e.References},
		Response: responseRecord{Value: e.Value},
	}
	if e.Err != nil {
		rec.Response.Error = e.Err.Error()
	}
	for _, a := range e.Actions {
		r := actionRecord{Kind: a.Kind, Scope: a.Scope, Text: a.Text, Surface: a.Surface, Choices: a.Choices}
		if a.Duration > 0 {
			r.Wait = a.Duration.String()
		}
		rec.Actions = append(rec.Actions, r)
	}

	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(w).Encode(rec); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
