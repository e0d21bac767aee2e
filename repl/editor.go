package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"golang.org/x/text/width"

	"github.com/furin-lab/nanika/ghost"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

const maxHistory = 200

// Control keys handled by the editor.
const (
	keyHome      = 0x01 // Ctrl-A
	keyLeft      = 0x02 // Ctrl-B
	keyInterrupt = 0x03 // Ctrl-C
	keyEOF       = 0x04 // Ctrl-D
	keyEnd       = 0x05 // Ctrl-E
	keyRight     = 0x06 // Ctrl-F
	keyBackspace = 0x08 // Ctrl-H
	keyTab       = 0x09
	keyKillEnd   = 0x0b // Ctrl-K
	keyKillStart = 0x15 // Ctrl-U
	keyKillWord  = 0x17 // Ctrl-W
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

// commandWords complete at the start of a line.
var commandWords = []string{":boot", ":choice", ":click", ":close", ":event", ":quit"}

// eventWords complete the name after ":event".
var eventWords = []string{
	ghost.EventBoot,
	ghost.EventChoiceSelect,
	ghost.EventClose,
	ghost.EventMouseClick,
	ghost.EventSecondChange,
	ghost.EventTalk,
}

// Editor reads repl lines from /dev/tty, so entries can go to a redirected
// stdout. Tab completes commands and event names, Up and Down browse history,
// and the cursor accounts for double-width characters.
type Editor struct {
	tty      *os.File
	oldState *term.State
	in       *bufio.Reader
	out      io.Writer

	line []rune
	pos  int // cursor index into line

	history []string
	// hpos indexes history while browsing; len(history) is the line being typed.
	hpos  int
	draft []rune
}

// NewEditor opens /dev/tty and switches it to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}
	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return &Editor{tty: tty, oldState: old, in: bufio.NewReader(tty), out: tty}, nil
}

// Close restores the terminal.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the terminal for prompts and rendered replies.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// ReadLine shows prompt and returns the next line. Ctrl-D on an empty line
// returns io.EOF and Ctrl-C returns ErrInterrupt.
func (e *Editor) ReadLine(prompt string) (string, error) {
	e.line, e.pos = e.line[:0], 0
	e.hpos = len(e.history)
	for {
		e.redraw(prompt)
		r, _, err := e.in.ReadRune()
		if err != nil {
			return "", err
		}
		switch r {
		case keyInterrupt:
			fmt.Fprint(e.out, "\r\n")
			return "", ErrInterrupt
		case keyEOF:
			if len(e.line) == 0 {
				fmt.Fprint(e.out, "\r\n")
				return "", io.EOF
			}
			e.deleteAt(e.pos)
		case '\r', '\n':
			fmt.Fprint(e.out, "\r\n")
			text := string(e.line)
			e.remember(text)
			return text, nil
		case keyTab:
			if matches := e.complete(); len(matches) > 1 {
				fmt.Fprintf(e.out, "\r\n%s\r\n", strings.Join(matches, "  "))
			}
		case keyEscape:
			e.escape()
		default:
			e.edit(r)
		}
	}
}

func (e *Editor) edit(r rune) {
	switch r {
	case keyDelete, keyBackspace:
		e.deleteAt(e.pos - 1)
	case keyHome:
		e.pos = 0
	case keyEnd:
		e.pos = len(e.line)
	case keyLeft:
		e.move(-1)
	case keyRight:
		e.move(1)
	case keyKillEnd:
		e.line = e.line[:e.pos]
	case keyKillStart:
		e.line = append(e.line[:0], e.line[e.pos:]...)
		e.pos = 0
	case keyKillWord:
		start := e.pos
		for start > 0 && e.line[start-1] == ' ' {
			start--
		}
		for start > 0 && e.line[start-1] != ' ' {
			start--
		}
		e.line = append(e.line[:start], e.line[e.pos:]...)
		e.pos = start
	default:
		if r >= ' ' {
			e.insert(r)
		}
	}
}

// escape handles CSI sequences: arrows, Home/End and \x1b[n~ keys.
func (e *Editor) escape() {
	if r, _, err := e.in.ReadRune(); err != nil || r != '[' {
		return
	}
	r, _, err := e.in.ReadRune()
	if err != nil {
		return
	}
	if r >= '0' && r <= '9' {
		for {
			t, _, err := e.in.ReadRune()
			if err != nil || t == '~' {
				break
			}
		}
		switch r {
		case '1', '7':
			r = 'H'
		case '4', '8':
			r = 'F'
		case '3':
			e.deleteAt(e.pos)
			return
		default:
			return
		}
	}
	switch r {
	case 'A':
		e.browse(-1)
	case 'B':
		e.browse(1)
	case 'C':
		e.move(1)
	case 'D':
		e.move(-1)
	case 'H':
		e.pos = 0
	case 'F':
		e.pos = len(e.line)
	}
}

func (e *Editor) insert(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.pos+1:], e.line[e.pos:])
	e.line[e.pos] = r
	e.pos++
}

// deleteAt removes the rune at i, if any.
func (e *Editor) deleteAt(i int) {
	if i < 0 || i >= len(e.line) {
		return
	}
	e.line = append(e.line[:i], e.line[i+1:]...)
	if i < e.pos {
		e.pos--
	}
}

func (e *Editor) move(delta int) {
	e.pos = min(max(e.pos+delta, 0), len(e.line))
}

// complete extends the word before the cursor as far as its candidates agree
// and returns the candidates. A single match is finished with a space.
func (e *Editor) complete() []string {
	head := string(e.line[:e.pos])
	start := strings.LastIndexByte(head, ' ') + 1
	word := head[start:]
	matches := candidates(head[:start], word)
	if len(matches) == 0 {
		return nil
	}
	rest := commonPrefix(matches)[len(word):]
	if len(matches) == 1 {
		rest += " "
	}
	for _, r := range rest {
		e.insert(r)
	}
	return matches
}

// candidates lists the completions of word given the text before it.
func candidates(before, word string) []string {
	var words []string
	switch strings.TrimSpace(before) {
	case "":
		if word != "" && !strings.HasPrefix(word, ":") {
			return nil
		}
		words = commandWords
	case ":event":
		words = eventWords
	default:
		return nil
	}
	var out []string
	for _, w := range words {
		if strings.HasPrefix(w, word) {
			out = append(out, w)
		}
	}
	return out
}

func commonPrefix(words []string) string {
	p := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, p) {
			p = p[:len(p)-1]
		}
	}
	return p
}

// remember appends line to the history unless it repeats the last entry.
func (e *Editor) remember(line string) {
	if line == "" || (len(e.history) > 0 && e.history[len(e.history)-1] == line) {
		return
	}
	e.history = append(e.history, line)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// browse moves through the history by delta, keeping the unfinished line.
func (e *Editor) browse(delta int) {
	next := e.hpos + delta
	if next < 0 || next > len(e.history) {
		return
	}
	if e.hpos == len(e.history) {
		e.draft = append(e.draft[:0], e.line...)
	}
	e.hpos = next
	if next == len(e.history) {
		e.line = append(e.line[:0], e.draft...)
	} else {
		e.line = append(e.line[:0], []rune(e.history[next])...)
	}
	e.pos = len(e.line)
}

func (e *Editor) redraw(prompt string) {
	fmt.Fprintf(e.out, "\r\x1b[K%s%s", prompt, string(e.line))
	if back := columns(e.line[e.pos:]); back > 0 {
		fmt.Fprintf(e.out, "\x1b[%dD", back)
	}
}

// columns is the terminal width of rs; kana and kanji take two cells.
func columns(rs []rune) int {
	n := 0
	for _, r := range rs {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
