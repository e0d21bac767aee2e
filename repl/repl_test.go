package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/ghost"
	"github.com/furin-lab/nanika/sakura"
)

func TestParseLine(t *testing.T) {
	cfg := nanika.DefaultConfig()
	cfg.Ghost.Platform = "linux"
	regions := ghost.DefaultRegions()

	tests := []struct {
		line  string
		event string
		refs  []string
	}{
		{"hello there", ghost.EventTalk, []string{"hello there"}},
		{":boot", ghost.EventBoot, []string{nanika.Name, nanika.Version, "linux"}},
		{":close", ghost.EventClose, nil},
		{":choice chat", ghost.EventChoiceSelect, []string{"chat"}},
		{":event OnMusicPlay a b", "OnMusicPlay", []string{"a", "b"}},
		{":click 100 80", ghost.EventMouseClick, []string{"0", "100", "80", "0", "head"}},
		{":click 100 200 0", ghost.EventMouseClick, []string{"0", "100", "200", "0", "body"}},
		{":click 100 80 10", ghost.EventMouseClick, []string{"10", "100", "80", "0", "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			event, refs, err := parseLine(tt.line, regions, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.refs, refs)
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	cfg := nanika.DefaultConfig()
	for _, line := range []string{":choice", ":event", ":click 1", ":click a b", ":dance"} {
		_, _, err := parseLine(line, ghost.DefaultRegions(), cfg)
		assert.Error(t, err, line)
	}
}

func TestHistoryBrowse(t *testing.T) {
	e := &Editor{}
	e.remember("one")
	e.remember("two")
	e.remember("two")
	e.remember("")
	assert.Equal(t, []string{"one", "two"}, e.history)

	e.line = []rune("dra")
	e.hpos = len(e.history)
	e.browse(-1)
	assert.Equal(t, "two", string(e.line))
	e.browse(-1)
	assert.Equal(t, "one", string(e.line))
	e.browse(-1)
	assert.Equal(t, "one", string(e.line), "stops at the oldest line")
	e.browse(1)
	e.browse(1)
	assert.Equal(t, "dra", string(e.line), "returns to the unfinished line")
	assert.Equal(t, len(e.line), e.pos)
}

func newScriptedEditor(keys string) *Editor {
	return &Editor{in: bufio.NewReader(strings.NewReader(keys)), out: io.Discard}
}

func TestEditorReadLine(t *testing.T) {
	tests := []struct {
		name string
		keys string
		want string
	}{
		{"plain", "hello\r", "hello"},
		{"complete command", ":cl\t\r", ":cl"},
		{"complete unique command", ":ch\t\r", ":choice "},
		{"complete event name", ":ev\tOnCl\t\r", ":event OnClose "},
		{"no completion for talk", "hel\t\r", "hel"},
		{"backspace multibyte", "こんにちはあ\x7f\r", "こんにちは"},
		{"insert mid line", "ac\x1b[Db\r", "abc"},
		{"kill word", "say hello there\x17\x17\r", "say "},
		{"kill to start", "abc\x1b[D\x15\r", "c"},
		{"kill to end", "abc\x01\x06\x0b\r", "a"},
		{"delete key", "abc\x01\x1b[3~\r", "bc"},
		{"ctrl-d deletes under cursor", "abc\x1b[H\x04\r", "bc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newScriptedEditor(tt.keys).ReadLine("> ")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEditorReadLineEnds(t *testing.T) {
	_, err := newScriptedEditor("\x04").ReadLine("> ")
	assert.ErrorIs(t, err, io.EOF)
	_, err = newScriptedEditor("ab\x03").ReadLine("> ")
	assert.ErrorIs(t, err, ErrInterrupt)

	e := newScriptedEditor(":boot\r\x1b[A\r")
	_, err = e.ReadLine("> ")
	require.NoError(t, err)
	got, err := e.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, ":boot", got, "up recalls the previous line")
}

func TestEditorCompletionCandidates(t *testing.T) {
	assert.Equal(t, []string{":choice", ":click", ":close"}, candidates("", ":c"))
	assert.Equal(t, commandWords, candidates("", ""))
	assert.Empty(t, candidates("", "hi"))
	assert.Equal(t, []string{ghost.EventMouseClick}, candidates(":event ", "OnM"))
	assert.Empty(t, candidates(":click ", "1"))
	assert.Equal(t, ":c", commonPrefix([]string{":choice", ":click", ":close"}))
}

func TestEditorColumns(t *testing.T) {
	assert.Equal(t, 3, columns([]rune("abc")))
	assert.Equal(t, 4, columns([]rune("こん")))
	assert.Equal(t, 3, columns([]rune("aこ")))
}

func TestWriteEntryIsTOML(t *testing.T) {
	var buf bytes.Buffer
	err := writeEntry(&buf, &Entry{
		Event:      ghost.EventTalk,
		References: []string{"hi"},
		Value:      `\h\s[5]Hello\_w[500]\e`,
		Actions:    sakura.Parse(`\h\s[5]Hello\_w[500]\e`),
	})
	require.NoError(t, err)

	var got entryRecord
	_, err = toml.Decode(buf.String(), &got)
	require.NoError(t, err)
	assert.Equal(t, ghost.EventTalk, got.Request.Event)
	assert.Equal(t, []string{"hi"}, got.Request.References)
	assert.Empty(t, got.Response.Error)

	var waits []string
	for _, a := range got.Actions {
		if a.Kind == sakura.ActionWait {
			waits = append(waits, a.Wait)
		}
	}
	assert.Equal(t, []string{(500 * time.Millisecond).String()}, waits)
}

func TestWriteEntryError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEntry(&buf, &Entry{Event: "OnBoot", Err: errors.New("boom")}))

	var got entryRecord
	_, err := toml.Decode(buf.String(), &got)
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Response.Error)
	assert.Empty(t, got.Actions)
}
