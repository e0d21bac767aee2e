package shiori

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furin-lab/nanika/ghosterr"
)

func TestMatchLauncher(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"shiori.py", `python3 "$SHIORI"`},
		{"SHIORI.PY", `python3 "$SHIORI"`},
		{"ghost.csx", `dotnet script "$SHIORI"`},
		{"shiori.dll", `dotnet "$SHIORI"`},
		{"shiori.exe", `dotnet "$SHIORI"`},
		{"index.js", `node "$SHIORI"`},
		{"shiori", `"$SHIORI"`},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			l, ok := MatchLauncher(tt.base, DefaultLaunchers)
			require.True(t, ok)
			assert.Equal(t, tt.want, l.Command)
		})
	}

	_, ok := MatchLauncher("x.py", nil)
	assert.False(t, ok)
}

func TestExpand(t *testing.T) {
	t.Setenv("NANIKA_TEST_FLAG", "-u")
	l := Launcher{Pattern: "*.py", Command: `python3 $NANIKA_TEST_FLAG "$SHIORI" --root "$GHOST_DIR"`}
	argv, err := l.Expand("/ghosts/my ghost/shiori.py", "/ghosts/my ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "-u", "/ghosts/my ghost/shiori.py", "--root", "/ghosts/my ghost"}, argv)

	_, err = Launcher{Pattern: "*", Command: ""}.Expand("/x", "/")
	assert.Error(t, err)
	_, err = Launcher{Pattern: "*", Command: `"unterminated`}.Expand("/x", "/")
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()

	native := filepath.Join(dir, "shiori")
	require.NoError(t, os.WriteFile(native, []byte("#!/bin/sh\n"), 0o755))
	name, args, err := ResolveCommand("shiori", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, native, name)
	assert.Empty(t, args)

	plain := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))
	_, _, err = ResolveCommand(plain, "", nil)
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted, "native file without exec bit")

	_, _, err = ResolveCommand("missing.py", dir, nil)
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted)

	_, _, err = ResolveCommand("", dir, nil)
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted)

	_, _, err = ResolveCommand(dir, "", nil)
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted, "directory")
}

func TestResolveCommandConfiguredLauncherFirst(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "shiori.py")
	require.NoError(t, os.WriteFile(script, []byte("print()\n"), 0o644))

	sh, err := filepath.Abs("/bin/sh")
	require.NoError(t, err)
	if _, err := os.Stat(sh); err != nil {
		t.Skip("no /bin/sh")
	}

	name, args, err := ResolveCommand(script, dir, []Launcher{{Pattern: "*.py", Command: `/bin/sh -c 'exec python3 "$0"' "$SHIORI"`}})
	require.NoError(t, err)
	assert.Equal(t, sh, name)
	assert.Equal(t, []string{"-c", `exec python3 "$0"`, script}, args)

	_, _, err = ResolveCommand(script, dir, []Launcher{{Pattern: "*.py", Command: "nanika-no-such-interpreter $SHIORI"}})
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted)
}
