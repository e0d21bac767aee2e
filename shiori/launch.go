package shiori

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/furin-lab/nanika/ghosterr"
)

// Launcher maps personality files whose base name matches Pattern (a
// filepath.Match glob, case-insensitive) to a command line template. The
// template is split into words with shell quoting rules; $SHIORI expands to the
// personality file and $GHOST_DIR to the resource root. Other variables come
// from the environment.
type Launcher struct {
	Pattern string
	Command string
}

// DefaultLaunchers is the built-in launch table, tried after any configured launchers.
var DefaultLaunchers = []Launcher{
	{Pattern: "*.py", Command: `python3 "$SHIORI"`},
	{Pattern: "*.csx", Command: `dotnet script "$SHIORI"`},
	{Pattern: "*.dll", Command: `dotnet "$SHIORI"`},
	{Pattern: "*.exe", Command: `dotnet "$SHIORI"`},
	{Pattern: "*.js", Command: `node "$SHIORI"`},
	{Pattern: "*.rb", Command: `ruby "$SHIORI"`},
	{Pattern: "*.lua", Command: `lua "$SHIORI"`},
	{Pattern: "*", Command: `"$SHIORI"`},
}

// MatchLauncher returns the first launcher whose pattern matches base.
func MatchLauncher(base string, launchers []Launcher) (Launcher, bool) {
	lower := strings.ToLower(base)
	for _, l := range launchers {
		if ok, err := filepath.Match(strings.ToLower(l.Pattern), lower); err == nil && ok {
			return l, true
		}
	}
	return Launcher{}, false
}

// Expand splits the launcher's command template into argv.
func (l Launcher) Expand(path, dir string) ([]string, error) {
	argv, err := shell.Fields(l.Command, func(name string) string {
		switch name {
		case "SHIORI":
			return path
		case "GHOST_DIR":
			return dir
		}
		return os.Getenv(name)
	})
	if err != nil {
		return nil, fmt.Errorf("launcher %q: %w", l.Pattern, err)
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("launcher %q: empty command", l.Pattern)
	}
	return argv, nil
}

// ResolveCommand resolves the personality file and picks its launch command.
// A relative path is taken against dir. Configured launchers are tried before
// DefaultLaunchers. A missing file, a non-executable native file or a missing
// interpreter fails with ProcessNotStarted.
func ResolveCommand(path, dir string, launchers []Launcher) (string, []string, error) {
	const op = "shiori.resolve"
	if path == "" {
		return "", nil, ghosterr.New(ghosterr.ProcessNotStarted, op, "no personality path configured")
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, ghosterr.Newf(ghosterr.ProcessNotStarted, op, "personality %s not found", abs)
		}
		return "", nil, ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}
	if info.IsDir() {
		return "", nil, ghosterr.Newf(ghosterr.ProcessNotStarted, op, "personality %s is a directory", abs)
	}
	if dir == "" {
		dir = filepath.Dir(abs)
	}

	table := append(append([]Launcher(nil), launchers...), DefaultLaunchers...)
	l, ok := MatchLauncher(filepath.Base(abs), table)
	if !ok {
		return "", nil, ghosterr.Newf(ghosterr.ProcessNotStarted, op, "no launcher for %s", filepath.Base(abs))
	}
	argv, err := l.Expand(abs, dir)
	if err != nil {
		return "", nil, ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}

	if argv[0] == abs {
		if info.Mode()&0o111 == 0 {
			return "", nil, ghosterr.Newf(ghosterr.ProcessNotStarted, op, "personality %s is not executable", abs)
		}
		return abs, argv[1:], nil
	}
	name, err := exec.LookPath(argv[0])
	if err != nil {
		return "", nil, ghosterr.Wrap(ghosterr.ProcessNotStarted, op, err)
	}
	return name, argv[1:], nil
}
