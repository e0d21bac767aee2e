// Command nanika-repl talks to the built-in personality from a terminal.
// Each line is sent as an event and the parsed reply is written to stdout as
// TOML.
//
// Usage:
//
//	./nanika-repl             # interactive, TOML on screen
//	./nanika-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/ai"
	"github.com/furin-lab/nanika/ghost"
	"github.com/furin-lab/nanika/personality"
	"github.com/furin-lab/nanika/sakura"
	"github.com/furin-lab/nanika/state"
)

const prompt = "> "

var (
	configPath string
	persist    bool
)

var rootCmd = &cobra.Command{
	Use:          "nanika-repl",
	Short:        "Talk to the built-in personality",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", nanika.ConfigPath(), "Config file")
	rootCmd.Flags().BoolVar(&persist, "persist", false, "Use the configured state store instead of a scratch one")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := nanika.LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	if !persist {
		cfg.State.Backend = "memory"
	}

	store, err := state.Open(state.Options{
		Backend:  cfg.State.Backend,
		Path:     nanika.ResolveStatePath(cfg),
		RedisURL: nanika.ResolveRedisURL(cfg),
		Key:      cfg.State.Key,
	})
	if err != nil {
		return err
	}
	gen, err := ai.New(ctx, ai.Config{
		Backend:     cfg.AI.Backend,
		BaseURL:     nanika.ResolveAIBaseURL(cfg),
		APIKey:      nanika.ResolveAIAPIKey(cfg),
		APIType:     cfg.AI.APIType,
		Model:       nanika.ResolveAIModel(cfg),
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout.Duration,
	})
	if err != nil {
		store.Close()
		return err
	}
	engine := personality.New(personality.Options{
		Name:      cfg.Ghost.Name,
		Version:   nanika.Version,
		Store:     store,
		Generator: gen,
		Logger:    zap.NewNop(),
	})
	defer engine.Close()
	local := personality.NewLocal(engine, cfg.Shiori.Protocol)
	if err := local.Start(ctx); err != nil {
		return err
	}
	defer local.Stop()

	editor, err := NewEditor()
	if err != nil {
		return err
	}
	defer editor.Close()
	tty := editor.Tty()

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "nanika repl: %s\r\n", cfg.Ghost.Name)
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  <text>                  talk\r\n")
	fmt.Fprintf(tty, "  :boot | :close          lifecycle events\r\n")
	fmt.Fprintf(tty, "  :click <x> <y> [surf]   click the character\r\n")
	fmt.Fprintf(tty, "  :choice <id>            pick a menu option\r\n")
	fmt.Fprintf(tty, "  :event <name> [refs..]  send any event\r\n")
	fmt.Fprintf(tty, "  :quit                   exit\r\n\r\n")

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)
	regions := ghost.DefaultRegions()

	for {
		text, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if text == ":quit" || text == ":q" {
			return nil
		}

		event, refs, err := parseLine(text, regions, cfg)
		if err != nil {
			fmt.Fprintf(tty, "error: %v\r\n\r\n", err)
			continue
		}

		value, err := local.Request(ctx, event, refs...)
		entry := &Entry{Event: event, References: refs, Value: value, Err: err}
		if err == nil {
			entry.Actions = sakura.Parse(value)
		}
		showEntry(tty, entry)
		if err := writeEntry(out, entry); err != nil {
			fmt.Fprintf(tty, "write error: %v\r\n", err)
		}
	}
}

// parseLine turns an input line into an event and its references.
func parseLine(text string, regions *ghost.RegionTable, cfg *nanika.Config) (string, []string, error) {
	if !strings.HasPrefix(text, ":") {
		return ghost.EventTalk, []string{text}, nil
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case ":boot":
		return ghost.EventBoot, []string{nanika.Name, nanika.Version, nanika.ResolvePlatform(cfg)}, nil
	case ":close":
		return ghost.EventClose, nil, nil
	case ":choice":
		if len(fields) != 2 {
			return "", nil, fmt.Errorf("usage: :choice <id>")
		}
		return ghost.EventChoiceSelect, fields[1:], nil
	case ":event":
		if len(fields) < 2 {
			return "", nil, fmt.Errorf("usage: :event <name> [refs...]")
		}
		return fields[1], fields[2:], nil
	case ":click":
		if len(fields) < 3 || len(fields) > 4 {
			return "", nil, fmt.Errorf("usage: :click <x> <y> [surface]")
		}
		nums := make([]int, 3)
		for i, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				return "", nil, fmt.Errorf("not a number: %s", f)
			}
			nums[i] = n
		}
		x, y, surface := nums[0], nums[1], nums[2]
		region := regions.Classify(surface, x, y)
		return ghost.EventMouseClick, []string{
			strconv.Itoa(surface), strconv.Itoa(x), strconv.Itoa(y), "0", region,
		}, nil
	}
	return "", nil, fmt.Errorf("unknown command %s", fields[0])
}

// showEntry prints what the ghost said on the terminal.
func showEntry(tty io.Writer, e *Entry) {
	if e.Err != nil {
		fmt.Fprintf(tty, "error: %v\r\n\r\n", e.Err)
		return
	}
	if len(e.Actions) == 0 {
		fmt.Fprintf(tty, "(no reply)\r\n\r\n")
		return
	}
	for _, a := range e.Actions {
		switch a.Kind {
		case sakura.ActionDisplayText:
			fmt.Fprintf(tty, "  [%d] %s\r\n", a.Scope, strings.ReplaceAll(a.Text, "\n", "\r\n      "))
		case sakura.ActionChangeSurface:
			fmt.Fprintf(tty, "  [%d] (surface %d)\r\n", a.Scope, a.Surface)
		case sakura.ActionShowChoices:
			for _, c := range a.Choices {
				fmt.Fprintf(tty, "      - %s (:choice %s)\r\n", c.Label, c.ID)
			}
		}
	}
	fmt.Fprintf(tty, "\r\n")
}
