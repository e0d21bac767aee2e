package sakura

import (
	"strings"
	"time"
)

// ActionKind identifies a presentation action.
type ActionKind string

const (
	ActionDisplayText   ActionKind = "display_text"
	ActionChangeSurface ActionKind = "change_surface"
	ActionWait          ActionKind = "wait"
	ActionShowChoices   ActionKind = "show_choices"
	ActionEnd           ActionKind = "end"
)

// Choice is a selectable option offered to the user.
type Choice struct {
	Label string `json:"label" toml:"label"`
	ID    string `json:"id" toml:"id"`
}

// Action is one step for the presentation layer. Actions are executed in order,
// one at a time.
type Action struct {
	Kind     ActionKind    `json:"kind" toml:"kind"`
	Text     string        `json:"text,omitempty" toml:"text,omitempty"`
	Scope    int           `json:"scope" toml:"scope"`
	Surface  int           `json:"surface,omitempty" toml:"surface,omitempty"`
	Duration time.Duration `json:"duration,omitempty" toml:"duration,omitempty"`
	Choices  []Choice      `json:"choices,omitempty" toml:"choices,omitempty"`
}

func DisplayText(text string, scope int) Action {
	return Action{Kind: ActionDisplayText, Text: text, Scope: scope}
}

func ChangeSurface(surface, scope int) Action {
	return Action{Kind: ActionChangeSurface, Surface: surface, Scope: scope}
}

func Wait(d time.Duration) Action {
	return Action{Kind: ActionWait, Duration: d}
}

func ShowChoices(choices []Choice) Action {
	return Action{Kind: ActionShowChoices, Choices: choices}
}

func End() Action {
	return Action{Kind: ActionEnd}
}

// Surfaces shown before a script changes them.
const (
	DefaultSakuraSurface = 0
	DefaultKeroSurface   = 10
)

func defaultSurface(scope int) int {
	if scope == 1 {
		return DefaultKeroSurface
	}
	return DefaultSakuraSurface
}

// Parse tokenizes script and generates its actions.
func Parse(script string) []Action {
	return Generate(Tokenize(script))
}

// ParseFrom is Parse for a script shown while surfaces are already on screen.
func ParseFrom(script string, surfaces map[int]int) []Action {
	return GenerateFrom(Tokenize(script), surfaces)
}

// Generate converts tokens into actions.
//
// Literal text accumulates per scope and is flushed as one DisplayText before any
// other directive produces its action. A surface change is emitted only when it
// differs from the scope's current surface. Choices are collected and emitted as
// one ShowChoices at the script end (or end of input). ScriptEnd appends End.
func Generate(tokens []Token) []Action {
	return GenerateFrom(tokens, nil)
}

// GenerateFrom is Generate starting from the surfaces currently shown per scope.
// Scopes missing from surfaces start at their default surface. surfaces is not
// modified.
func GenerateFrom(tokens []Token, surfaces map[int]int) []Action {
	g := generator{surfaces: make(map[int]int, len(surfaces))}
	for scope, n := range surfaces {
		g.surfaces[scope] = n
	}
	for _, t := range tokens {
		switch t.Kind {
		case TokenText:
			g.text.WriteString(t.Text)
		case TokenLineBreak:
			g.text.WriteByte('\n')
		case TokenScopeSwitch:
			g.flush()
			g.scope = t.N
		case TokenSurfaceChange:
			g.flush()
			if g.surface(g.scope) != t.N {
				g.surfaces[g.scope] = t.N
				g.actions = append(g.actions, ChangeSurface(t.N, g.scope))
			}
		case TokenWait:
			g.flush()
			g.actions = append(g.actions, Wait(time.Duration(t.N)*time.Millisecond))
		case TokenChoice:
			g.choices = append(g.choices, Choice{Label: t.Label, ID: t.ID})
		case TokenAnchor:
		case TokenScriptEnd:
			g.finish()
			g.actions = append(g.actions, End())
			return g.actions
		}
	}
	g.finish()
	return g.actions
}

type generator struct {
	actions  []Action
	text     strings.Builder
	scope    int
	surfaces map[int]int
	choices  []Choice
}

func (g *generator) surface(scope int) int {
	if s, ok := g.surfaces[scope]; ok {
		return s
	}
	return defaultSurface(scope)
}

func (g *generator) flush() {
	if g.text.Len() == 0 {
		return
	}
	g.actions = append(g.actions, DisplayText(g.text.String(), g.scope))
	g.text.Reset()
}

func (g *generator) finish() {
	g.flush()
	if len(g.choices) > 0 {
		g.actions = append(g.actions, ShowChoices(g.choices))
		g.choices = nil
	}
}
