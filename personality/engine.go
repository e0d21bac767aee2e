// Package personality is the built-in SHIORI: a small character that greets,
// reacts to clicks according to its mood, and talks through an optional AI
// generator. It runs in process (Local) or over stdio (Engine.Serve).
package personality

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/furin-lab/nanika/ai"
	defaults "github.com/furin-lab/nanika/default"
	"github.com/furin-lab/nanika/ghost"
	"github.com/furin-lab/nanika/protocol"
	"github.com/furin-lab/nanika/sakura"
	"github.com/furin-lab/nanika/state"
)

// Version is the SHIORI protocol version of responses.
const Version = "SHIORI/3.0"

// Choice ids offered by the talk menu.
const (
	ChoiceChat   = "talk.chat"
	ChoiceTime   = "talk.time"
	ChoiceCancel = "talk.cancel"
)

// Options configures an Engine.
type Options struct {
	// Name and Version answer the Version request and fill the prompt.
	Name    string
	Version string
	Store   state.Store
	// Generator is optional; without it talk uses canned lines.
	Generator ai.Generator
	// Regions classifies clicks that arrive without a region reference.
	Regions *ghost.RegionTable
	// Prompt is a text/template for talk prompts; empty uses the default.
	Prompt string
	Logger *zap.Logger
}

// Engine handles SHIORI requests. Handle calls are serialized.
type Engine struct {
	opts   Options
	log    *zap.Logger
	prompt *template.Template

	mu   sync.Mutex
	now  func() time.Time
	rand *rand.Rand
}

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	Name      string
	Prompt    string
	Mood      string
	Affection float64
	TimeOfDay TimeOfDay
}

// New creates an engine. A nil Store keeps state in memory.
func New(opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = "nanika"
	}
	if opts.Store == nil {
		opts.Store = state.NewMemoryStore()
	}
	if opts.Regions == nil {
		opts.Regions = ghost.DefaultRegions()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		opts: opts,
		log:  log.Named("personality"),
		now:  time.Now,
		rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	e.prompt = e.parsePrompt(opts.Prompt)
	return e
}

func (e *Engine) parsePrompt(src string) *template.Template {
	if src != "" {
		t, err := template.New("prompt").Parse(src)
		if err == nil {
			return t
		}
		e.log.Warn("failed to parse prompt template, falling back to default", zap.Error(err))
	}
	return template.Must(template.New("prompt").Parse(defaults.DefaultPrompt))
}

// Handle answers one request. Unknown events get 204 with an empty value.
func (e *Engine) Handle(ctx context.Context, req *protocol.Request) protocol.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req == nil || req.ID == "" {
		return e.respond(protocol.StatusBadRequest, "")
	}

	var value string
	switch req.ID {
	case "Version":
		value = strings.TrimSpace(e.opts.Name + " " + e.opts.Version)
	case ghost.EventBoot:
		value = e.onBoot(ctx)
	case ghost.EventClose:
		value = sakura.Simple(pick(e.rand, closeLines))
	case ghost.EventMouseClick:
		value = e.onClick(ctx, req)
	case ghost.EventTalk:
		value = e.onTalk(ctx, req.Reference(0))
	case ghost.EventChoiceSelect:
		value = e.onChoice(ctx, req.Reference(0))
	}
	if value == "" {
		return e.respond(protocol.StatusNoContent, "")
	}
	return e.respond(protocol.StatusOK, value)
}

func (e *Engine) respond(code int, value string) protocol.Response {
	resp := protocol.NewResponse(code, value)
	resp.Version = Version
	resp.Headers.Set(protocol.HeaderCharset, "UTF-8")
	resp.Headers.Set(protocol.HeaderSender, e.opts.Name)
	return resp
}

func (e *Engine) onBoot(ctx context.Context) string {
	now := e.now()
	s := e.load(ctx)
	s.RecordBoot(now)
	e.save(ctx, s)

	var text string
	if season := SeasonAt(now); season != Ordinary {
		text = seasonBootLines[season]
	} else if s.BootCount == 1 {
		text = firstBootLine
	} else {
		text = bootLines[TimeOfDayAt(now)]
	}
	return `\h\s[0]` + text + `\e`
}

func (e *Engine) onClick(ctx context.Context, req *protocol.Request) string {
	now := e.now()
	s := e.load(ctx)
	defer e.save(ctx, s)

	s.RecordClick(now)
	region := req.Reference(4)
	if region == "" {
		surface, _ := strconv.Atoi(req.Reference(0))
		x, _ := strconv.Atoi(req.Reference(1))
		y, _ := strconv.Atoi(req.Reference(2))
		region = e.opts.Regions.Classify(surface, x, y)
	}
	switch region {
	case ghost.RegionHead:
		s.Emotion.Adjust(0.1, 0.05)
	case ghost.RegionBody:
		s.Emotion.Adjust(-0.02, 0)
	}

	if s.CelebrateMilestone() {
		return fmt.Sprintf(milestoneScript, s.ClickCount)
	}
	if season := SeasonAt(now); season != Ordinary {
		return seasonClickScripts[season]
	}
	if s.ConsecutiveClicks >= 5 {
		s.ConsecutiveClicks = 0
		return e.rapidClick(ctx)
	}
	return e.clickLine(region, s.Emotion, TimeOfDayAt(now))
}

func (e *Engine) rapidClick(ctx context.Context) string {
	if e.opts.Generator == nil {
		return rapidScript
	}
	text, err := e.opts.Generator.GenerateResponse(ctx, e.renderPrompt(rapidPrompt, nil))
	if err != nil {
		e.log.Warn("generation error", zap.Error(err))
		return rapidScript
	}
	return sakura.WithSurface(text, rapidSurface)
}

func (e *Engine) clickLine(region string, emo state.Emotion, tod TimeOfDay) string {
	var table map[string][]line
	switch {
	case emo.Mood < -0.5:
		table = grumpyLines
	case emo.Mood > 0.5:
		table = happyLines
	default:
		table = neutralLines
	}
	if lines, ok := table[region]; ok {
		return script(pick(e.rand, lines))
	}
	if emo.Mood > 0.5 {
		return sakura.Simple("Such nice weather today! " + timeLines[tod])
	}
	return sakura.Simple(timeLines[tod])
}

// script renders a line in the main scope, switching surface after the text.
func script(l line) string {
	s := `\h` + sakura.Escape(l.text)
	if l.surface >= 0 {
		s += `\s[` + strconv.Itoa(l.surface) + `]`
	}
	return s + `\e`
}

func (e *Engine) onTalk(ctx context.Context, prompt string) string {
	tod := TimeOfDayAt(e.now())
	if strings.TrimSpace(prompt) == "" {
		return sakura.Choices("What shall we do?",
			sakura.Choice{Label: "Let's chat", ID: ChoiceChat},
			sakura.Choice{Label: "What time is it?", ID: ChoiceTime},
			sakura.Choice{Label: "Never mind", ID: ChoiceCancel},
		)
	}
	if e.opts.Generator == nil {
		return sakura.Simple(pick(e.rand, talkLines(tod)))
	}
	s := e.load(ctx)
	text, err := e.opts.Generator.GenerateResponse(ctx, e.renderPrompt(prompt, s))
	if err != nil {
		e.log.Warn("generation error", zap.Error(err))
		return sakura.Simple(aiErrorLine)
	}
	return sakura.Simple(text)
}

func (e *Engine) onChoice(ctx context.Context, id string) string {
	now := e.now()
	switch id {
	case ChoiceChat:
		return sakura.Simple(pick(e.rand, talkLines(TimeOfDayAt(now))))
	case ChoiceTime:
		return sakura.Simple(fmt.Sprintf("It's %s. %s", now.Format("15:04"), timeLines[TimeOfDayAt(now)]))
	case ChoiceCancel:
		return sakura.Simple("Okay. Call me anytime.")
	}
	return ""
}

// renderPrompt fills the prompt template. s may be nil.
func (e *Engine) renderPrompt(prompt string, s *state.CharacterState) string {
	data := PromptData{
		Name:      e.opts.Name,
		Prompt:    prompt,
		TimeOfDay: TimeOfDayAt(e.now()),
	}
	if s != nil {
		data.Mood = moodWord(s.Emotion.Mood)
		data.Affection = s.Emotion.Affection
	}
	var buf strings.Builder
	if err := e.prompt.Execute(&buf, data); err != nil {
		e.log.Warn("failed to execute prompt template", zap.Error(err))
		return prompt
	}
	return strings.TrimRight(buf.String(), " \t\n")
}

func moodWord(mood float64) string {
	switch {
	case mood < -0.5:
		return "grumpy"
	case mood > 0.5:
		return "cheerful"
	}
	return "calm"
}

func (e *Engine) load(ctx context.Context) *state.CharacterState {
	s, err := e.opts.Store.Load(ctx)
	if err != nil {
		e.log.Warn("failed to load state, starting fresh", zap.Error(err))
		return state.New(e.now())
	}
	return s
}

func (e *Engine) save(ctx context.Context, s *state.CharacterState) {
	if err := e.opts.Store.Save(ctx, s); err != nil {
		e.log.Warn("failed to save state", zap.Error(err))
	}
}

// Close closes the state store.
func (e *Engine) Close() error {
	return e.opts.Store.Close()
}
