package sakura

import (
	"strconv"
	"strings"
)

var escaper = strings.NewReplacer(`\`, `\\`, "\r\n", `\n`, "\n", `\n`)

// Escape makes text safe to embed in a script as literal text.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Simple is a script that shows text in the main scope.
func Simple(text string) string {
	return `\h` + Escape(text) + `\e`
}

// WithSurface is a script that switches the main scope to surface and shows text.
func WithSurface(text string, surface int) string {
	return `\h\s[` + strconv.Itoa(surface) + `]` + Escape(text) + `\e`
}

// Choices is a script that shows text followed by a batch of choices.
// Labels and ids must not contain ',' or ']'.
func Choices(text string, options ...Choice) string {
	var b strings.Builder
	b.WriteString(`\h`)
	b.WriteString(Escape(text))
	for _, o := range options {
		b.WriteString(`\q[`)
		b.WriteString(o.Label)
		b.WriteByte(',')
		b.WriteString(o.ID)
		b.WriteByte(']')
	}
	b.WriteString(`\e`)
	return b.String()
}
