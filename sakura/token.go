// Package sakura tokenizes SakuraScript and turns it into an ordered list of
// presentation actions.
//
// A script is literal text mixed with backslash directives, for example
// `\h\s[5]Hello.\w9\u\s[10]Hi.\e`.
package sakura

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// TokenKind identifies a lexical element of a script.
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenScopeSwitch
	TokenSurfaceChange
	TokenLineBreak
	TokenWait
	TokenChoice
	TokenAnchor
	TokenScriptEnd
)

var tokenNames = [...]string{"Text", "ScopeSwitch", "SurfaceChange", "LineBreak", "Wait", "Choice", "Anchor", "ScriptEnd"}

func (k TokenKind) String() string {
	if int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return "TokenKind(" + strconv.Itoa(int(k)) + ")"
}

// Token is one lexical element. Which fields are set depends on Kind:
// Text for TokenText, N for scope/surface/wait (milliseconds), Label and ID for
// TokenChoice, ID for TokenAnchor.
type Token struct {
	Kind  TokenKind
	Text  string
	N     int
	Label string
	ID    string
}

// Tokenize splits script into tokens. Adjacent literal text is merged into one
// token. Unknown directives are dropped together with a bracket parameter that
// directly follows them. Tokenizing stops at the first \e.
func Tokenize(script string) []Token {
	var (
		tokens []Token
		text   strings.Builder
	)
	flushText := func() {
		if text.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenText, Text: text.String()})
			text.Reset()
		}
	}
	emit := func(t Token) {
		flushText()
		tokens = append(tokens, t)
	}

	i := 0
	for i < len(script) {
		j := strings.IndexByte(script[i:], '\\')
		if j < 0 {
			text.WriteString(script[i:])
			break
		}
		text.WriteString(script[i : i+j])
		i += j + 1
		if i >= len(script) {
			break
		}

		c, size := utf8.DecodeRuneInString(script[i:])
		i += size
		switch c {
		case '\\':
			text.WriteByte('\\')
		case 'h', '0':
			emit(Token{Kind: TokenScopeSwitch, N: 0})
		case 'u', '1':
			emit(Token{Kind: TokenScopeSwitch, N: 1})
		case 'p':
			var p string
			p, i = bracket(script, i)
			emit(Token{Kind: TokenScopeSwitch, N: atoi(p)})
		case 's':
			var p string
			if i < len(script) && isDigit(script[i]) {
				p = script[i : i+1]
				i++
			} else {
				p, i = bracket(script, i)
			}
			emit(Token{Kind: TokenSurfaceChange, N: atoi(p)})
		case 'n':
			// \n[half] and friends still mean a line break.
			_, i = bracket(script, i)
			emit(Token{Kind: TokenLineBreak})
		case 'w':
			if i < len(script) && script[i] >= '1' && script[i] <= '9' {
				emit(Token{Kind: TokenWait, N: int(script[i]-'0') * 50})
				i++
			}
		case '_':
			if i >= len(script) {
				break
			}
			sub, size := utf8.DecodeRuneInString(script[i:])
			i += size
			var p string
			p, i = bracket(script, i)
			if sub == 'w' {
				emit(Token{Kind: TokenWait, N: atoi(p)})
			}
		case 'q':
			var p string
			p, i = bracket(script, i)
			label, id := splitChoice(p)
			emit(Token{Kind: TokenChoice, Label: label, ID: id})
		case 'i':
			var p string
			p, i = bracket(script, i)
			emit(Token{Kind: TokenAnchor, ID: p})
		case 'e':
			emit(Token{Kind: TokenScriptEnd})
			return tokens
		default:
			_, i = bracket(script, i)
		}
	}
	flushText()
	return tokens
}

// bracket reads a "[...]" parameter starting at i. Without one it returns ""
// and i unchanged.
func bracket(s string, i int) (string, int) {
	if i >= len(s) || s[i] != '[' {
		return "", i
	}
	end := strings.IndexByte(s[i+1:], ']')
	if end < 0 {
		return "", i
	}
	return s[i+1 : i+1+end], i + end + 2
}

func splitChoice(p string) (label, id string) {
	parts := strings.Split(p, ",")
	label = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	return label, id
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
