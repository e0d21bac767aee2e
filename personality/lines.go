package personality

import (
	"math/rand/v2"
	"time"
)

// TimeOfDay buckets the local hour.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
	LateNight TimeOfDay = "late night"
)

// TimeOfDayAt returns the bucket for t: morning 5-10, afternoon 10-17,
// evening 17-20, night 20-24, late night otherwise.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 10:
		return Morning
	case h >= 10 && h < 17:
		return Afternoon
	case h >= 17 && h < 20:
		return Evening
	case h >= 20:
		return Night
	}
	return LateNight
}

// Season is a holiday period that overrides the usual lines.
type Season int

const (
	Ordinary Season = iota
	Christmas
	NewYear
)

// SeasonAt reports Christmas for December 20-25 and New Year for January 1-7.
func SeasonAt(t time.Time) Season {
	switch d := t.Day(); t.Month() {
	case time.December:
		if d >= 20 && d <= 25 {
			return Christmas
		}
	case time.January:
		if d <= 7 {
			return NewYear
		}
	}
	return Ordinary
}

// line is text with the surface to switch to after it, or -1 for none.
type line struct {
	text    string
	surface int
}

var bootLines = map[TimeOfDay]string{
	Morning:   `Good morning!\nLovely morning, let's do our best today.`,
	Afternoon: `Hello!\nLet's make it a good afternoon.`,
	Evening:   `Good evening!\nThanks for your hard work today.`,
	Night:     `Good evening!\nLet's spend the night together.`,
	LateNight: `Up late, huh?\nDon't push yourself too hard.`,
}

var seasonBootLines = map[Season]string{
	Christmas: `Merry Christmas!\nLet's have a wonderful time.`,
	NewYear:   `Happy New Year!\nI'm counting on you this year too.`,
}

var seasonClickScripts = map[Season]string{
	Christmas: `\s[0]Merry Christmas!\nDid you bring me a present?\e`,
	NewYear:   `\s[0]Happy New Year!\nLet's have a great one!\e`,
}

const firstBootLine = `Nice to meet you!\nI'll be keeping you company from now on.`

var closeLines = []string{
	"See you again! Bye!",
	"Good work today! Until next time!",
	"Bye bye! Come play again soon.",
}

var timeLines = map[TimeOfDay]string{
	Morning:   "It's morning. Let's do our best today.",
	Afternoon: "It's the afternoon. Hope it's going well.",
	Evening:   "It's evening already. Good work today.",
	Night:     "It's night time. Let's take it easy.",
	LateNight: "It's really late. You should get some sleep soon.",
}

// Click lines by mood and region.
var (
	happyLines = map[string][]line{
		"head": {
			{"Ehehe~ thanks for the head pats!", 10},
			{"That feels so nice~", 11},
			{"More, more~!", 10},
		},
		"body": {
			{"Kyaa! That tickles!", 12},
			{"Hey, no touching there~!", 13},
		},
	}
	neutralLines = map[string][]line{
		"head": {
			{"Pat pat, thank you.", 0},
			{"I like it when you pat me there.", 1},
			{"I'd like a few more pats.", 2},
		},
		"body": {
			{"Need something?", -1},
			{"That tickles a little.", 5},
		},
	}
	grumpyLines = map[string][]line{
		"head": {
			{"Hmm, I'm not really in the mood right now...", 6},
			{"I'm feeling a bit suspicious.", 7},
		},
		"body": {
			{"Stop it, please don't touch me right now.", 8},
		},
		"other": {
			{"Hmph, I don't feel like talking right now.", 9},
		},
	}
)

const (
	milestoneScript = `\_w[500]\h\s[10]Yay!\nThat's click number %d, thank you!\e`
	rapidScript     = `\s[12]Whoa! You startled me!\e`
	rapidPrompt     = "The user keeps clicking on you rapidly. React briefly and playfully."
	rapidSurface    = 12
	aiErrorLine     = "Sorry, something went wrong with my thinking just now."
)

func talkLines(tod TimeOfDay) []string {
	return []string{
		greetings[tod] + "! How was your day?",
		"Shall we talk about something?",
		"How have you been lately? Anything fun happen?",
		timeLines[tod],
	}
}

var greetings = map[TimeOfDay]string{
	Morning:   "Good morning",
	Afternoon: "Hello",
	Evening:   "Good evening",
	Night:     "Good work today",
	LateNight: "Up late, huh",
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}
