// Package state persists the character's emotional and click state across
// sessions.
package state

import (
	"encoding/json"
	"time"
)

const (
	// MaxClickHistory bounds the remembered click times.
	MaxClickHistory = 100
	// ConsecutiveWindow is the longest gap between clicks of one burst.
	ConsecutiveWindow = 2 * time.Second
	// MilestoneInterval is the click count between celebrations.
	MilestoneInterval = 50

	historyRetention = 30 * 24 * time.Hour
	moodDecay        = 0.99
)

// Emotion is the character's feeling towards the user. Mood ranges over
// [-1, 1] and Affection over [0, 1].
type Emotion struct {
	Mood      float64 `json:"mood"`
	Affection float64 `json:"affection"`
}

// Adjust adds the deltas and clamps both values to their ranges.
func (e *Emotion) Adjust(mood, affection float64) {
	e.Mood = clamp(e.Mood+mood, -1, 1)
	e.Affection = clamp(e.Affection+affection, 0, 1)
}

// Decay moves mood a step back towards neutral.
func (e *Emotion) Decay() {
	e.Mood *= moodDecay
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// CharacterState is everything the built-in personality remembers.
type CharacterState struct {
	ClickCount          int         `json:"click_count"`
	LastClickTime       time.Time   `json:"last_click_time,omitzero"`
	ConsecutiveClicks   int         `json:"consecutive_clicks"`
	Emotion             Emotion     `json:"emotion"`
	ClickHistory        []time.Time `json:"click_history,omitempty"`
	LastCelebratedClick int         `json:"last_celebrated_click"`
	LastBootTime        time.Time   `json:"last_boot_time,omitzero"`
	BootCount           int         `json:"boot_count"`
	FirstLaunch         time.Time   `json:"first_launch,omitzero"`
}

// New returns the state of a character that has never run.
func New(now time.Time) *CharacterState {
	return &CharacterState{FirstLaunch: now}
}

// RecordBoot counts a boot, lets the mood settle and forgets clicks older
// than thirty days.
func (s *CharacterState) RecordBoot(now time.Time) {
	if s.FirstLaunch.IsZero() {
		s.FirstLaunch = now
	}
	s.LastBootTime = now
	s.BootCount++
	s.Emotion.Decay()

	cutoff := now.Add(-historyRetention)
	kept := s.ClickHistory[:0]
	for _, t := range s.ClickHistory {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.ClickHistory = kept
}

// RecordClick counts a click. Clicks less than ConsecutiveWindow apart extend
// the current burst.
func (s *CharacterState) RecordClick(now time.Time) {
	s.ClickCount++
	if !s.LastClickTime.IsZero() && now.Sub(s.LastClickTime) < ConsecutiveWindow {
		s.ConsecutiveClicks++
	} else {
		s.ConsecutiveClicks = 1
	}
	s.LastClickTime = now
	s.ClickHistory = append(s.ClickHistory, now)
	if n := len(s.ClickHistory); n > MaxClickHistory {
		s.ClickHistory = append(s.ClickHistory[:0], s.ClickHistory[n-MaxClickHistory:]...)
	}
}

// CelebrateMilestone reports whether the click count just reached an
// uncelebrated multiple of MilestoneInterval, and marks it celebrated.
func (s *CharacterState) CelebrateMilestone() bool {
	if s.ClickCount == 0 || s.ClickCount%MilestoneInterval != 0 || s.ClickCount <= s.LastCelebratedClick {
		return false
	}
	s.LastCelebratedClick = s.ClickCount
	return true
}

// IsUsualTime reports whether at least 30% of the remembered clicks fell
// within an hour of now's hour. It needs ten clicks of history.
func (s *CharacterState) IsUsualTime(now time.Time) bool {
	if len(s.ClickHistory) < 10 {
		return false
	}
	hour := now.Hour()
	same := 0
	for _, t := range s.ClickHistory {
		d := t.In(now.Location()).Hour() - hour
		if d >= -1 && d <= 1 {
			same++
		}
	}
	return float64(same)/float64(len(s.ClickHistory)) >= 0.3
}

// Clone returns a deep copy.
func (s *CharacterState) Clone() *CharacterState {
	c := *s
	c.ClickHistory = append([]time.Time(nil), s.ClickHistory...)
	return &c
}

func encode(s *CharacterState) ([]byte, error) {
	return json.Marshal(s)
}

// decode returns a fresh state when data is empty or undecodable.
func decode(data []byte) *CharacterState {
	var s CharacterState
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return New(time.Now())
	}
	return &s
}
