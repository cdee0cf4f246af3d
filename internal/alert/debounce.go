// Package alert decides when detections are announced and speaks them.
package alert

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// DefaultWindow is how long an unchanged label set stays silent after being spoken
const DefaultWindow = 5 * time.Second

// NoDetectionPhrase is spoken for a still image with nothing to report
const NoDetectionPhrase = "No detection"

// State is the memory of the last spoken announcement.
// The zero value is the empty state of a fresh session.
type State struct {
	Labels []string  // Last spoken label set
	At     time.Time // When it was spoken
}

// Empty reports whether nothing has been spoken yet
func (s State) Empty() bool {
	return len(s.Labels) == 0 && s.At.IsZero()
}

// Decision is the outcome of one debounce step
type Decision struct {
	Speak bool
	Text  string
	State State
}

// Debouncer suppresses repeated announcements of the same label set
type Debouncer struct {
	Window time.Duration
}

// NewDebouncer returns a debouncer, falling back to DefaultWindow for non-positive windows
func NewDebouncer(window time.Duration) Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return Debouncer{Window: window}
}

// Decide is Debouncer.Decide with the default window
func Decide(state State, labels []string, stillImage bool, now time.Time) Decision {
	return NewDebouncer(DefaultWindow).Decide(state, labels, stillImage, now)
}

// Decide applies the announcement rules to the labels of one frame:
//
//	labels present, changed or window elapsed -> speak, remember {labels, now}
//	labels present, same set within window    -> silent
//	no labels, still image                    -> speak NoDetectionPhrase, state kept
//	no labels, stream                         -> silent
//
// The window comparison is strict: exactly Window after the last announcement is still silent.
func (d Debouncer) Decide(state State, labels []string, stillImage bool, now time.Time) Decision {
	set := lo.Uniq(labels)

	if len(set) == 0 {
		if stillImage {
			return Decision{Speak: true, Text: NoDetectionPhrase, State: state}
		}
		return Decision{State: state}
	}

	if sameSet(set, state.Labels) && now.Sub(state.At) <= d.Window {
		return Decision{State: state}
	}

	return Decision{
		Speak: true,
		Text:  strings.Join(set, " and "),
		State: State{Labels: set, At: now},
	}
}

func sameSet(a, b []string) bool {
	if len(b) == 0 {
		return false
	}
	left, right := lo.Difference(a, lo.Uniq(b))
	return len(left) == 0 && len(right) == 0
}
