package pipeline

import (
	"time"

	"github.com/dj-oyu/traffic-sign-alert/internal/filter"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// Update is what the presentation layer receives once per processed frame
type Update struct {
	Frame      types.Frame         // Annotated, display-sized RGB frame
	Text       string              // Label summary
	Detections []filter.Reportable // Reportable detections drawn on Frame
	Kind       types.SourceKind
	Index      uint64
	At         time.Time
	Spoken     string // Announcement made for this frame, if any
}

// Presenter displays pipeline output.
// Publish is called from the session goroutine and must not block for long.
type Presenter interface {
	Publish(u Update)
	// Idle clears the display when no session is running
	Idle()
}

// PresenterFunc adapts a publish function; Idle is a no-op
type PresenterFunc func(u Update)

// Publish calls f
func (f PresenterFunc) Publish(u Update) { f(u) }

// Idle implements Presenter
func (f PresenterFunc) Idle() {}

// Presenters fans out to several presenters in order
type Presenters []Presenter

// Publish implements Presenter
func (ps Presenters) Publish(u Update) {
	for _, p := range ps {
		p.Publish(u)
	}
}

// Idle implements Presenter
func (ps Presenters) Idle() {
	for _, p := range ps {
		p.Idle()
	}
}
