package integrity

// EventKind names an environment event the monitor can listen to.
type EventKind string

const (
	EventVisibilityChange EventKind = "visibilitychange"
	EventFocus            EventKind = "focus"
	EventBlur             EventKind = "blur"
	EventFullscreenChange EventKind = "fullscreenchange"
	EventResize           EventKind = "resize"
	EventCopy             EventKind = "copy"
	EventCut              EventKind = "cut"
	EventPaste            EventKind = "paste"
	EventKeyDown          EventKind = "keydown"
	EventContextMenu      EventKind = "contextmenu"
)

// Event is one environment event. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind" validate:"required"`

	Hidden     bool `json:"hidden,omitempty"`
	Fullscreen bool `json:"fullscreen,omitempty"`

	Key   string `json:"key,omitempty"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`

	Width  int `json:"width,omitempty" validate:"gte=0"`
	Height int `json:"height,omitempty" validate:"gte=0"`

	prevented bool
}

// PreventDefault asks the surface to suppress the event's default action.
func (e *Event) PreventDefault() { e.prevented = true }

// Prevented reports whether a listener called PreventDefault.
func (e *Event) Prevented() bool { return e.prevented }

// WindowMetrics is a snapshot of window geometry. ExtendedScreen is nil when the
// environment cannot tell.
type WindowMetrics struct {
	OuterWidth     int   `json:"outer_width"`
	OuterHeight    int   `json:"outer_height"`
	InnerWidth     int   `json:"inner_width"`
	InnerHeight    int   `json:"inner_height"`
	ExtendedScreen *bool `json:"extended_screen,omitempty"`
}

// EventSurface is the browser/environment the monitor observes.
type EventSurface interface {
	// Subscribe registers fn for kind. The returned func unsubscribes and is idempotent.
	Subscribe(kind EventKind, fn func(*Event)) (unsubscribe func())
	Metrics() WindowMetrics
	SetSelectionEnabled(enabled bool)
}
