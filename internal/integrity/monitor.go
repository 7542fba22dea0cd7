// Package integrity detects environment conditions correlated with cheating and reports
// them as violations. It never touches exam data; the owner decides what a violation
// count means.
package integrity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

const (
	// devtoolsGap is the outer/inner size delta above which a docked devtools panel is assumed.
	devtoolsGap = 160
	// shrinkRatio flags a resize below 70% of the starting size in either dimension.
	shrinkRatio = 0.7
)

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving the periodic detectors.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log.With().Str("component", "integrity").Logger() }
}

// OnViolation sets the callback invoked with each violation and the running count.
func OnViolation(fn func(v model.Violation, count int)) Option {
	return func(m *Monitor) { m.onViolation = fn }
}

// OnLockdownChange sets the callback invoked when fullscreen lockdown starts or ends.
func OnLockdownChange(fn func(locked bool)) Option {
	return func(m *Monitor) { m.onLockdown = fn }
}

// Monitor is constructed per session and discarded after Destroy.
type Monitor struct {
	surface     EventSurface
	cfg         Config
	clock       clockwork.Clock
	log         zerolog.Logger
	onViolation func(model.Violation, int)
	onLockdown  func(bool)

	mu           sync.Mutex
	violations   []model.Violation
	locked       bool
	announced    bool
	devtoolsOpen bool
	shrunk       bool
	extended     bool
	baseWidth    int
	baseHeight   int
	started      bool
	destroyed    bool
	unsubs       []func()

	stop        chan struct{}
	destroyOnce sync.Once
}

// NewMonitor validates cfg and builds a monitor over surface. Nothing is observed
// until Start.
func NewMonitor(surface EventSurface, cfg Config, opts ...Option) (*Monitor, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("integrity config: %w", err)
	}

	m := &Monitor{
		surface: surface,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		log:     zerolog.Nop(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Start registers the detectors for the configured level.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started || m.destroyed {
		m.mu.Unlock()
		return
	}
	m.started = true
	metrics := m.surface.Metrics()
	m.baseWidth, m.baseHeight = metrics.InnerWidth, metrics.InnerHeight
	m.mu.Unlock()

	m.listen(EventCopy, m.clipboard(model.ViolationCopy))
	m.listen(EventCut, m.clipboard(model.ViolationCut))
	m.listen(EventPaste, m.clipboard(model.ViolationPaste))
	m.listen(EventVisibilityChange, m.handleVisibility)

	if m.cfg.Level.atLeast(LevelMedium) {
		m.listen(EventContextMenu, m.handleContextMenu)
		m.listen(EventKeyDown, m.handleKeyDown)
		m.surface.SetSelectionEnabled(false)
		go m.every(m.cfg.DevtoolsInterval, m.checkDevtools)
	}

	if m.cfg.Level.atLeast(LevelHigh) {
		m.listen(EventBlur, m.handleBlur)
		m.listen(EventFullscreenChange, m.handleFullscreen)
		m.listen(EventResize, m.handleResize)
		go m.every(m.cfg.ScreenCheckInterval, m.checkScreens)
	}

	m.log.Debug().Str("level", string(m.cfg.Level)).Int("max_warnings", m.cfg.MaxWarnings).Msg("Monitor started")
}

// ReportViolation appends to the log, increments the count and invokes the violation
// callback. It returns the new count. After Destroy it only returns the final count.
func (m *Monitor) ReportViolation(t model.ViolationType, detail string) int {
	m.mu.Lock()
	if m.destroyed {
		n := len(m.violations)
		m.mu.Unlock()
		return n
	}
	v := model.Violation{Type: t, Detail: detail, At: m.clock.Now()}
	m.violations = append(m.violations, v)
	count := len(m.violations)
	cb := m.onViolation
	m.mu.Unlock()

	m.log.Warn().Str("type", string(t)).Str("detail", detail).Int("count", count).Msg("Integrity violation")
	if cb != nil {
		cb(v, count)
	}
	return count
}

// Violations returns a copy of the violation log.
func (m *Monitor) Violations() []model.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Violation(nil), m.violations...)
}

// Count is the number of violations reported so far.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

// Locked reports whether fullscreen lockdown is active.
func (m *Monitor) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Destroy removes every listener and periodic check and lifts an announced lockdown.
// Safe to call repeatedly and from inside a callback.
func (m *Monitor) Destroy() {
	m.destroyOnce.Do(func() {
		m.mu.Lock()
		m.destroyed = true
		unsubs := m.unsubs
		m.unsubs = nil
		restoreSelection := m.started && m.cfg.Level.atLeast(LevelMedium)
		release := m.announced
		m.locked, m.announced = false, false
		cb := m.onLockdown
		m.mu.Unlock()

		close(m.stop)
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
		if restoreSelection {
			m.surface.SetSelectionEnabled(true)
		}
		if release && cb != nil {
			cb(false)
		}
		m.log.Debug().Msg("Monitor destroyed")
	})
}

func (m *Monitor) listen(kind EventKind, fn func(*Event)) {
	unsubscribe := m.surface.Subscribe(kind, fn)
	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubscribe)
	m.mu.Unlock()
}

func (m *Monitor) every(d time.Duration, check func()) {
	ticker := m.clock.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			check()
		}
	}
}

func (m *Monitor) clipboard(t model.ViolationType) func(*Event) {
	return func(e *Event) {
		e.PreventDefault()
		m.ReportViolation(t, string(e.Kind))
	}
}

func (m *Monitor) handleVisibility(e *Event) {
	if e.Hidden {
		m.ReportViolation(model.ViolationTabSwitch, "document hidden")
	}
}

func (m *Monitor) handleContextMenu(e *Event) {
	e.PreventDefault()
	m.ReportViolation(model.ViolationContextMenu, "context menu")
}

func (m *Monitor) handleKeyDown(e *Event) {
	combo, blocked := blockedShortcut(e)
	if !blocked {
		return
	}
	e.PreventDefault()
	m.ReportViolation(model.ViolationBlockedShortcut, combo)
}

func (m *Monitor) handleBlur(*Event) {
	m.ReportViolation(model.ViolationWindowBlur, "window lost focus")
}

func (m *Monitor) handleFullscreen(e *Event) {
	m.mu.Lock()
	switch {
	case !e.Fullscreen && !m.locked:
		m.locked = true
	case e.Fullscreen && m.locked:
		m.locked = false
	default:
		m.mu.Unlock()
		return
	}
	locked := m.locked
	m.mu.Unlock()

	if locked {
		m.ReportViolation(model.ViolationFullscreenExit, "left fullscreen")
	}

	// The report may have ended the session and destroyed the monitor.
	m.mu.Lock()
	if m.destroyed || m.announced == locked {
		m.mu.Unlock()
		return
	}
	m.announced = locked
	cb := m.onLockdown
	m.mu.Unlock()

	if cb != nil {
		cb(locked)
	}
}

func (m *Monitor) handleResize(e *Event) {
	m.mu.Lock()
	if m.baseWidth == 0 || m.baseHeight == 0 {
		m.baseWidth, m.baseHeight = e.Width, e.Height
		m.mu.Unlock()
		return
	}
	shrunk := float64(e.Width) < float64(m.baseWidth)*shrinkRatio ||
		float64(e.Height) < float64(m.baseHeight)*shrinkRatio
	fresh := shrunk && !m.shrunk
	m.shrunk = shrunk
	m.mu.Unlock()

	if fresh {
		m.ReportViolation(model.ViolationSplitScreen, fmt.Sprintf("window resized to %dx%d", e.Width, e.Height))
	}
}

func (m *Monitor) checkDevtools() {
	metrics := m.surface.Metrics()
	open := metrics.OuterWidth-metrics.InnerWidth > devtoolsGap ||
		metrics.OuterHeight-metrics.InnerHeight > devtoolsGap

	m.mu.Lock()
	fresh := open && !m.devtoolsOpen
	m.devtoolsOpen = open
	m.mu.Unlock()

	if fresh {
		m.ReportViolation(model.ViolationDevtoolsOpen, "window size delta suggests devtools")
	}
}

func (m *Monitor) checkScreens() {
	metrics := m.surface.Metrics()
	if metrics.ExtendedScreen == nil {
		return
	}
	extended := *metrics.ExtendedScreen

	m.mu.Lock()
	fresh := extended && !m.extended
	m.extended = extended
	m.mu.Unlock()

	if fresh {
		m.ReportViolation(model.ViolationMultipleMonitor, "extended screen detected")
	}
}

// blockedShortcut matches devtools, view-source, save and print shortcuts.
func blockedShortcut(e *Event) (string, bool) {
	key := strings.ToUpper(e.Key)
	mod := e.Ctrl || e.Meta

	var combo string
	switch {
	case key == "F12":
		combo = "F12"
	case mod && e.Shift && (key == "I" || key == "J" || key == "C"):
		combo = "Ctrl+Shift+" + key
	case mod && !e.Shift && (key == "U" || key == "S" || key == "P"):
		combo = "Ctrl+" + key
	default:
		return "", false
	}
	return combo, true
}
