package model

import "time"

// ViolationType names an environment signal correlated with cheating.
type ViolationType string

const (
	ViolationCopy            ViolationType = "COPY"
	ViolationCut             ViolationType = "CUT"
	ViolationPaste           ViolationType = "PASTE"
	ViolationTabSwitch       ViolationType = "TAB_SWITCH"
	ViolationContextMenu     ViolationType = "CONTEXT_MENU"
	ViolationBlockedShortcut ViolationType = "BLOCKED_SHORTCUT"
	ViolationDevtoolsOpen    ViolationType = "DEVTOOLS_OPEN"
	ViolationWindowBlur      ViolationType = "WINDOW_BLUR"
	ViolationFullscreenExit  ViolationType = "FULLSCREEN_EXIT"
	ViolationSplitScreen     ViolationType = "SPLIT_SCREEN"
	ViolationMultipleMonitor ViolationType = "MULTIPLE_MONITORS"
)

// Violation is one entry of the integrity log.
type Violation struct {
	Type   ViolationType `json:"type"`
	Detail string        `json:"detail,omitempty"`
	At     time.Time     `json:"at"`
}
