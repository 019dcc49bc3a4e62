package common

import "errors"

// ErrModulePaused is returned when a flow has been switched off by operations.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named flow is currently paused. Flow names are
// dotted paths such as "lending.borrow".
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard rejects the call when the given flow is paused. A nil view or empty
// flow name disables the check.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrModulePaused
	}
	return nil
}
