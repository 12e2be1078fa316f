package common

import "errors"

// ErrModulePaused is returned by Guard while writes to a module are halted.
// Handlers surface it as a distinct error code so callers can retry once the
// pause lifts.
var ErrModulePaused = errors.New("module paused")

// PauseView reports per-module pause switches, typically sourced from
// operator configuration so mutations can be halted without a restart.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or an
// empty module name means pausing is not wired, and the call proceeds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if !p.IsPaused(module) {
		return nil
	}
	return ErrModulePaused
}
