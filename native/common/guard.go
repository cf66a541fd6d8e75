package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by state-changing operations of a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause flag of a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// Pauses holds operator controlled pause flags keyed by module name. The zero
// value has every module running.
type Pauses struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewPauses seeds the flags from initial.
func NewPauses(initial map[string]bool) *Pauses {
	p := &Pauses{flags: make(map[string]bool, len(initial))}
	for module, paused := range initial {
		p.flags[module] = paused
	}
	return p
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flags[module]
}

// Set flips the flag for module.
func (p *Pauses) Set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flags == nil {
		p.flags = make(map[string]bool)
	}
	p.flags[module] = paused
}

// Guard returns ErrModulePaused when module is paused in p. A nil view never
// pauses anything.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
