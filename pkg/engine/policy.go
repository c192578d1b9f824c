package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotRunning     = errors.New("engine is not running")
	ErrAlreadyRunning = errors.New("engine is already running")
)

// Policy decides what happens to scanning after an action is triggered
type Policy int

const (
	// PolicyCooldown keeps scanning; the cooldown alone prevents re-triggering
	PolicyCooldown Policy = iota
	// PolicyPause stops scanning until Resume is called
	PolicyPause
)

func (p Policy) String() string {
	if p == PolicyPause {
		return "pause"
	}
	return "cooldown"
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cooldown":
		return PolicyCooldown, nil
	case "pause":
		return PolicyPause, nil
	}
	return PolicyCooldown, fmt.Errorf("unknown post-trigger policy %q", s)
}
