// Package metrics exposes engine observability hooks.
package metrics

import "time"

// TickOutcome labels how a scheduler tick ended
type TickOutcome string

const (
	TickInactive  TickOutcome = "inactive"
	TickNoApp     TickOutcome = "no_app"
	TickUntracked TickOutcome = "untracked"
	TickTreeError TickOutcome = "tree_error"
	TickNoMatch   TickOutcome = "no_match"
	TickGated     TickOutcome = "gated"
	TickTriggered TickOutcome = "triggered"
)

// Recorder is implemented by PrometheusRecorder and NoopRecorder
type Recorder interface {
	IncTick(outcome TickOutcome)
	IncCacheHit()
	ObserveScan(d time.Duration, nodes int)
	IncDetection(strategy string, matched bool)
	IncTrigger(app, mode string)
	IncCompletion(mode, result string)
	SetInFlight(inFlight bool)
}

// NoopRecorder discards everything
type NoopRecorder struct{}

func (NoopRecorder) IncTick(TickOutcome)            {}
func (NoopRecorder) IncCacheHit()                   {}
func (NoopRecorder) ObserveScan(time.Duration, int) {}
func (NoopRecorder) IncDetection(string, bool)      {}
func (NoopRecorder) IncTrigger(string, string)      {}
func (NoopRecorder) IncCompletion(string, string)   {}
func (NoopRecorder) SetInFlight(bool)               {}
