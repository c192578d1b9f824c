package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"adsweep/pkg/gesture"
	"adsweep/pkg/host"
	"adsweep/pkg/metrics"
	"adsweep/pkg/securestore"
)

// TickReport describes one evaluation
type TickReport struct {
	AppID     string              `json:"appId,omitempty"`
	Outcome   metrics.TickOutcome `json:"outcome"`
	Keyword   string              `json:"keyword,omitempty"`
	Strategy  string              `json:"strategy,omitempty"`
	CacheHit  bool                `json:"cacheHit,omitempty"`
	Nodes     int                 `json:"nodes,omitempty"`
	TriggerID string              `json:"triggerId,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// evaluate runs on the loop goroutine only
func (s *Scheduler) evaluate(ctx context.Context, r *run, appID string) TickReport {
	now := s.deps.Clock.Now()
	rep := s.evaluateAt(ctx, r, appID, now)
	rep.At = now
	s.deps.Metrics.IncTick(rep.Outcome)
	s.lastReport = &rep
	return rep
}

func (s *Scheduler) evaluateAt(ctx context.Context, r *run, appID string, now time.Time) TickReport {
	if !s.state.ActivelyScanning {
		return TickReport{AppID: appID, Outcome: metrics.TickInactive}
	}

	if appID == "" {
		fg, err := s.deps.Surface.ForegroundApp(ctx)
		if err != nil || fg == "" {
			rep := TickReport{Outcome: metrics.TickNoApp}
			if err != nil {
				rep.Error = err.Error()
			}
			return rep
		}
		appID = fg
	}
	rep := TickReport{AppID: appID}

	target, ok := s.deps.Targets.Target(appID)
	if !ok || len(target.Keywords) == 0 {
		rep.Outcome = metrics.TickUntracked
		return rep
	}

	start := time.Now()
	scan, err := s.deps.Scanner.ScanSurface(ctx, s.deps.Surface)
	if err != nil {
		var tae *host.TreeAccessError
		if errors.As(err, &tae) {
			s.log.Debug().Err(err).Str("app", appID).Msg("tree unavailable, retrying next tick")
		} else {
			s.log.Warn().Err(err).Str("app", appID).Msg("scan failed")
		}
		rep.Outcome = metrics.TickTreeError
		rep.Error = err.Error()
		return rep
	}
	s.deps.Metrics.ObserveScan(time.Since(start), len(scan.Records))
	rep.Nodes = len(scan.Records)

	hash := contentHash(scan.Records)
	version := s.deps.Targets.Version()
	c := s.cache
	result := c.result
	if s.cfg.ContentCache && c.valid && c.appID == appID && c.version == version &&
		c.hash == hash && s.state.LastContentHash == hash {
		rep.CacheHit = true
		s.deps.Metrics.IncCacheHit()
	} else {
		result = s.deps.Detector.Detect(appID, scan.Records)
		s.deps.Metrics.IncDetection(result.Strategy, result.Matched)
		s.cache = cacheEntry{valid: true, appID: appID, version: version, hash: hash, result: result}
	}
	s.state.LastContentHash = hash
	rep.Strategy = result.Strategy

	if !result.Matched {
		rep.Outcome = metrics.TickNoMatch
		return rep
	}
	rep.Keyword = result.Keyword

	cooldown := time.Duration(target.ScrollConfig.CooldownMs) * time.Millisecond
	if s.state.InFlight || s.coolingDown(now, cooldown) {
		rep.Outcome = metrics.TickGated
		return rep
	}

	// gate open
	nowMs := now.UnixMilli()
	triggerID := uuid.New().String()
	s.state.InFlight = true
	s.lastAction = now
	s.state.LastActionMs = nowMs
	s.deps.Metrics.SetInFlight(true)
	s.recordTrigger(securestore.TriggerRecord{
		ID:          triggerID,
		AppID:       appID,
		Keyword:     result.Keyword,
		Mode:        "pending",
		Outcome:     "pending",
		TriggeredAt: nowMs,
	})

	keyword := result.Keyword
	req := gesture.Request{AppID: appID, Result: result, Scroll: target.ScrollConfig}
	s.deps.Executor.Execute(ctx, req, func(out gesture.Outcome) {
		c := completion{gen: r.gen, triggerID: triggerID, appID: appID, keyword: keyword, at: now, out: out}
		select {
		case s.doneCh <- c:
		case <-r.done:
			// the run is over; nothing is waiting for this completion
		}
	})

	if s.cfg.Policy == PolicyPause {
		s.state.ActivelyScanning = false
		s.log.Info().Str("app", appID).Msg("scanning paused after trigger")
	}

	rep.Outcome = metrics.TickTriggered
	rep.TriggerID = triggerID
	return rep
}

// coolingDown measures from the last action with Time.Sub, which uses the
// monotonic reading of real clock values, so wall clock steps neither
// extend nor cut the cooldown. LastActionMs is for reporting only.
func (s *Scheduler) coolingDown(now time.Time, cooldown time.Duration) bool {
	if s.lastAction.IsZero() {
		return false
	}
	return now.Sub(s.lastAction) <= cooldown
}

// complete is the only place that clears InFlight
func (s *Scheduler) complete(r *run, c completion) {
	if c.gen != r.gen {
		return
	}
	s.state.InFlight = false
	s.deps.Metrics.SetInFlight(false)

	result := "success"
	outcome := "completed"
	errText := ""
	switch {
	case host.IsCancelled(c.out.Err):
		result, outcome, errText = "cancelled", "cancelled", c.out.Err.Error()
	case c.out.Err != nil:
		result, outcome, errText = "failed", "failed", c.out.Err.Error()
	}
	mode := string(c.out.Mode)
	s.deps.Metrics.IncTrigger(c.appID, mode)
	s.deps.Metrics.IncCompletion(mode, result)

	s.recordTrigger(securestore.TriggerRecord{
		ID:          c.triggerID,
		AppID:       c.appID,
		Keyword:     c.keyword,
		Mode:        mode,
		Outcome:     outcome,
		Error:       errText,
		TriggeredAt: c.at.UnixMilli(),
		CompletedAt: s.deps.Clock.Now().UnixMilli(),
	})

	ev := s.log.Info()
	if c.out.Err != nil {
		ev = s.log.Warn().Err(c.out.Err)
	}
	ev.Str("app", c.appID).Str("mode", mode).Str("outcome", outcome).Str("trigger_id", c.triggerID).Msg("trigger completed")
}

func (s *Scheduler) recordTrigger(rec securestore.TriggerRecord) {
	if s.deps.TriggerLog == nil {
		return
	}
	if err := s.deps.TriggerLog.RecordTrigger(rec); err != nil {
		s.log.Warn().Err(err).Str("trigger_id", rec.ID).Msg("failed to record trigger")
	}
}
