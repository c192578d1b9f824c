// Package engine runs the periodic scan, detect and trigger loop.
//
// One goroutine owns the scan state. Timer ticks, on-demand evaluations,
// gesture completions and control requests are all serialized through it,
// so the cooldown and in-flight gate can never be passed twice.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"adsweep/pkg/detect"
	"adsweep/pkg/gesture"
	"adsweep/pkg/host"
	"adsweep/pkg/metrics"
	"adsweep/pkg/scanner"
	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

const (
	MinPeriod     = 500 * time.Millisecond
	MaxPeriod     = 1000 * time.Millisecond
	DefaultPeriod = 750 * time.Millisecond
)

// Targets is the keyword table. *keywords.Store satisfies it.
type Targets interface {
	Target(appID string) (types.AppTarget, bool)
	Version() uint64
}

// Detector is satisfied by *detect.Engine
type Detector interface {
	Detect(appID string, snap detect.Snapshot) types.DetectionResult
}

// TreeScanner is satisfied by *scanner.Scanner
type TreeScanner interface {
	ScanSurface(ctx context.Context, surface host.Surface) (scanner.Result, error)
}

// Executor is satisfied by *gesture.Player
type Executor interface {
	Execute(ctx context.Context, req gesture.Request, done func(gesture.Outcome))
}

// TriggerLog is satisfied by *securestore.Store
type TriggerLog interface {
	RecordTrigger(rec securestore.TriggerRecord) error
}

type Config struct {
	Period       time.Duration
	Policy       Policy
	ContentCache bool
}

// Deps are the collaborators of a Scheduler. TriggerLog and Metrics are optional.
type Deps struct {
	Surface    host.Surface
	Targets    Targets
	Detector   Detector
	Scanner    TreeScanner
	Executor   Executor
	TriggerLog TriggerLog
	Metrics    metrics.Recorder
	Clock      clockwork.Clock
	Logger     zerolog.Logger
}

// Status is a point-in-time view of the scheduler
type Status struct {
	Running    bool            `json:"running"`
	Policy     string          `json:"policy"`
	Period     string          `json:"period"`
	State      types.ScanState `json:"state"`
	LastReport *TickReport     `json:"lastReport,omitempty"`
}

type evalRequest struct {
	appID string
	reply chan TickReport
}

type completion struct {
	gen       uint64
	triggerID string
	appID     string
	keyword   string
	at        time.Time
	out       gesture.Outcome
}

// run is one Start..Stop lifetime
type run struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger

	evalCh chan evalRequest
	doneCh chan completion
	ctlCh  chan func()

	mu  sync.Mutex
	cur *run
	gen uint64

	// owned by the loop goroutine
	state      types.ScanState
	lastAction time.Time
	cache      cacheEntry
	lastReport *TickReport
}

type cacheEntry struct {
	valid   bool
	appID   string
	version uint64
	hash    uint64
	result  types.DetectionResult
}

func New(deps Deps, cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Period < MinPeriod {
		cfg.Period = MinPeriod
	}
	if cfg.Period > MaxPeriod {
		cfg.Period = MaxPeriod
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		log:    deps.Logger.With().Str("module", "engine").Logger(),
		evalCh: make(chan evalRequest),
		doneCh: make(chan completion),
		ctlCh:  make(chan func()),
	}
}

// Start launches the loop. Scanning starts active.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return ErrAlreadyRunning
	}

	s.gen++
	loopCtx, cancel := context.WithCancel(ctx)
	r := &run{gen: s.gen, cancel: cancel, done: make(chan struct{})}
	s.cur = r

	// completions of a previous run are ignored, so nothing is in flight
	s.state.InFlight = false
	s.state.ActivelyScanning = true
	s.deps.Metrics.SetInFlight(false)

	s.log.Info().
		Dur("period", s.cfg.Period).
		Str("policy", s.cfg.Policy.String()).
		Bool("content_cache", s.cfg.ContentCache).
		Msg("scheduler started")

	go s.loop(loopCtx, r)
	return nil
}

// Run starts the loop and blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// Stop cancels the pending tick and any executing gesture, and waits for
// the loop to exit. Completions arriving afterwards are dropped.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	r.cancel()
	<-r.done
	s.log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// do runs fn on the loop goroutine and waits for it
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	r := s.current()
	if r == nil {
		return ErrNotRunning
	}
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case s.ctlCh <- wrapped:
	case <-r.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// EvaluateNow runs one evaluation through the same gate as timer ticks.
// An empty appID means the current foreground app.
func (s *Scheduler) EvaluateNow(ctx context.Context, appID string) (TickReport, error) {
	r := s.current()
	if r == nil {
		return TickReport{}, ErrNotRunning
	}
	req := evalRequest{appID: appID, reply: make(chan TickReport, 1)}
	select {
	case s.evalCh <- req:
	case <-r.done:
		return TickReport{}, ErrNotRunning
	case <-ctx.Done():
		return TickReport{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return TickReport{}, ctx.Err()
	}
}

// Pause stops scanning until Resume
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.state.ActivelyScanning {
			s.log.Info().Msg("scanning paused")
		}
		s.state.ActivelyScanning = false
	})
}

// Resume re-enables scanning
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.do(ctx, func() {
		if !s.state.ActivelyScanning {
			s.log.Info().Msg("scanning resumed")
		}
		s.state.ActivelyScanning = true
	})
}

// Status reports the scan state. A stopped scheduler reports Running=false.
func (s *Scheduler) Status(ctx context.Context) Status {
	st := Status{
		Policy: s.cfg.Policy.String(),
		Period: s.cfg.Period.String(),
	}
	err := s.do(ctx, func() {
		st.Running = true
		st.State = s.state
		if s.lastReport != nil {
			rep := *s.lastReport
			st.LastReport = &rep
		}
	})
	if err != nil {
		st.State.ActivelyScanning = false
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer close(r.done)

	ticker := s.deps.Clock.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rep := s.evaluate(ctx, r, "")
			s.logReport(rep)
		case req := <-s.evalCh:
			rep := s.evaluate(ctx, r, req.appID)
			s.logReport(rep)
			req.reply <- rep
		case c := <-s.doneCh:
			s.complete(r, c)
		case fn := <-s.ctlCh:
			fn()
		}
	}
}

func (s *Scheduler) logReport(rep TickReport) {
	ev := s.log.Debug()
	if rep.Outcome == metrics.TickTriggered {
		ev = s.log.Info()
	}
	ev.Str("app", rep.AppID).
		Str("outcome", string(rep.Outcome)).
		Bool("cache_hit", rep.CacheHit).
		Str("keyword", rep.Keyword).
		Str("trigger_id", rep.TriggerID).
		Msg("tick")
}
