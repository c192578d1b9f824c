package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"adsweep/pkg/detect"
	"adsweep/pkg/gesture"
	"adsweep/pkg/host/hosttest"
	"adsweep/pkg/metrics"
	"adsweep/pkg/scanner"
	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTargets struct {
	mu      sync.Mutex
	targets map[string]types.AppTarget
	version uint64
}

func newTargets(app string, keywords ...string) *fakeTargets {
	sc := types.DefaultScrollConfig()
	return &fakeTargets{targets: map[string]types.AppTarget{
		app: {AppID: app, Keywords: keywords, ScrollConfig: sc},
	}, version: 1}
}

func (f *fakeTargets) Target(appID string) (types.AppTarget, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[appID]
	return t.Clone(), ok
}

func (f *fakeTargets) Get(appID string) []string {
	t, _ := f.Target(appID)
	return t.Keywords
}

func (f *fakeTargets) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *fakeTargets) add(appID, kw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.targets[appID]
	t.Keywords = append(t.Keywords, kw)
	f.targets[appID] = t
	f.version++
}

type countingDetector struct {
	inner Detector
	mu    sync.Mutex
	calls int
}

func (c *countingDetector) Detect(appID string, snap detect.Snapshot) types.DetectionResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Detect(appID, snap)
}

func (c *countingDetector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []gesture.Request
	dones []func(gesture.Outcome)
}

func (f *fakeExecutor) Execute(ctx context.Context, req gesture.Request, done func(gesture.Outcome)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.dones = append(f.dones, done)
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeExecutor) complete(i int, out gesture.Outcome) {
	f.mu.Lock()
	done := f.dones[i]
	f.mu.Unlock()
	done(out)
}

type memTriggerLog struct {
	mu   sync.Mutex
	recs []securestore.TriggerRecord
}

func (m *memTriggerLog) RecordTrigger(rec securestore.TriggerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type harness struct {
	surface  *hosttest.Surface
	targets  *fakeTargets
	detector *countingDetector
	exec     *fakeExecutor
	log      *memTriggerLog
	clock    *clockwork.FakeClock
	sched    *Scheduler
}

const app = "com.example.video"

func adTree() *hosttest.Node {
	return &hosttest.Node{Text: "root", Children: []*hosttest.Node{
		{Text: "Video title"},
		{Text: "Skip Ad", Clickable: true, Bounds: types.Rect{Left: 900, Top: 100, Right: 1000, Bottom: 150}},
	}}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		surface: hosttest.NewSurface(),
		targets: newTargets(app, "skip ad"),
		exec:    &fakeExecutor{},
		log:     &memTriggerLog{},
		clock:   clockwork.NewFakeClock(),
	}
	h.surface.SetTree(adTree())
	h.detector = &countingDetector{inner: detect.NewEngine(h.targets, nil)}
	h.sched = New(Deps{
		Surface:    h.surface,
		Targets:    h.targets,
		Detector:   h.detector,
		Scanner:    scanner.New(scanner.Options{}, zerolog.Nop()),
		Executor:   h.exec,
		TriggerLog: h.log,
		Clock:      h.clock,
		Logger:     zerolog.Nop(),
	}, cfg)
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { h.sched.Stop() })
	return h
}

func (h *harness) eval(t *testing.T) TickReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rep, err := h.sched.EvaluateNow(ctx, app)
	if err != nil {
		t.Fatalf("EvaluateNow failed: %v", err)
	}
	return rep
}

func TestCooldownSuppressesSecondDetection(t *testing.T) {
	h := newHarness(t, Config{ContentCache: true})

	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered || rep.Keyword != "skip ad" {
		t.Fatalf("Expected trigger, got %+v", rep)
	}
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeAction})

	h.clock.Advance(1000 * time.Millisecond)
	if rep := h.eval(t); rep.Outcome != metrics.TickGated {
		t.Fatalf("Expected detection within cooldown to be gated, got %+v", rep)
	}
	h.clock.Advance(1000 * time.Millisecond)
	if rep := h.eval(t); rep.Outcome != metrics.TickGated {
		t.Fatalf("Expected detection at exactly the cooldown to be gated, got %+v", rep)
	}
	if h.exec.count() != 1 {
		t.Fatalf("Expected only the first action to execute, got %d", h.exec.count())
	}

	h.clock.Advance(1 * time.Millisecond)
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger after cooldown, got %+v", rep)
	}
	if h.exec.count() != 2 {
		t.Errorf("Expected 2 executions, got %d", h.exec.count())
	}
}

func TestCooldownIgnoresReportedTimestamp(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	start := h.clock.Now()
	h.eval(t)
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})
	if st := h.sched.Status(ctx); st.State.LastActionMs != start.UnixMilli() {
		t.Fatalf("Expected LastActionMs %d, got %d", start.UnixMilli(), st.State.LastActionMs)
	}

	// a wall clock step back makes the stamp look an hour in the future
	if err := h.sched.do(ctx, func() { h.sched.state.LastActionMs += time.Hour.Milliseconds() }); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	h.clock.Advance(2001 * time.Millisecond)
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger once the cooldown elapsed, got %+v", rep)
	}
	h.exec.complete(1, gesture.Outcome{Mode: gesture.ModeTap})

	// and a step forward must not cut the cooldown short
	if err := h.sched.do(ctx, func() { h.sched.state.LastActionMs -= time.Hour.Milliseconds() }); err != nil {
		t.Fatalf("do failed: %v", err)
	}
	h.clock.Advance(500 * time.Millisecond)
	if rep := h.eval(t); rep.Outcome != metrics.TickGated {
		t.Fatalf("Expected detection within cooldown to be gated, got %+v", rep)
	}
}

func TestCoolingDownUsesElapsedTime(t *testing.T) {
	s := &Scheduler{}
	now := time.Now()
	if s.coolingDown(now, 2*time.Second) {
		t.Fatal("No previous action should never be cooling down")
	}
	s.lastAction = now
	if !s.coolingDown(now.Add(2*time.Second), 2*time.Second) {
		t.Error("Expected cooldown to include its boundary")
	}
	if s.coolingDown(now.Add(2*time.Second+time.Millisecond), 2*time.Second) {
		t.Error("Expected cooldown to end after its boundary")
	}
}

func TestInFlightGate(t *testing.T) {
	h := newHarness(t, Config{})

	h.eval(t)
	h.clock.Advance(10 * time.Second)
	if rep := h.eval(t); rep.Outcome != metrics.TickGated {
		t.Fatalf("Expected in-flight gate, got %+v", rep)
	}
	if st := h.sched.Status(context.Background()); !st.State.InFlight {
		t.Fatal("Expected InFlight while the gesture is pending")
	}

	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})
	if st := h.sched.Status(context.Background()); st.State.InFlight {
		t.Fatal("Completion should clear InFlight")
	}
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger after completion, got %+v", rep)
	}
}

func TestFailedCompletionClearsInFlight(t *testing.T) {
	h := newHarness(t, Config{})
	h.eval(t)
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap, Err: errors.New("rejected")})

	if st := h.sched.Status(context.Background()); st.State.InFlight {
		t.Fatal("Failed completion should clear InFlight")
	}
	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	if len(h.log.recs) != 2 {
		t.Fatalf("Expected pending and final trigger records, got %d", len(h.log.recs))
	}
	first, last := h.log.recs[0], h.log.recs[1]
	if first.ID != last.ID || first.Outcome != "pending" {
		t.Errorf("Unexpected pending record %+v", first)
	}
	if last.Outcome != "failed" || last.Mode != "tap" || last.Error == "" {
		t.Errorf("Unexpected final record %+v", last)
	}
}

func TestContentCache(t *testing.T) {
	h := newHarness(t, Config{ContentCache: true})
	h.targets.mu.Lock()
	h.targets.targets[app] = types.AppTarget{AppID: app, Keywords: []string{"nothing here"}, ScrollConfig: types.DefaultScrollConfig()}
	h.targets.mu.Unlock()

	if rep := h.eval(t); rep.Outcome != metrics.TickNoMatch || rep.CacheHit {
		t.Fatalf("Expected uncached no-match, got %+v", rep)
	}
	if rep := h.eval(t); !rep.CacheHit || rep.Outcome != metrics.TickNoMatch {
		t.Fatalf("Expected cache hit, got %+v", rep)
	}
	if h.detector.count() != 1 {
		t.Fatalf("Expected detection to run once, got %d", h.detector.count())
	}

	// a keyword edit invalidates the cached result
	h.targets.add(app, "Skip")
	if rep := h.eval(t); rep.CacheHit || rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected fresh detection to trigger, got %+v", rep)
	}
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})

	// cached match still goes through the gate
	if rep := h.eval(t); !rep.CacheHit || rep.Outcome != metrics.TickGated {
		t.Fatalf("Expected cached match to be gated, got %+v", rep)
	}
	h.clock.Advance(3 * time.Second)
	if rep := h.eval(t); !rep.CacheHit || rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected cached match to trigger after cooldown, got %+v", rep)
	}

	// screen change
	h.exec.complete(1, gesture.Outcome{Mode: gesture.ModeTap})
	h.surface.SetTree(&hosttest.Node{Text: "feed"})
	calls := h.detector.count()
	if rep := h.eval(t); rep.CacheHit || rep.Outcome != metrics.TickNoMatch {
		t.Fatalf("Expected fresh detection on new content, got %+v", rep)
	}
	if h.detector.count() != calls+1 {
		t.Error("Expected detection to run for new content")
	}
}

func TestContentCacheDisabled(t *testing.T) {
	h := newHarness(t, Config{ContentCache: false})
	h.surface.SetTree(&hosttest.Node{Text: "plain"})
	h.eval(t)
	h.eval(t)
	if h.detector.count() != 2 {
		t.Errorf("Expected detection every time without cache, got %d", h.detector.count())
	}
}

func TestPausePolicy(t *testing.T) {
	h := newHarness(t, Config{Policy: PolicyPause})

	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger, got %+v", rep)
	}
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})
	h.clock.Advance(time.Minute)

	if st := h.sched.Status(context.Background()); st.State.ActivelyScanning {
		t.Fatal("Expected scanning paused after trigger")
	}
	if rep := h.eval(t); rep.Outcome != metrics.TickInactive {
		t.Fatalf("Expected inactive tick, got %+v", rep)
	}

	if err := h.sched.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger after resume, got %+v", rep)
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.sched.Pause(context.Background()); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if rep := h.eval(t); rep.Outcome != metrics.TickInactive {
		t.Fatalf("Expected inactive, got %+v", rep)
	}
	if h.exec.count() != 0 {
		t.Error("Paused scheduler must not trigger")
	}
	h.sched.Resume(context.Background())
	if st := h.sched.Status(context.Background()); !st.State.ActivelyScanning || !st.Running {
		t.Errorf("Expected active running scheduler, got %+v", st)
	}
}

func TestSkips(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	rep, _ := h.sched.EvaluateNow(ctx, "com.unknown")
	if rep.Outcome != metrics.TickUntracked {
		t.Errorf("Expected untracked app skip, got %+v", rep)
	}

	h.targets.mu.Lock()
	h.targets.targets["com.empty"] = types.AppTarget{AppID: "com.empty"}
	h.targets.mu.Unlock()
	rep, _ = h.sched.EvaluateNow(ctx, "com.empty")
	if rep.Outcome != metrics.TickUntracked {
		t.Errorf("Expected empty keyword skip, got %+v", rep)
	}

	// foreground lookup with no app in front
	rep, _ = h.sched.EvaluateNow(ctx, "")
	if rep.Outcome != metrics.TickNoApp {
		t.Errorf("Expected no-app skip, got %+v", rep)
	}

	h.surface.RootErr = errors.New("window transition")
	rep, _ = h.sched.EvaluateNow(ctx, app)
	if rep.Outcome != metrics.TickTreeError || rep.Error == "" {
		t.Errorf("Expected tree error skip, got %+v", rep)
	}
	if h.surface.Live() != 0 {
		t.Errorf("Expected no leaked handles, %d live", h.surface.Live())
	}

	h.surface.RootErr = nil
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Errorf("Expected recovery on the next evaluation, got %+v", rep)
	}
	if h.exec.count() != 1 {
		t.Errorf("Expected one execution, got %d", h.exec.count())
	}
}

func TestTickerDrivesEvaluation(t *testing.T) {
	h := newHarness(t, Config{Period: 750 * time.Millisecond})
	h.surface.SetApp(app)

	h.clock.Advance(750 * time.Millisecond)
	deadline := time.Now().Add(3 * time.Second)
	for h.exec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.exec.count() != 1 {
		t.Fatalf("Expected a tick to trigger, got %d executions", h.exec.count())
	}
	h.exec.mu.Lock()
	req := h.exec.reqs[0]
	h.exec.mu.Unlock()
	if req.AppID != app || req.Result.Source == nil || req.Scroll.CooldownMs != 2000 {
		t.Errorf("Unexpected request %+v", req)
	}
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.eval(t)

	if err := h.sched.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// completion after stop returns without blocking
	finished := make(chan struct{})
	go func() {
		h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Late completion blocked")
	}

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if st := h.sched.Status(context.Background()); st.State.InFlight {
		t.Fatal("Restart should not inherit an in-flight action")
	}
	h.clock.Advance(time.Minute)
	if rep := h.eval(t); rep.Outcome != metrics.TickTriggered {
		t.Fatalf("Expected trigger in the new run, got %+v", rep)
	}

	// replaying the old run's callback must not clear the new in-flight flag
	h.exec.complete(0, gesture.Outcome{Mode: gesture.ModeTap})
	if st := h.sched.Status(context.Background()); !st.State.InFlight {
		t.Fatal("Stale completion cleared InFlight")
	}
}

func TestLifecycleErrors(t *testing.T) {
	s := New(Deps{Logger: zerolog.Nop(), Clock: clockwork.NewFakeClock()}, Config{})
	if _, err := s.EvaluateNow(context.Background(), app); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if err := s.Pause(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if st := s.Status(context.Background()); st.Running {
		t.Error("Stopped scheduler should not report running")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(Deps{Logger: zerolog.Nop(), Clock: clockwork.NewFakeClock()}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for s.current() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if s.current() != nil {
		t.Error("Run should stop the scheduler on exit")
	}
}

func TestPeriodClamp(t *testing.T) {
	for in, want := range map[time.Duration]time.Duration{
		0:                DefaultPeriod,
		time.Millisecond: MinPeriod,
		5 * time.Second:  MaxPeriod,
	} {
		s := New(Deps{Logger: zerolog.Nop()}, Config{Period: in})
		if s.cfg.Period != want {
			t.Errorf("period %v: expected %v, got %v", in, want, s.cfg.Period)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("PAUSE"); err != nil || p != PolicyPause {
		t.Errorf("Expected pause, got %v %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyCooldown {
		t.Errorf("Expected cooldown default, got %v %v", p, err)
	}
	if _, err := ParsePolicy("never"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestContentHashSensitivity(t *testing.T) {
	base := types.Records{{Text: "a", Description: "b", Bounds: types.Rect{Right: 1}, Path: []int{0}}}
	h0 := contentHash(base)
	if contentHash(base) != h0 {
		t.Fatal("Hash must be deterministic")
	}
	variants := []types.Records{
		{{Text: "ab", Description: "", Bounds: types.Rect{Right: 1}, Path: []int{0}}},
		{{Text: "a", Description: "b", Bounds: types.Rect{Right: 2}, Path: []int{0}}},
		{{Text: "a", Description: "b", Bounds: types.Rect{Right: 1}, Path: []int{1}}},
		{{Text: "a", Description: "b", Bounds: types.Rect{Right: 1}, Path: []int{0}, Actionable: true}},
	}
	for i, v := range variants {
		if contentHash(v) == h0 {
			t.Errorf("variant %d should change the hash", i)
		}
	}
}
