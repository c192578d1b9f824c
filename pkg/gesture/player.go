package gesture

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

// Config holds fixed gesture timings
type Config struct {
	TapDuration    time.Duration
	DoubleTapGap   time.Duration
	ScrollDuration time.Duration
	ReplayInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TapDuration:    100 * time.Millisecond,
		DoubleTapGap:   80 * time.Millisecond,
		ScrollDuration: 300 * time.Millisecond,
		ReplayInterval: 500 * time.Millisecond,
	}
}

// Mode names the path an execution took
type Mode string

const (
	ModeMacro  Mode = "macro"
	ModeAction Mode = "action"
	ModeTap    Mode = "tap"
	ModeScroll Mode = "scroll"
)

// Request is one detection to act upon
type Request struct {
	AppID  string
	Result types.DetectionResult
	Scroll types.ScrollConfig
}

// Outcome is reported exactly once per Execute
type Outcome struct {
	Mode Mode
	Err  error
}

// MacroSource looks up the macro configured for an app
type MacroSource interface {
	Get(appID string) (Macro, bool)
}

// RecordingState is implemented by *Recorder
type RecordingState interface {
	Recording() bool
}

// Player executes detections on the host surface. Execute never blocks;
// Wait blocks until every started execution has reported.
type Player struct {
	surface  host.Surface
	macros   MacroSource
	recorder RecordingState
	clock    clockwork.Clock
	cfg      Config
	logger   zerolog.Logger

	wg sync.WaitGroup
}

type PlayerOption func(*Player)

func WithClock(c clockwork.Clock) PlayerOption {
	return func(p *Player) { p.clock = c }
}

func WithMacros(m MacroSource) PlayerOption {
	return func(p *Player) { p.macros = m }
}

// WithRecorder makes the player refuse macro replay while recording
func WithRecorder(r RecordingState) PlayerOption {
	return func(p *Player) { p.recorder = r }
}

func NewPlayer(surface host.Surface, cfg Config, logger zerolog.Logger, opts ...PlayerOption) *Player {
	def := DefaultConfig()
	if cfg.TapDuration <= 0 {
		cfg.TapDuration = def.TapDuration
	}
	if cfg.ScrollDuration <= 0 {
		cfg.ScrollDuration = def.ScrollDuration
	}
	if cfg.DoubleTapGap < 0 {
		cfg.DoubleTapGap = def.DoubleTapGap
	}
	if cfg.ReplayInterval < 0 {
		cfg.ReplayInterval = def.ReplayInterval
	}
	p := &Player{
		surface: surface,
		clock:   clockwork.NewRealClock(),
		cfg:     cfg,
		logger:  logger.With().Str("module", "player").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute acts on req in the background and calls done once with the outcome.
// Precedence: app macro, then the matched node's own action, then a tap on
// the matched region, then a forward scroll.
func (p *Player) Execute(ctx context.Context, req Request, done func(Outcome)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		out := p.run(ctx, req)
		if out.Err != nil {
			p.logger.Warn().Err(out.Err).Str("app", req.AppID).Str("mode", string(out.Mode)).Msg("execution failed")
		} else {
			p.logger.Debug().Str("app", req.AppID).Str("mode", string(out.Mode)).Msg("execution completed")
		}
		if done != nil {
			done(out)
		}
	}()
}

// Wait blocks until all executions have finished
func (p *Player) Wait() {
	p.wg.Wait()
}

func (p *Player) run(ctx context.Context, req Request) Outcome {
	if p.macros != nil {
		if m, ok := p.macros.Get(req.AppID); ok && len(m) > 0 {
			if p.recorder != nil && p.recorder.Recording() {
				p.logger.Warn().Str("app", req.AppID).Msg("recording active, macro replay refused")
			} else {
				return Outcome{Mode: ModeMacro, Err: p.Replay(ctx, m)}
			}
		}
	}

	res := req.Result
	if res.Source != nil && res.Source.Actionable {
		ok, err := p.surface.PerformAction(ctx, *res.Source)
		switch {
		case err != nil:
			p.logger.Debug().Err(err).Msg("node action failed, falling back to tap")
		case ok:
			return Outcome{Mode: ModeAction}
		}
	}

	if res.Region != nil && !res.Region.Empty() {
		g := host.TapGesture(res.Region.Center(), p.cfg.TapDuration)
		return Outcome{Mode: ModeTap, Err: p.dispatch(ctx, g)}
	}

	g, err := p.forwardScroll(ctx, req.Scroll)
	if err != nil {
		return Outcome{Mode: ModeScroll, Err: err}
	}
	return Outcome{Mode: ModeScroll, Err: p.dispatch(ctx, g)}
}

func (p *Player) forwardScroll(ctx context.Context, sc types.ScrollConfig) (host.Gesture, error) {
	w, h, err := p.surface.ScreenSize(ctx)
	if err != nil {
		return host.Gesture{}, err
	}
	sc, _ = sc.Normalize()
	x := w / 2
	from := types.Point{X: x, Y: int(math.Round(float64(h) * sc.StartRatio))}
	to := types.Point{X: x, Y: int(math.Round(float64(h) * sc.EndRatio))}
	g := host.SwipeGesture(from, to, time.Duration(sc.DurationMs)*time.Millisecond)
	g.Label = "scroll"
	return g, nil
}

// Replay plays m with action i starting ReplayInterval*i after the first,
// waiting for each dispatch to complete. It blocks until done.
func (p *Player) Replay(ctx context.Context, m Macro) error {
	if len(m) == 0 {
		return ErrEmptyMacro
	}
	start := p.clock.Now()
	for i, a := range m {
		if i > 0 {
			due := start.Add(time.Duration(i) * p.cfg.ReplayInterval)
			if wait := due.Sub(p.clock.Now()); wait > 0 {
				select {
				case <-ctx.Done():
					return &host.GestureDispatchError{Gesture: a.Kind.String(), Cancelled: true, Err: ctx.Err()}
				case <-p.clock.After(wait):
				}
			}
		}
		if err := p.dispatch(ctx, p.gestureFor(a)); err != nil {
			return err
		}
	}
	return nil
}

// gestureFor renders one macro action as strokes
func (p *Player) gestureFor(a Action) host.Gesture {
	pt := types.Point{X: a.X, Y: a.Y}
	switch a.Kind {
	case KindDoubleTap:
		return host.Gesture{
			Label: "doubletap",
			Strokes: []host.Stroke{
				{Path: []types.Point{pt}, Duration: p.cfg.TapDuration},
				{Path: []types.Point{pt}, Start: p.cfg.TapDuration + p.cfg.DoubleTapGap, Duration: p.cfg.TapDuration},
			},
		}
	case KindScroll:
		g := host.SwipeGesture(pt, types.Point{X: a.X1, Y: a.Y1}, p.cfg.ScrollDuration)
		g.Label = "scroll"
		return g
	default:
		return host.TapGesture(pt, p.cfg.TapDuration)
	}
}

// dispatch sends g and waits for its completion callback
func (p *Player) dispatch(ctx context.Context, g host.Gesture) error {
	if err := g.Validate(); err != nil {
		return &host.GestureDispatchError{Gesture: g.Label, Err: err}
	}
	result := make(chan error, 1)
	p.surface.Dispatch(ctx, g, func(err error) { result <- err })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &host.GestureDispatchError{Gesture: g.Label, Cancelled: true, Err: ctx.Err()}
	}
}
