package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"adsweep/mcp"
	"adsweep/pkg/config"
	"adsweep/pkg/detect"
	"adsweep/pkg/engine"
	"adsweep/pkg/gesture"
	"adsweep/pkg/host"
	"adsweep/pkg/keywords"
	"adsweep/pkg/metrics"
	"adsweep/pkg/scanner"
	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

// PointerStream is the device touch feed used while recording a macro.
// *adb.Surface satisfies it.
type PointerStream interface {
	StreamPointerDowns(ctx context.Context, onDown func(types.Point)) error
}

// App wires the engine components for one device
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	version string

	store     *securestore.Store
	keywords  *keywords.Store
	macros    *gesture.MacroStore
	recorder  *gesture.Recorder
	surface   host.Surface
	scanner   *scanner.Scanner
	detector  *detect.Engine
	player    *gesture.Player
	scheduler *engine.Scheduler
	registry  *prometheus.Registry

	// Recording
	recMu     sync.Mutex
	recCancel context.CancelFunc
	recDone   chan error
}

var _ mcp.EngineApp = (*App)(nil)

// NewApp opens the data directory and builds every component. Nothing runs
// until Run is called.
func NewApp(cfg *config.Config, surface host.Surface, logger zerolog.Logger, version string) (*App, error) {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := securestore.Open(dataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		store:    store,
		recorder: gesture.NewRecorder(),
		surface:  surface,
		registry: prometheus.NewRegistry(),
	}

	var bundled keywords.Source
	if cfg.Storage.BundledKeywords != "" {
		bundled = keywords.FileSource(cfg.Storage.BundledKeywords)
	}
	a.keywords = keywords.New(store, bundled, logger)
	if _, err := a.keywords.Load(); err != nil {
		// the table is usable, a lower layer filled in
		logger.Warn().Err(err).Str("layer", string(a.keywords.LoadedFrom())).Msg("keyword config fell back")
	}

	a.macros, err = gesture.OpenMacroStore(filepath.Join(dataDir, "macros"), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	table := detect.DefaultTable()
	for _, row := range cfg.Strategies {
		if err := table.SetNamed(row.AppID, row.Strategy); err != nil {
			store.Close()
			return nil, fmt.Errorf("strategies: %w", err)
		}
	}
	a.detector = detect.NewEngine(a.keywords, table)

	a.scanner = scanner.New(scanner.Options{
		MaxDepth: cfg.Engine.MaxDepth,
		MaxNodes: cfg.Engine.MaxNodes,
	}, logger)

	a.player = gesture.NewPlayer(surface, gesture.Config{
		TapDuration:    cfg.Gesture.TapDuration,
		DoubleTapGap:   cfg.Gesture.DoubleTapGap,
		ScrollDuration: cfg.Gesture.ScrollDuration,
		ReplayInterval: cfg.Gesture.ReplayInterval,
	}, logger, gesture.WithMacros(a.macros), gesture.WithRecorder(a.recorder))

	policy, err := engine.ParsePolicy(cfg.Engine.PostTriggerPolicy)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.scheduler = engine.New(engine.Deps{
		Surface:    surface,
		Targets:    a.keywords,
		Detector:   a.detector,
		Scanner:    a.scanner,
		Executor:   a.player,
		TriggerLog: store,
		Metrics:    metrics.NewPrometheusRecorder(a.registry),
		Clock:      clockwork.NewRealClock(),
		Logger:     logger,
	}, engine.Config{
		Period:       cfg.Engine.Period,
		Policy:       policy,
		ContentCache: cfg.Engine.ContentCache,
	})

	return a, nil
}

// RunOptions selects the outer surfaces of the daemon
type RunOptions struct {
	MCP         bool
	MetricsAddr string
}

// Run starts the scheduler and blocks until ctx ends or, with MCP enabled,
// until the MCP client disconnects.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	if err := a.macros.Watch(); err != nil {
		a.logger.Warn().Err(err).Msg("macro directory watch unavailable")
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           a.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info().Str("addr", opts.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if !opts.MCP {
		err := a.scheduler.Run(ctx)
		a.player.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	server := mcp.NewMCPServer(a, a.logger)
	err := server.Serve(ctx)
	a.scheduler.Stop()
	a.player.Wait()
	return err
}

func (a *App) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(a.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Close stops any recording and releases the stores
func (a *App) Close() error {
	a.stopStream()
	if _, _, recording := a.recorder.Status(); recording {
		a.recorder.Stop()
	}
	var errs []error
	if err := a.macros.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Version() string { return a.version }

// -- Scheduler --

func (a *App) Status(ctx context.Context) engine.Status { return a.scheduler.Status(ctx) }
func (a *App) Pause(ctx context.Context) error          { return a.scheduler.Pause(ctx) }
func (a *App) Resume(ctx context.Context) error         { return a.scheduler.Resume(ctx) }

func (a *App) EvaluateNow(ctx context.Context, appID string) (engine.TickReport, error) {
	return a.scheduler.EvaluateNow(ctx, appID)
}

// -- Keywords --

func (a *App) Targets() []types.AppTarget                  { return a.keywords.Apps() }
func (a *App) Target(appID string) (types.AppTarget, bool) { return a.keywords.Target(appID) }

func (a *App) AddKeyword(appID, keyword string) (bool, error) {
	return a.keywords.Add(appID, keyword)
}

func (a *App) RemoveKeyword(appID, keyword string) (bool, error) {
	return a.keywords.Remove(appID, keyword)
}

// ResetKeywords drops the persisted table and reloads the defaults.
// Malformed lower layers are only logged.
func (a *App) ResetKeywords() error {
	_, err := a.keywords.Reset()
	var malformed *keywords.MalformedConfigError
	if errors.As(err, &malformed) {
		a.logger.Warn().Err(err).Msg("keyword reset fell back")
		return nil
	}
	return err
}

// -- Macros --

func (a *App) Macro(appID string) (gesture.Macro, bool) { return a.macros.Get(appID) }
func (a *App) DeleteMacro(appID string) (bool, error)   { return a.macros.Delete(appID) }
func (a *App) MacroApps() []string                      { return a.macros.List() }
func (a *App) RecordingStatus() (string, int, bool)     { return a.recorder.Status() }

// StartMacroRecording begins capturing device touches for appID. Callers
// pause scanning first; the player already refuses macro replay meanwhile.
func (a *App) StartMacroRecording(ctx context.Context, appID string) error {
	if err := gesture.ValidateAppID(appID); err != nil {
		return err
	}
	stream, ok := a.surface.(PointerStream)
	if !ok {
		return fmt.Errorf("device surface cannot capture touches")
	}

	a.recMu.Lock()
	defer a.recMu.Unlock()
	if err := a.recorder.Start(appID); err != nil {
		return err
	}

	recCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	a.recCancel = cancel
	a.recDone = done
	go func() {
		err := stream.StreamPointerDowns(recCtx, func(p types.Point) {
			a.recorder.OnPointerDown(p.X, p.Y)
		})
		if err != nil && recCtx.Err() == nil {
			a.logger.Error().Err(err).Str("app", appID).Msg("touch capture ended")
		}
		done <- err
	}()

	a.logger.Info().Str("app", appID).Msg("macro recording started")
	return nil
}

// stopStream cancels the touch capture and waits for it to end
func (a *App) stopStream() {
	a.recMu.Lock()
	cancel, done := a.recCancel, a.recDone
	a.recCancel, a.recDone = nil, nil
	a.recMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// StopMacroRecording ends the capture and saves what was recorded
func (a *App) StopMacroRecording(ctx context.Context) (string, gesture.Macro, error) {
	if !a.recorder.Recording() {
		return "", nil, gesture.ErrNotRecording
	}
	a.stopStream()

	appID, m, err := a.recorder.Stop()
	if err != nil {
		return "", nil, err
	}
	if err := a.macros.Save(appID, m); err != nil {
		return appID, m, err
	}
	return appID, m, nil
}

// -- History --

func (a *App) TriggerHistory(appID string, limit int) ([]securestore.TriggerRecord, error) {
	return a.store.ListTriggers(appID, limit)
}

// -- One-shot scan --

// ScanReport is the output of a single scan without triggering
type ScanReport struct {
	AppID     string                `json:"appId"`
	Strategy  string                `json:"strategy"`
	Tracked   bool                  `json:"tracked"`
	Keywords  []string              `json:"keywords"`
	Nodes     int                   `json:"nodes"`
	Truncated bool                  `json:"truncated,omitempty"`
	DepthCut  bool                  `json:"depthCut,omitempty"`
	Records   types.Records         `json:"records,omitempty"`
	Result    types.DetectionResult `json:"result"`
	Elapsed   string                `json:"elapsed"`
}

// ScanOnce reads the screen of the foreground app (or appID) and runs detection
func (a *App) ScanOnce(ctx context.Context, appID string, withRecords bool) (*ScanReport, error) {
	start := time.Now()
	if appID == "" {
		fg, err := a.surface.ForegroundApp(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read foreground app: %w", err)
		}
		appID = fg
	}
	if appID == "" {
		return nil, fmt.Errorf("no foreground app")
	}

	res, err := a.scanner.ScanSurface(ctx, a.surface)
	if err != nil {
		return nil, err
	}

	rep := &ScanReport{
		AppID:     appID,
		Strategy:  a.detector.Strategy(appID).String(),
		Tracked:   a.keywords.Has(appID),
		Keywords:  a.keywords.Get(appID),
		Nodes:     len(res.Records),
		Truncated: res.Truncated,
		DepthCut:  res.DepthCut,
		Result:    a.detector.Detect(appID, res.Records),
	}
	if withRecords {
		rep.Records = res.Records
	}
	rep.Elapsed = time.Since(start).String()
	return rep, nil
}
