package adb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

func TestParseFocus(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			"current focus",
			"  mCurrentFocus=Window{5c1d2e u0 com.google.android.youtube/com.google.android.apps.youtube.app.WatchWhileActivity}\n  mFocusedApp=ActivityRecord{9f u0 com.google.android.youtube/.Main t41}",
			"com.google.android.youtube",
		},
		{
			"status bar popup falls back to focused app",
			"  mCurrentFocus=Window{1a u0 StatusBar}\n  mFocusedApp=ActivityRecord{9f u0 com.instagram.android/.activity.MainTabActivity t12}",
			"com.instagram.android",
		},
		{
			"resumed activity",
			"    mResumedActivity: ActivityRecord{77 u0 com.zhiliaoapp.musically/com.ss.android.ugc.aweme.main.MainActivity t5}",
			"com.zhiliaoapp.musically",
		},
		{
			"resumed activity with equals",
			"  topResumedActivity=ActivityRecord{77 u0 com.zhiliaoapp.musically/com.ss.android.ugc.aweme.main.MainActivity t5}",
			"com.zhiliaoapp.musically",
		},
		{"null focus", "  mCurrentFocus=null\n  mFocusedApp=null", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseFocus(tt.out); got != tt.want {
				t.Errorf("parseFocus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForegroundAppFallsBackToActivities(t *testing.T) {
	r := newFakeRunner()
	r.on("dumpsys window | grep -E 'mCurrentFocus|mFocusedApp'", "  mCurrentFocus=null", nil)
	r.on("dumpsys activity activities | grep -E 'mResumedActivity|topResumedActivity'",
		"  topResumedActivity=ActivityRecord{1 u0 com.facebook.katana/.LoginActivity t3}", nil)
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))

	app, err := s.ForegroundApp(context.Background())
	if err != nil {
		t.Fatalf("ForegroundApp: %v", err)
	}
	if app != "com.facebook.katana" {
		t.Errorf("app = %q", app)
	}
}

func TestParseWmSize(t *testing.T) {
	w, h, err := parseWmSize("Physical size: 1080x2400")
	if err != nil || w != 1080 || h != 2400 {
		t.Errorf("physical = %d x %d, %v", w, h, err)
	}
	w, h, err = parseWmSize("Physical size: 1440x3200\nOverride size: 1080x2400")
	if err != nil || w != 1080 || h != 2400 {
		t.Errorf("override = %d x %d, %v", w, h, err)
	}
	if _, _, err := parseWmSize("error: no display"); err == nil {
		t.Error("expected parse error")
	}
}

func TestScreenSizeCached(t *testing.T) {
	r := newFakeRunner()
	r.on("wm size", "Physical size: 720x1280", nil)
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))
	for i := 0; i < 3; i++ {
		w, h, err := s.ScreenSize(context.Background())
		if err != nil || w != 720 || h != 1280 {
			t.Fatalf("ScreenSize = %d x %d, %v", w, h, err)
		}
	}
	if n := len(r.commands()); n != 1 {
		t.Errorf("expected 1 wm size call, got %d", n)
	}
}

func TestRootHandles(t *testing.T) {
	r := newFakeRunner()
	r.on(dumpCmd, testDump, nil)
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))

	root, err := s.Root(context.Background())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root.ChildCount() != 3 {
		t.Fatalf("ChildCount = %d", root.ChildCount())
	}
	child, err := root.Child(1)
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if child.Text() != "Skip Ad" || child.Description() != "skip" || !child.Actionable() {
		t.Errorf("child = %q %q %v", child.Text(), child.Description(), child.Actionable())
	}
	if s.LiveHandles() != 2 {
		t.Errorf("live = %d, want 2", s.LiveHandles())
	}

	if _, err := root.Child(5); err == nil {
		t.Error("expected out of range error")
	}
	if err := child.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	var rre *host.ResourceReleaseError
	if err := child.Release(); !errors.As(err, &rre) || !errors.Is(err, host.ErrHandleReleased) {
		t.Errorf("double release = %v", err)
	}
	root.Release()
	if s.LiveHandles() != 0 {
		t.Errorf("live = %d after release", s.LiveHandles())
	}
	if _, err := root.Child(0); err == nil {
		t.Error("released handle should refuse children")
	}
}

func TestRootDumpFailure(t *testing.T) {
	r := newFakeRunner()
	r.on(dumpCmd, `<?xml version="1.0"?><hierarchy/>`, nil)
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))

	_, err := s.Root(context.Background())
	var tae *host.TreeAccessError
	if !errors.As(err, &tae) || !errors.Is(err, host.ErrNoActiveWindow) {
		t.Errorf("expected TreeAccessError wrapping ErrNoActiveWindow, got %v", err)
	}
}

func TestPerformAction(t *testing.T) {
	r := newFakeRunner()
	r.on(dumpCmd, testDump, nil)
	r.on("input tap 980 2040", "", nil)
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))

	ref := types.NodeRef{
		Path:        []int{1},
		Text:        "Skip Ad",
		Description: "skip",
		Bounds:      types.Rect{Left: 900, Top: 2000, Right: 1060, Bottom: 2080},
		Actionable:  true,
	}
	ok, err := s.PerformAction(context.Background(), ref)
	if err != nil || !ok {
		t.Fatalf("PerformAction = %v, %v", ok, err)
	}
	cmds := r.commands()
	if cmds[len(cmds)-1] != "input tap 980 2040" {
		t.Errorf("commands = %q", cmds)
	}

	disabled := types.NodeRef{Path: []int{2}, Text: "Disabled", Bounds: types.Rect{Right: 10, Bottom: 10}}
	ok, err = s.PerformAction(context.Background(), disabled)
	if err != nil || ok {
		t.Errorf("disabled node: ok=%v err=%v", ok, err)
	}
}

func TestStrokeCommand(t *testing.T) {
	c := newTestClient(t, newFakeRunner(), clockwork.NewFakeClock())
	p := types.Point{X: 10, Y: 20}
	tests := []struct {
		name   string
		stroke host.Stroke
		want   string
	}{
		{"tap", host.Stroke{Path: []types.Point{p}, Duration: 100 * time.Millisecond}, "input tap 10 20"},
		{"long press", host.Stroke{Path: []types.Point{p}, Duration: 600 * time.Millisecond}, "input swipe 10 20 10 20 600"},
		{"swipe", host.Stroke{Path: []types.Point{p, {X: 10, Y: 900}}, Duration: 300 * time.Millisecond}, "input swipe 10 20 10 900 300"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.strokeCommand(tt.stroke); got != tt.want {
				t.Errorf("strokeCommand = %q, want %q", got, tt.want)
			}
		})
	}
}

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never completed")
		return nil
	}
}

func TestDispatchHonoursStartOffsets(t *testing.T) {
	r := newFakeRunner()
	r.on("input tap 5 5", "", nil)
	clk := clockwork.NewFakeClock()
	s := NewSurface(newTestClient(t, r, clk))

	g := host.Gesture{Label: "doubletap", Strokes: []host.Stroke{
		{Path: []types.Point{{X: 5, Y: 5}}, Start: 180 * time.Millisecond, Duration: 100 * time.Millisecond},
		{Path: []types.Point{{X: 5, Y: 5}}, Duration: 100 * time.Millisecond},
	}}
	done := make(chan error, 1)
	s.Dispatch(context.Background(), g, func(err error) { done <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("second stroke never waited: %v", err)
	}
	if n := len(r.commands()); n != 1 {
		t.Fatalf("expected first stroke before the wait, got %d commands", n)
	}
	clk.Advance(180 * time.Millisecond)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n := len(r.commands()); n != 2 {
		t.Errorf("expected 2 taps, got %d", n)
	}
}

func TestDispatchCancelled(t *testing.T) {
	r := newFakeRunner()
	r.on("input tap 5 5", "", nil)
	clk := clockwork.NewFakeClock()
	s := NewSurface(newTestClient(t, r, clk))

	ctx, cancel := context.WithCancel(context.Background())
	g := host.Gesture{Label: "late", Strokes: []host.Stroke{
		{Path: []types.Point{{X: 5, Y: 5}}, Start: time.Second, Duration: 100 * time.Millisecond},
	}}
	done := make(chan error, 1)
	s.Dispatch(ctx, g, func(err error) { done <- err })

	waitCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	clk.BlockUntilContext(waitCtx, 1)
	cancel()

	err := waitDone(t, done)
	if !host.IsCancelled(err) {
		t.Errorf("expected cancelled dispatch, got %v", err)
	}
	if n := len(r.commands()); n != 0 {
		t.Errorf("no stroke should run, got %q", r.commands())
	}
}

func TestDispatchRejected(t *testing.T) {
	r := newFakeRunner()
	r.on("input tap 1 1", "", errors.New("device offline"))
	s := NewSurface(newTestClient(t, r, clockwork.NewFakeClock()))

	done := make(chan error, 1)
	s.Dispatch(context.Background(), host.TapGesture(types.Point{X: 1, Y: 1}, 100*time.Millisecond), func(err error) { done <- err })
	err := waitDone(t, done)
	var gde *host.GestureDispatchError
	if !errors.As(err, &gde) || gde.Cancelled {
		t.Errorf("expected rejected dispatch, got %v", err)
	}

	s.Dispatch(context.Background(), host.Gesture{Label: "empty"}, func(err error) { done <- err })
	if err := waitDone(t, done); !errors.As(err, &gde) {
		t.Errorf("invalid gesture should be rejected, got %v", err)
	}
}
