package adb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

// Surface adapts a Client to host.Surface
type Surface struct {
	c    *Client
	live atomic.Int64

	sizeMu        sync.Mutex
	width, height int
}

var _ host.Surface = (*Surface)(nil)

func NewSurface(c *Client) *Surface {
	return &Surface{c: c}
}

// LiveHandles is the number of node handles not yet released
func (s *Surface) LiveHandles() int64 { return s.live.Load() }

var (
	focusLinePattern = regexp.MustCompile(`(mCurrentFocus|mFocusedApp|mResumedActivity|topResumedActivity)[=:]\s*(.*)`)
	componentPattern = regexp.MustCompile(`\s([a-zA-Z][\w]*(?:\.[\w]+)+)/`)
)

// parseFocus extracts the package of the focused window from dumpsys
// output. mCurrentFocus wins; popups such as the status bar carry no
// component, so later lines act as fallback.
func parseFocus(out string) string {
	found := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		m := focusLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, ok := found[m[1]]; ok {
			continue
		}
		if c := componentPattern.FindStringSubmatch(" " + m[2]); c != nil {
			found[m[1]] = c[1]
		}
	}
	for _, key := range []string{"mCurrentFocus", "mFocusedApp", "topResumedActivity", "mResumedActivity"} {
		if pkg, ok := found[key]; ok {
			return pkg
		}
	}
	return ""
}

func (s *Surface) ForegroundApp(ctx context.Context) (string, error) {
	out, err := s.c.Shell(ctx, "dumpsys window | grep -E 'mCurrentFocus|mFocusedApp'")
	if err == nil {
		if pkg := parseFocus(out); pkg != "" {
			return pkg, nil
		}
	}
	out, err = s.c.Shell(ctx, "dumpsys activity activities | grep -E 'mResumedActivity|topResumedActivity'")
	if err != nil {
		return "", fmt.Errorf("failed to read focused app: %w", err)
	}
	return parseFocus(out), nil
}

func (s *Surface) Root(ctx context.Context) (host.Node, error) {
	root, err := s.c.dumpHierarchy(ctx)
	if err != nil {
		return nil, &host.TreeAccessError{Op: "root", Err: err}
	}
	return newHandle(root, &s.live), nil
}

// PerformAction re-dumps the tree, checks the referenced element is still
// the one that was scanned and taps its centre.
func (s *Surface) PerformAction(ctx context.Context, ref types.NodeRef) (bool, error) {
	root, err := s.c.dumpHierarchy(ctx)
	if err != nil {
		return false, &host.TreeAccessError{Op: "perform action", Err: err}
	}
	n := resolve(root, ref)
	if n == nil || !n.actionable() || n.rect.Empty() {
		s.c.logger.Debug().Ints("path", ref.Path).Msg("action target no longer matches")
		return false, nil
	}
	p := n.rect.Center()
	if _, err := s.c.Shell(ctx, fmt.Sprintf("input tap %d %d", p.X, p.Y)); err != nil {
		return false, err
	}
	return true, nil
}

var wmSizePattern = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// parseWmSize reads `wm size`; an override size wins over the physical one
func parseWmSize(out string) (int, int, error) {
	var w, h int
	for _, m := range wmSizePattern.FindAllStringSubmatch(out, -1) {
		if w != 0 && m[1] != "Override" {
			continue
		}
		w, _ = strconv.Atoi(m[2])
		h, _ = strconv.Atoi(m[3])
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("could not parse screen size from %q", strings.TrimSpace(out))
	}
	return w, h, nil
}

func (s *Surface) ScreenSize(ctx context.Context) (int, int, error) {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	if s.width > 0 {
		return s.width, s.height, nil
	}
	out, err := s.c.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	w, h, err := parseWmSize(out)
	if err != nil {
		return 0, 0, err
	}
	s.width, s.height = w, h
	return w, h, nil
}

// strokeCommand renders one stroke as an `input` invocation. Single point
// strokes longer than a tap become a stationary swipe (long press).
func (c *Client) strokeCommand(st host.Stroke) string {
	from := st.Path[0]
	to := from
	if len(st.Path) > 1 {
		to = st.Path[len(st.Path)-1]
	}
	if from == to && st.Duration <= c.tapThreshold {
		return fmt.Sprintf("input tap %d %d", from.X, from.Y)
	}
	return fmt.Sprintf("input swipe %d %d %d %d %d", from.X, from.Y, to.X, to.Y, st.Duration.Milliseconds())
}

// Dispatch runs the strokes in start order on a goroutine, waiting for
// each stroke's offset before issuing it.
func (s *Surface) Dispatch(ctx context.Context, g host.Gesture, done func(error)) {
	if err := g.Validate(); err != nil {
		go done(&host.GestureDispatchError{Gesture: g.Label, Err: err})
		return
	}
	strokes := append([]host.Stroke(nil), g.Strokes...)
	sort.SliceStable(strokes, func(i, j int) bool { return strokes[i].Start < strokes[j].Start })

	go func() {
		done(s.runStrokes(ctx, g.Label, strokes))
	}()
}

func (s *Surface) runStrokes(ctx context.Context, label string, strokes []host.Stroke) error {
	begin := s.c.clock.Now()
	for _, st := range strokes {
		if wait := st.Start - s.c.clock.Since(begin); wait > 0 {
			select {
			case <-ctx.Done():
				return &host.GestureDispatchError{Gesture: label, Cancelled: true, Err: ctx.Err()}
			case <-s.c.clock.After(wait):
			}
		}
		if _, err := s.c.Shell(ctx, s.c.strokeCommand(st)); err != nil {
			if ctx.Err() != nil {
				return &host.GestureDispatchError{Gesture: label, Cancelled: true, Err: ctx.Err()}
			}
			return &host.GestureDispatchError{Gesture: label, Err: err}
		}
	}
	return nil
}
