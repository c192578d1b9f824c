// Package gesture records, stores and replays touch macros and turns
// detection results into gestures on the host surface.
package gesture

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a macro action
type Kind int

const (
	KindTap Kind = iota
	KindDoubleTap
	KindScroll
)

func (k Kind) String() string {
	switch k {
	case KindDoubleTap:
		return "doubletap"
	case KindScroll:
		return "scroll"
	default:
		return "tap"
	}
}

// Action is one macro step. X1/Y1 are only meaningful for KindScroll.
type Action struct {
	Kind Kind `json:"kind"`
	X    int  `json:"x"`
	Y    int  `json:"y"`
	X1   int  `json:"x1,omitempty"`
	Y1   int  `json:"y1,omitempty"`
}

func Tap(x, y int) Action       { return Action{Kind: KindTap, X: x, Y: y} }
func DoubleTap(x, y int) Action { return Action{Kind: KindDoubleTap, X: x, Y: y} }

func Scroll(x0, y0, x1, y1 int) Action {
	return Action{Kind: KindScroll, X: x0, Y: y0, X1: x1, Y1: y1}
}

// String renders the wire form, e.g. "tap:10,20" or "scroll:0,900,0,300"
func (a Action) String() string {
	if a.Kind == KindScroll {
		return fmt.Sprintf("scroll:%d,%d,%d,%d", a.X, a.Y, a.X1, a.Y1)
	}
	return fmt.Sprintf("%s:%d,%d", a.Kind, a.X, a.Y)
}

// Macro is an ordered list of actions
type Macro []Action

// String joins the actions with ';'
func (m Macro) String() string {
	parts := make([]string, len(m))
	for i, a := range m {
		parts[i] = a.String()
	}
	return strings.Join(parts, ";")
}

// ParseMacro is the inverse of Macro.String. Blank segments are ignored.
func ParseMacro(s string) (Macro, error) {
	var m Macro
	for i, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		a, err := parseAction(seg)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		m = append(m, a)
	}
	return m, nil
}

func parseAction(seg string) (Action, error) {
	tag, args, ok := strings.Cut(seg, ":")
	if !ok {
		return Action{}, fmt.Errorf("missing ':' in %q", seg)
	}
	fields := strings.Split(args, ",")
	nums := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Action{}, fmt.Errorf("bad coordinate %q in %q", f, seg)
		}
		nums[i] = n
	}

	want := 2
	var a Action
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "tap":
		a.Kind = KindTap
	case "doubletap":
		a.Kind = KindDoubleTap
	case "scroll":
		a.Kind = KindScroll
		want = 4
	default:
		return Action{}, fmt.Errorf("unknown action %q", tag)
	}
	if len(nums) != want {
		return Action{}, fmt.Errorf("%s needs %d coordinates, got %d", a.Kind, want, len(nums))
	}
	a.X, a.Y = nums[0], nums[1]
	if want == 4 {
		a.X1, a.Y1 = nums[2], nums[3]
	}
	return a, nil
}
