// Package host defines the boundary between the detection engine and the
// device automation surface: live UI node handles, foreground app identity
// and asynchronous gesture dispatch.
package host

import (
	"context"
	"fmt"
	"time"

	"adsweep/pkg/types"
)

// Node is a live handle into the host UI tree. Every handle obtained from
// Surface.Root or Node.Child must be released exactly once.
type Node interface {
	Text() string
	Description() string
	Bounds() types.Rect
	Actionable() bool
	ChildCount() int
	Child(i int) (Node, error)
	Release() error
}

// Surface is the host automation surface for one device
type Surface interface {
	// ForegroundApp returns the identity of the app currently visible
	ForegroundApp(ctx context.Context) (string, error)
	// Root acquires the root node of the active window
	Root(ctx context.Context) (Node, error)
	// PerformAction invokes the primary action of the referenced node.
	// It returns false when the node is gone, changed or not actionable.
	PerformAction(ctx context.Context, ref types.NodeRef) (bool, error)
	// ScreenSize returns the display size in pixels
	ScreenSize(ctx context.Context) (width, height int, err error)
	// Dispatch sends a gesture without blocking. done is called exactly
	// once: nil on completion, a *GestureDispatchError otherwise.
	Dispatch(ctx context.Context, g Gesture, done func(error))
}

// Stroke is one continuous pointer path. Start is the offset from the
// beginning of the gesture.
type Stroke struct {
	Path     []types.Point `json:"path"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Gesture is an ordered set of strokes dispatched as one unit
type Gesture struct {
	Label   string   `json:"label"`
	Strokes []Stroke `json:"strokes"`
}

// TapGesture builds a single point stroke
func TapGesture(p types.Point, d time.Duration) Gesture {
	return Gesture{
		Label:   "tap",
		Strokes: []Stroke{{Path: []types.Point{p}, Duration: d}},
	}
}

// SwipeGesture builds a straight-line stroke from one point to another
func SwipeGesture(from, to types.Point, d time.Duration) Gesture {
	return Gesture{
		Label:   "swipe",
		Strokes: []Stroke{{Path: []types.Point{from, to}, Duration: d}},
	}
}

// Validate checks that every stroke has a path and a positive duration
func (g Gesture) Validate() error {
	if len(g.Strokes) == 0 {
		return fmt.Errorf("gesture %q has no strokes", g.Label)
	}
	for i, s := range g.Strokes {
		if len(s.Path) == 0 || len(s.Path) > 2 {
			return fmt.Errorf("gesture %q stroke %d: path must have 1 or 2 points, got %d", g.Label, i, len(s.Path))
		}
		if s.Duration <= 0 {
			return fmt.Errorf("gesture %q stroke %d: duration must be positive", g.Label, i)
		}
		if s.Start < 0 {
			return fmt.Errorf("gesture %q stroke %d: negative start offset", g.Label, i)
		}
	}
	return nil
}
