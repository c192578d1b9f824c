// Package hosttest provides an in-memory host.Surface for tests
package hosttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

// Node is a node of the fake UI tree
type Node struct {
	Text      string
	Desc      string
	Bounds    types.Rect
	Clickable bool
	Children  []*Node

	// AcquireErr fails acquisition of this node as a child
	AcquireErr error
	// ReleaseErr is returned (once) when this node's handle is released
	ReleaseErr error
}

// Surface is a scriptable host.Surface. Zero values are usable after NewSurface.
type Surface struct {
	mu sync.Mutex

	App     string
	AppErr  error
	Tree    *Node
	RootErr error
	Width   int
	Height  int

	ActionResult bool
	ActionErr    error

	// AutoComplete completes every dispatch asynchronously with DispatchErr.
	// When false, dispatches stay pending until Complete is called.
	AutoComplete bool
	DispatchErr  error

	gestures []host.Gesture
	pending  []func(error)
	actions  []types.NodeRef
	roots    int
	acquired int
	released int
	errors   []error
}

// NewSurface returns a 1080x2400 surface that completes gestures automatically
func NewSurface() *Surface {
	return &Surface{
		Width:        1080,
		Height:       2400,
		AutoComplete: true,
	}
}

// SetTree swaps the UI tree
func (s *Surface) SetTree(root *Node) {
	s.mu.Lock()
	s.Tree = root
	s.mu.Unlock()
}

// SetApp swaps the foreground app
func (s *Surface) SetApp(app string) {
	s.mu.Lock()
	s.App = app
	s.mu.Unlock()
}

func (s *Surface) ForegroundApp(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppErr != nil {
		return "", s.AppErr
	}
	return s.App, nil
}

func (s *Surface) Root(ctx context.Context) (host.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &host.TreeAccessError{Op: "root", Err: err}
	}
	if s.RootErr != nil {
		return nil, &host.TreeAccessError{Op: "root", Err: s.RootErr}
	}
	if s.Tree == nil {
		return nil, &host.TreeAccessError{Op: "root", Err: host.ErrNoActiveWindow}
	}
	s.roots++
	s.acquired++
	return &handle{s: s, n: s.Tree}, nil
}

func (s *Surface) PerformAction(ctx context.Context, ref types.NodeRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, ref)
	if s.ActionErr != nil {
		return false, s.ActionErr
	}
	n := s.Tree
	for _, idx := range ref.Path {
		if n == nil || idx < 0 || idx >= len(n.Children) {
			return false, nil
		}
		n = n.Children[idx]
	}
	if n == nil || n.Text != ref.Text || n.Desc != ref.Description || n.Bounds != ref.Bounds || !n.Clickable {
		return false, nil
	}
	return s.ActionResult, nil
}

func (s *Surface) ScreenSize(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Width, s.Height, nil
}

func (s *Surface) Dispatch(ctx context.Context, g host.Gesture, done func(error)) {
	s.mu.Lock()
	s.gestures = append(s.gestures, g)
	auto := s.AutoComplete
	err := s.DispatchErr
	if !auto {
		s.pending = append(s.pending, done)
	}
	s.mu.Unlock()

	if auto {
		go done(err)
	}
}

// Complete finishes the oldest pending dispatch. It reports false when
// nothing is pending.
func (s *Surface) Complete(err error) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	done := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	done(err)
	return true
}

// Gestures returns every dispatched gesture in order
func (s *Surface) Gestures() []host.Gesture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]host.Gesture(nil), s.gestures...)
}

// WaitGestures polls until at least n gestures were dispatched
func (s *Surface) WaitGestures(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.Gestures()) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return len(s.Gestures()) >= n
}

// Pending returns the number of dispatches awaiting Complete
func (s *Surface) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Actions returns every PerformAction request in order
func (s *Surface) Actions() []types.NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.NodeRef(nil), s.actions...)
}

// Roots is the number of successful root acquisitions
func (s *Surface) Roots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roots
}

// Live is the number of acquired handles not yet released
func (s *Surface) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired - s.released
}

// Acquired is the total number of handles handed out
func (s *Surface) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// ReleaseErrors returns errors produced by Release calls
func (s *Surface) ReleaseErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

type handle struct {
	s        *Surface
	n        *Node
	released bool
}

func (h *handle) Text() string        { return h.n.Text }
func (h *handle) Description() string { return h.n.Desc }
func (h *handle) Bounds() types.Rect  { return h.n.Bounds }
func (h *handle) Actionable() bool    { return h.n.Clickable }
func (h *handle) ChildCount() int     { return len(h.n.Children) }

func (h *handle) Child(i int) (host.Node, error) {
	if i < 0 || i >= len(h.n.Children) {
		return nil, &host.TreeAccessError{Op: "child", Err: errors.New("child index out of range")}
	}
	c := h.n.Children[i]
	if c == nil {
		return nil, &host.TreeAccessError{Op: "child", Err: host.ErrNoActiveWindow}
	}
	if c.AcquireErr != nil {
		return nil, &host.TreeAccessError{Op: "child", Err: c.AcquireErr}
	}
	h.s.mu.Lock()
	h.s.acquired++
	h.s.mu.Unlock()
	return &handle{s: h.s, n: c}, nil
}

func (h *handle) Release() error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.released {
		err := &host.ResourceReleaseError{Err: host.ErrHandleReleased}
		h.s.errors = append(h.s.errors, err)
		return err
	}
	h.released = true
	h.s.released++
	if h.n.ReleaseErr != nil {
		err := &host.ResourceReleaseError{Err: h.n.ReleaseErr}
		h.s.errors = append(h.s.errors, err)
		return err
	}
	return nil
}
