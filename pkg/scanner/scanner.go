// Package scanner flattens the live UI tree into an ordered list of
// immutable records.
package scanner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

const (
	DefaultMaxDepth = 64
	DefaultMaxNodes = 4000
)

// Options bounds a single pass
type Options struct {
	// MaxDepth is the deepest level recorded; the root is depth 0
	MaxDepth int
	// MaxNodes caps the number of records
	MaxNodes int
}

// Result is one scan pass
type Result struct {
	Records   types.Records
	Truncated bool // MaxNodes reached
	DepthCut  bool // some subtree below MaxDepth was skipped
}

// Scanner performs pre-order traversals. It keeps no state between passes.
type Scanner struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Scanner {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	return &Scanner{
		opts:   opts,
		logger: logger.With().Str("module", "scanner").Logger(),
	}
}

type frame struct {
	node  host.Node
	path  []int
	depth int
	owned bool
}

// Scan walks the tree under root. The caller keeps ownership of root;
// every descendant handle acquired here is released before Scan returns,
// on success, error or cancellation alike.
func (s *Scanner) Scan(ctx context.Context, root host.Node) (res Result, err error) {
	if root == nil {
		return res, &host.TreeAccessError{Op: "scan", Err: host.ErrNoActiveWindow}
	}

	stack := []frame{{node: root}}
	var current *frame
	defer func() {
		if current != nil && current.owned {
			s.release(current.node)
		}
		for i := range stack {
			if stack[i].owned {
				s.release(stack[i].node)
			}
		}
	}()

	for len(stack) > 0 {
		if cerr := ctx.Err(); cerr != nil {
			return Result{}, fmt.Errorf("scan aborted: %w", cerr)
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		current = &f

		if len(res.Records) >= s.opts.MaxNodes {
			res.Truncated = true
			break
		}

		n := f.node
		childCount := n.ChildCount()
		res.Records = append(res.Records, types.UiNodeRecord{
			Text:        n.Text(),
			Description: n.Description(),
			Bounds:      n.Bounds(),
			Actionable:  n.Actionable(),
			Depth:       f.depth,
			ChildCount:  childCount,
			Path:        f.path,
		})

		if childCount > 0 && f.depth >= s.opts.MaxDepth {
			res.DepthCut = true
		} else {
			// pushed in reverse so the first child is popped next
			for i := childCount - 1; i >= 0; i-- {
				child, cerr := n.Child(i)
				if cerr != nil {
					return Result{}, cerr
				}
				if child == nil {
					continue
				}
				path := make([]int, len(f.path)+1)
				copy(path, f.path)
				path[len(f.path)] = i
				stack = append(stack, frame{node: child, path: path, depth: f.depth + 1, owned: true})
			}
		}

		if f.owned {
			s.release(n)
		}
		current = nil
	}

	if res.Truncated || res.DepthCut {
		s.logger.Debug().
			Int("nodes", len(res.Records)).
			Bool("truncated", res.Truncated).
			Bool("depth_cut", res.DepthCut).
			Msg("scan bounded")
	}
	return res, nil
}

// ScanSurface acquires the active window root, scans it and releases it
func (s *Scanner) ScanSurface(ctx context.Context, surface host.Surface) (Result, error) {
	root, err := surface.Root(ctx)
	if err != nil {
		return Result{}, err
	}
	if root == nil {
		return Result{}, &host.TreeAccessError{Op: "root", Err: host.ErrNoActiveWindow}
	}
	defer s.release(root)
	return s.Scan(ctx, root)
}

// release failures cannot be acted upon mid-pass; they are logged only
func (s *Scanner) release(n host.Node) {
	if err := n.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("node release failed")
	}
}
