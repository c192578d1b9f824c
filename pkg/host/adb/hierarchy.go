package adb

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"adsweep/pkg/host"
	"adsweep/pkg/types"
)

const (
	dumpFile      = "/data/local/tmp/adsweep-view.xml"
	dumpRetries   = 3
	dumpRetryWait = 500 * time.Millisecond
)

// uiNode mirrors one <node> of a uiautomator dump
type uiNode struct {
	XMLName     xml.Name `xml:"node"`
	Text        string   `xml:"text,attr"`
	ResourceID  string   `xml:"resource-id,attr"`
	Class       string   `xml:"class,attr"`
	Package     string   `xml:"package,attr"`
	ContentDesc string   `xml:"content-desc,attr"`
	Clickable   string   `xml:"clickable,attr"`
	Enabled     string   `xml:"enabled,attr"`
	Bounds      string   `xml:"bounds,attr"`
	Nodes       []uiNode `xml:"node"`

	rect types.Rect
}

type uiHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []uiNode `xml:"node"`
}

func (n *uiNode) actionable() bool {
	return n.Clickable == "true" && n.Enabled != "false"
}

// resolveBounds parses every bounds attribute once; bad values become empty rects
func (n *uiNode) resolveBounds() {
	if r, err := types.ParseBounds(n.Bounds); err == nil {
		n.rect = r
	}
	for i := range n.Nodes {
		n.Nodes[i].resolveBounds()
	}
}

// cleanDump cuts adb noise around the document and repairs bare ampersands
// that some apps leave unescaped in text attributes.
func cleanDump(raw string) string {
	if i := strings.Index(raw, "<?xml"); i != -1 {
		raw = raw[i:]
	}
	if i := strings.LastIndex(raw, ">"); i != -1 && i < len(raw)-1 {
		raw = raw[:i+1]
	}
	s := strings.ReplaceAll(raw, "&", "&amp;")
	for _, ent := range []string{"amp;", "lt;", "gt;", "quot;", "apos;", "#"} {
		s = strings.ReplaceAll(s, "&amp;"+ent, "&"+ent)
	}
	return s
}

// parseHierarchy turns a dump into a single root, wrapping multiple
// top-level windows in a synthetic container.
func parseHierarchy(raw string) (*uiNode, error) {
	var h uiHierarchy
	if err := xml.Unmarshal([]byte(cleanDump(raw)), &h); err != nil {
		return nil, fmt.Errorf("failed to parse UI XML (length: %d): %w", len(raw), err)
	}
	var root *uiNode
	switch len(h.Nodes) {
	case 0:
		return nil, host.ErrNoActiveWindow
	case 1:
		root = &h.Nodes[0]
	default:
		root = &uiNode{
			Class:   "android.view.View",
			Package: h.Nodes[0].Package,
			Bounds:  "[0,0][0,0]",
			Nodes:   h.Nodes,
		}
	}
	root.resolveBounds()
	return root, nil
}

// dumpHierarchy runs uiautomator, retrying flaky dumps after killing any
// stuck uiautomator process.
func (c *Client) dumpHierarchy(ctx context.Context) (*uiNode, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var (
		out string
		err error
	)
	for i := 0; i < dumpRetries; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i > 0 {
			c.Shell(ctx, "pkill uiautomator")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(dumpRetryWait):
			}
		}
		out, err = c.Shell(ctx, fmt.Sprintf("uiautomator dump %s && cat %s", dumpFile, dumpFile))
		if err == nil && strings.Contains(out, "<?xml") {
			return parseHierarchy(out)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug().Int("retry", i+1).Int("maxRetries", dumpRetries).Err(err).Msg("UI dump retry")
	}
	if err == nil {
		err = errors.New("dump produced no XML")
	}
	return nil, fmt.Errorf("failed to dump UI after %d attempts: %w", dumpRetries, err)
}

// nodeHandle is a host.Node over one element of a parsed dump
type nodeHandle struct {
	n        *uiNode
	live     *atomic.Int64
	released atomic.Bool
}

func newHandle(n *uiNode, live *atomic.Int64) *nodeHandle {
	live.Add(1)
	return &nodeHandle{n: n, live: live}
}

func (h *nodeHandle) Text() string        { return h.n.Text }
func (h *nodeHandle) Description() string { return h.n.ContentDesc }
func (h *nodeHandle) Bounds() types.Rect  { return h.n.rect }
func (h *nodeHandle) Actionable() bool    { return h.n.actionable() }
func (h *nodeHandle) ChildCount() int     { return len(h.n.Nodes) }

func (h *nodeHandle) Child(i int) (host.Node, error) {
	if h.released.Load() {
		return nil, &host.TreeAccessError{Op: "child", Err: host.ErrHandleReleased}
	}
	if i < 0 || i >= len(h.n.Nodes) {
		return nil, &host.TreeAccessError{Op: "child", Err: fmt.Errorf("child index %d out of range (%d children)", i, len(h.n.Nodes))}
	}
	return newHandle(&h.n.Nodes[i], h.live), nil
}

func (h *nodeHandle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return &host.ResourceReleaseError{Err: host.ErrHandleReleased}
	}
	h.live.Add(-1)
	return nil
}

// resolve walks a child-index path and checks the element still carries
// the attributes seen when the path was recorded.
func resolve(root *uiNode, ref types.NodeRef) *uiNode {
	n := root
	for _, idx := range ref.Path {
		if idx < 0 || idx >= len(n.Nodes) {
			return nil
		}
		n = &n.Nodes[idx]
	}
	if n.Text != ref.Text || n.ContentDesc != ref.Description || n.rect != ref.Bounds {
		return nil
	}
	return n
}
