package types

// NodeRef identifies a node of a past scan by its child-index path from the
// root, together with the attributes that were observed. Hosts use the
// attributes to check that the path still resolves to the same element.
type NodeRef struct {
	Path        []int  `json:"path"`
	Text        string `json:"text,omitempty"`
	Description string `json:"description,omitempty"`
	Bounds      Rect   `json:"bounds"`
	Actionable  bool   `json:"actionable"`
}

// UiNodeRecord is an immutable copy of one element of the live UI tree,
// taken during a scan pass.
type UiNodeRecord struct {
	Text        string `json:"text,omitempty"`
	Description string `json:"description,omitempty"`
	Bounds      Rect   `json:"bounds"`
	Actionable  bool   `json:"actionable"`
	Depth       int    `json:"depth"`
	ChildCount  int    `json:"childCount"`
	Path        []int  `json:"path"`
}

// Ref builds a NodeRef pointing back at the element this record was copied from
func (r UiNodeRecord) Ref() NodeRef {
	path := make([]int, len(r.Path))
	copy(path, r.Path)
	return NodeRef{
		Path:        path,
		Text:        r.Text,
		Description: r.Description,
		Bounds:      r.Bounds,
		Actionable:  r.Actionable,
	}
}

// Records is a flattened pre-order scan result
type Records []UiNodeRecord

func (r Records) Len() int                   { return len(r) }
func (r Records) Record(i int) *UiNodeRecord { return &r[i] }

// DetectionResult is the outcome of matching keywords against a snapshot
type DetectionResult struct {
	Matched  bool     `json:"matched"`
	Region   *Rect    `json:"region,omitempty"`
	Keyword  string   `json:"keyword,omitempty"`
	Source   *NodeRef `json:"source,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	// MarkerPresent is diagnostic only; it never gates Matched.
	MarkerPresent bool `json:"markerPresent,omitempty"`
}

// ScanState is owned by the scan scheduler
type ScanState struct {
	LastContentHash  uint64 `json:"lastContentHash"`
	LastActionMs     int64  `json:"lastActionMs"`
	InFlight         bool   `json:"inFlight"`
	ActivelyScanning bool   `json:"activelyScanning"`
}
