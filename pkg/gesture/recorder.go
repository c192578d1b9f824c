package gesture

import (
	"errors"
	"sync"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("not recording")
	ErrEmptyMacro       = errors.New("macro has no actions")
)

// Recorder turns pointer-down events into a Macro. States: idle, recording.
type Recorder struct {
	mu        sync.Mutex
	recording bool
	appID     string
	buf       Macro
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a new recording for appID, discarding any previous buffer
func (r *Recorder) Start(appID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	r.recording = true
	r.appID = appID
	r.buf = nil
	return nil
}

// OnPointerDown appends a tap. Every event is kept, in arrival order;
// events outside a recording are dropped.
func (r *Recorder) OnPointerDown(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.buf = append(r.buf, Tap(x, y))
}

// Stop ends the recording and returns what was captured
func (r *Recorder) Stop() (string, Macro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return "", nil, ErrNotRecording
	}
	r.recording = false
	m := r.buf
	r.buf = nil
	return r.appID, m, nil
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Status returns the app being recorded and the actions captured so far
func (r *Recorder) Status() (appID string, actions int, recording bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appID, len(r.buf), r.recording
}
