package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"

	"adsweep/pkg/engine"
	"adsweep/pkg/gesture"
	"adsweep/pkg/metrics"
	"adsweep/pkg/securestore"
	"adsweep/pkg/types"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockEngineApp is an in-memory EngineApp for tests
type MockEngineApp struct {
	mu    sync.Mutex
	Calls []MockCall

	StatusResult      engine.Status
	PauseError        error
	ResumeError       error
	EvaluateNowResult engine.TickReport
	EvaluateNowError  error

	TargetsData        []types.AppTarget
	AddKeywordError    error
	RemoveKeywordError error

	StartRecordingError error
	StopRecordingError  error
	recordingApp        string
	recording           bool
	RecordedMacro       gesture.Macro
	Macros              map[string]gesture.Macro
	DeleteMacroError    error

	TriggerHistoryResult []securestore.TriggerRecord
	TriggerHistoryError  error
}

// NewMockEngineApp returns a mock with two sample targets
func NewMockEngineApp() *MockEngineApp {
	return &MockEngineApp{
		StatusResult: engine.Status{Running: true, Policy: "cooldown", Period: "750ms"},
		TargetsData: []types.AppTarget{
			SampleTarget("com.google.android.youtube", "Skip Ad", "Sponsored"),
			SampleTarget("com.instagram.android", "Sponsored"),
		},
		Macros: make(map[string]gesture.Macro),
	}
}

// SampleTarget builds a target with default scroll settings
func SampleTarget(appID string, keywords ...string) types.AppTarget {
	return types.AppTarget{
		AppID:        appID,
		Keywords:     keywords,
		ScrollConfig: types.DefaultScrollConfig(),
	}
}

func (m *MockEngineApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns all recorded calls
func (m *MockEngineApp) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.Calls...)
}

// WasMethodCalled checks if a method was called
func (m *MockEngineApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.Calls {
		if call.Method == method {
			return true
		}
	}
	return false
}

// CallOrder returns the method names in call order
func (m *MockEngineApp) CallOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Method
	}
	return out
}

func (m *MockEngineApp) Status(ctx context.Context) engine.Status {
	m.recordCall("Status")
	return m.StatusResult
}

func (m *MockEngineApp) Pause(ctx context.Context) error {
	m.recordCall("Pause")
	return m.PauseError
}

func (m *MockEngineApp) Resume(ctx context.Context) error {
	m.recordCall("Resume")
	return m.ResumeError
}

func (m *MockEngineApp) EvaluateNow(ctx context.Context, appID string) (engine.TickReport, error) {
	m.recordCall("EvaluateNow", appID)
	rep := m.EvaluateNowResult
	if rep.AppID == "" {
		rep.AppID = appID
	}
	if rep.Outcome == "" {
		rep.Outcome = metrics.TickNoMatch
	}
	return rep, m.EvaluateNowError
}

func (m *MockEngineApp) Targets() []types.AppTarget {
	m.recordCall("Targets")
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AppTarget, len(m.TargetsData))
	for i, t := range m.TargetsData {
		out[i] = t.Clone()
	}
	return out
}

func (m *MockEngineApp) Target(appID string) (types.AppTarget, bool) {
	m.recordCall("Target", appID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.TargetsData {
		if t.AppID == appID {
			return t.Clone(), true
		}
	}
	return types.AppTarget{}, false
}

func (m *MockEngineApp) AddKeyword(appID, keyword string) (bool, error) {
	m.recordCall("AddKeyword", appID, keyword)
	if m.AddKeywordError != nil {
		return false, m.AddKeywordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.TargetsData {
		if t.AppID != appID {
			continue
		}
		for _, k := range t.Keywords {
			if strings.EqualFold(k, keyword) {
				return false, nil
			}
		}
		m.TargetsData[i].Keywords = append(m.TargetsData[i].Keywords, keyword)
		return true, nil
	}
	m.TargetsData = append(m.TargetsData, SampleTarget(appID, keyword))
	return true, nil
}

func (m *MockEngineApp) RemoveKeyword(appID, keyword string) (bool, error) {
	m.recordCall("RemoveKeyword", appID, keyword)
	if m.RemoveKeywordError != nil {
		return false, m.RemoveKeywordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.TargetsData {
		if t.AppID != appID {
			continue
		}
		for j, k := range t.Keywords {
			if strings.EqualFold(k, keyword) {
				m.TargetsData[i].Keywords = append(t.Keywords[:j:j], t.Keywords[j+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MockEngineApp) StartMacroRecording(ctx context.Context, appID string) error {
	m.recordCall("StartMacroRecording", appID)
	if m.StartRecordingError != nil {
		return m.StartRecordingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return gesture.ErrAlreadyRecording
	}
	m.recording = true
	m.recordingApp = appID
	return nil
}

func (m *MockEngineApp) StopMacroRecording(ctx context.Context) (string, gesture.Macro, error) {
	m.recordCall("StopMacroRecording")
	if m.StopRecordingError != nil {
		return "", nil, m.StopRecordingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return "", nil, gesture.ErrNotRecording
	}
	m.recording = false
	if len(m.RecordedMacro) == 0 {
		return m.recordingApp, nil, gesture.ErrEmptyMacro
	}
	m.Macros[m.recordingApp] = m.RecordedMacro
	return m.recordingApp, m.RecordedMacro, nil
}

func (m *MockEngineApp) RecordingStatus() (string, int, bool) {
	m.recordCall("RecordingStatus")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordingApp, len(m.RecordedMacro), m.recording
}

func (m *MockEngineApp) Macro(appID string) (gesture.Macro, bool) {
	m.recordCall("Macro", appID)
	m.mu.Lock()
	defer m.mu.Unlock()
	mac, ok := m.Macros[appID]
	return mac, ok
}

func (m *MockEngineApp) DeleteMacro(appID string) (bool, error) {
	m.recordCall("DeleteMacro", appID)
	if m.DeleteMacroError != nil {
		return false, m.DeleteMacroError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Macros[appID]
	delete(m.Macros, appID)
	return ok, nil
}

func (m *MockEngineApp) TriggerHistory(appID string, limit int) ([]securestore.TriggerRecord, error) {
	m.recordCall("TriggerHistory", appID, limit)
	return m.TriggerHistoryResult, m.TriggerHistoryError
}

func (m *MockEngineApp) Version() string {
	m.recordCall("Version")
	return "test"
}

// Common errors for testing
var (
	ErrDeviceOffline = errors.New("device offline")
	ErrStoreFailed   = errors.New("store write failed")
)
