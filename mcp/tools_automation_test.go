package mcp

import (
	"context"
	"strings"
	"testing"

	"adsweep/pkg/engine"
	"adsweep/pkg/metrics"
	"adsweep/pkg/securestore"
)

func TestHandleEngineStatus(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	result, err := server.handleEngineStatus(context.Background(), makeToolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	text := getTextContent(result)
	if !strings.Contains(text, `"running": true`) || !strings.Contains(text, `"policy": "cooldown"`) {
		t.Errorf("unexpected status: %s", text)
	}
}

func TestHandleEnginePauseResume(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	result, _ := server.handleEnginePause(context.Background(), makeToolRequest(nil))
	if result.IsError || !strings.Contains(getTextContent(result), "paused") {
		t.Errorf("pause: %s", getTextContent(result))
	}
	result, _ = server.handleEngineResume(context.Background(), makeToolRequest(nil))
	if result.IsError || !strings.Contains(getTextContent(result), "resumed") {
		t.Errorf("resume: %s", getTextContent(result))
	}

	mock.PauseError = engine.ErrNotRunning
	result, _ = server.handleEnginePause(context.Background(), makeToolRequest(nil))
	if !result.IsError {
		t.Error("Expected error result when engine is stopped")
	}
}

func TestHandleEvaluateNow(t *testing.T) {
	mock := NewMockEngineApp()
	mock.EvaluateNowResult = engine.TickReport{Outcome: metrics.TickTriggered, Keyword: "Skip Ad", TriggerID: "t-1"}
	server := newTestServer(mock)

	result, err := server.handleEvaluateNow(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.google.android.youtube",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	text := getTextContent(result)
	if !strings.Contains(text, `"outcome": "triggered"`) || !strings.Contains(text, "com.google.android.youtube") {
		t.Errorf("unexpected report: %s", text)
	}
	calls := mock.GetCalls()
	if last := calls[len(calls)-1]; last.Method != "EvaluateNow" || last.Args[0] != "com.google.android.youtube" {
		t.Errorf("unexpected call: %+v", last)
	}
}

func TestHandleEvaluateNow_DefaultsToForeground(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	server.handleEvaluateNow(context.Background(), makeToolRequest(nil))
	calls := mock.GetCalls()
	if last := calls[len(calls)-1]; last.Args[0] != "" {
		t.Errorf("expected empty app id, got %v", last.Args[0])
	}
}

func TestHandleEvaluateNow_NotRunning(t *testing.T) {
	mock := NewMockEngineApp()
	mock.EvaluateNowError = engine.ErrNotRunning
	server := newTestServer(mock)

	result, _ := server.handleEvaluateNow(context.Background(), makeToolRequest(nil))
	if !result.IsError || !strings.Contains(getTextContent(result), "not running") {
		t.Errorf("expected not running error, got %s", getTextContent(result))
	}
}

func TestHandleTriggerHistory(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	result, _ := server.handleTriggerHistory(context.Background(), makeToolRequest(nil))
	if !strings.Contains(getTextContent(result), "No triggers") {
		t.Errorf("expected empty message, got %s", getTextContent(result))
	}

	mock.TriggerHistoryResult = []securestore.TriggerRecord{
		{ID: "t-2", AppID: "com.instagram.android", Keyword: "Sponsored", Mode: "tap", Outcome: "completed"},
	}
	result, _ = server.handleTriggerHistory(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.instagram.android",
		"limit":  float64(5),
	}))
	if !strings.Contains(getTextContent(result), "t-2") {
		t.Errorf("expected trigger in output, got %s", getTextContent(result))
	}
	calls := mock.GetCalls()
	last := calls[len(calls)-1]
	if last.Args[0] != "com.instagram.android" || last.Args[1] != 5 {
		t.Errorf("unexpected args: %+v", last.Args)
	}
}

func TestHandleTriggerHistory_LimitBounds(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	server.handleTriggerHistory(context.Background(), makeToolRequest(map[string]interface{}{"limit": float64(10000)}))
	calls := mock.GetCalls()
	if last := calls[len(calls)-1]; last.Args[1] != 50 {
		t.Errorf("out of range limit should fall back to 50, got %v", last.Args[1])
	}
}
