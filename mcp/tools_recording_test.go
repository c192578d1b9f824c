package mcp

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"adsweep/pkg/engine"
	"adsweep/pkg/gesture"
)

func TestHandleMacroRecordStart_PausesFirst(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	result, err := server.handleMacroRecordStart(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.ss.android.ugc.aweme",
	}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getTextContent(result))
	}

	order := mock.CallOrder()
	want := []string{"Version", "Pause", "StartMacroRecording"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("call order = %v, want %v", order, want)
	}
}

func TestHandleMacroRecordStart_EngineStopped(t *testing.T) {
	mock := NewMockEngineApp()
	mock.PauseError = engine.ErrNotRunning
	server := newTestServer(mock)

	result, _ := server.handleMacroRecordStart(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.ss.android.ugc.aweme",
	}))
	if result.IsError {
		t.Errorf("recording should start without a running engine: %s", getTextContent(result))
	}
}

func TestHandleMacroRecordStart_Errors(t *testing.T) {
	mock := NewMockEngineApp()
	server := newTestServer(mock)

	result, _ := server.handleMacroRecordStart(context.Background(), makeToolRequest(nil))
	if !result.IsError {
		t.Error("Expected error result for missing app_id")
	}

	mock.StartRecordingError = ErrDeviceOffline
	result, _ = server.handleMacroRecordStart(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.ss.android.ugc.aweme",
	}))
	if !result.IsError {
		t.Fatal("Expected error result")
	}
	// scanning must not stay paused when recording never started
	order := mock.CallOrder()
	if order[len(order)-1] != "Resume" {
		t.Errorf("expected Resume after failed start, got %v", order)
	}
}

func TestHandleMacroRecordStop(t *testing.T) {
	mock := NewMockEngineApp()
	mock.RecordedMacro = gesture.Macro{gesture.Tap(540, 1800), gesture.Tap(980, 2040)}
	server := newTestServer(mock)

	server.handleMacroRecordStart(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.ss.android.ugc.aweme",
	}))
	result, _ := server.handleMacroRecordStop(context.Background(), makeToolRequest(nil))
	text := getTextContent(result)
	if result.IsError || !strings.Contains(text, "tap:540,1800;tap:980,2040") {
		t.Errorf("unexpected stop result: %s", text)
	}
	order := mock.CallOrder()
	if order[len(order)-1] != "Resume" {
		t.Errorf("expected Resume after stop, got %v", order)
	}
	if _, ok := mock.Macros["com.ss.android.ugc.aweme"]; !ok {
		t.Error("macro should be saved")
	}
}

func TestHandleMacroRecordStop_NotRecording(t *testing.T) {
	server := newTestServer(NewMockEngineApp())

	result, _ := server.handleMacroRecordStop(context.Background(), makeToolRequest(nil))
	if !result.IsError || !strings.Contains(getTextContent(result), "not recording") {
		t.Errorf("expected not recording error, got %s", getTextContent(result))
	}
}

func TestHandleMacroShowDelete(t *testing.T) {
	mock := NewMockEngineApp()
	mock.Macros["com.instagram.android"] = gesture.Macro{gesture.DoubleTap(10, 20)}
	server := newTestServer(mock)
	args := map[string]interface{}{"app_id": "com.instagram.android"}

	result, _ := server.handleMacroShow(context.Background(), makeToolRequest(args))
	if getTextContent(result) != "doubletap:10,20" {
		t.Errorf("show = %q", getTextContent(result))
	}

	result, _ = server.handleMacroDelete(context.Background(), makeToolRequest(args))
	if result.IsError {
		t.Errorf("delete: %s", getTextContent(result))
	}
	result, _ = server.handleMacroDelete(context.Background(), makeToolRequest(args))
	if !result.IsError {
		t.Error("Expected error deleting a missing macro")
	}

	result, _ = server.handleMacroShow(context.Background(), makeToolRequest(args))
	if !strings.Contains(getTextContent(result), "No macro") {
		t.Errorf("show after delete = %q", getTextContent(result))
	}
}

func TestHandleMacroRecordStatus(t *testing.T) {
	mock := NewMockEngineApp()
	mock.RecordedMacro = gesture.Macro{gesture.Tap(1, 2)}
	server := newTestServer(mock)

	result, _ := server.handleMacroRecordStatus(context.Background(), makeToolRequest(nil))
	if getTextContent(result) != "Not recording" {
		t.Errorf("idle status = %q", getTextContent(result))
	}

	server.handleMacroRecordStart(context.Background(), makeToolRequest(map[string]interface{}{
		"app_id": "com.instagram.android",
	}))
	result, _ = server.handleMacroRecordStatus(context.Background(), makeToolRequest(nil))
	if got := getTextContent(result); got != "Recording com.instagram.android: 1 actions captured" {
		t.Errorf("recording status = %q", got)
	}
}
