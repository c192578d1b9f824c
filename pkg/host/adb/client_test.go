package adb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type reply struct {
	out string
	err error
}

// fakeRunner answers by the last argument (the shell command line). The
// final queued reply for a command repeats.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	replies map[string][]reply
	lines   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: make(map[string][]reply)}
}

func (f *fakeRunner) on(cmd, out string, err error) {
	f.mu.Lock()
	f.replies[cmd] = append(f.replies[cmd], reply{out, err})
	f.mu.Unlock()
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	key := args[len(args)-1]
	q := f.replies[key]
	if len(q) == 0 {
		return "", fmt.Errorf("unexpected command %q", key)
	}
	r := q[0]
	if len(q) > 1 {
		f.replies[key] = q[1:]
	}
	return r.out, r.err
}

func (f *fakeRunner) Stream(ctx context.Context, onLine func(string), args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	lines := f.lines
	f.mu.Unlock()
	for _, l := range lines {
		onLine(l)
	}
	return nil
}

// commands returns the shell command lines issued so far
func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c[len(c)-1])
	}
	return out
}

func newTestClient(t *testing.T, r Runner, clk clockwork.Clock) *Client {
	t.Helper()
	c, err := NewClient(r, Options{Serial: "emulator-5554", Clock: clk}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name      string
		deviceID  string
		wantError bool
	}{
		{"USB serial", "1234567890ABCDEF", false},
		{"Emulator", "emulator-5554", false},
		{"Wireless IP:port", "192.168.1.100:5555", false},
		{"mDNS device", "adb-XXXXX._adb-tls-connect._tcp.", false},

		{"Empty", "", true},
		{"Too long", strings.Repeat("a", 300), true},
		{"Semicolon", "device; rm -rf /", true},
		{"Pipe", "device | nc host 1234", true},
		{"Subshell", "device$(id)", true},
		{"Backtick", "device`whoami`", true},
		{"Quote", "device'x'", true},
		{"Newline", "device\ntest", true},
		{"Space only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.deviceID)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateDeviceID(%q) error = %v, wantError = %v", tt.deviceID, err, tt.wantError)
			}
		})
	}
}

func TestNewClientRejectsBadSerial(t *testing.T) {
	if _, err := NewClient(newFakeRunner(), Options{Serial: "dev;reboot"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid serial")
	}
	if _, err := NewClient(newFakeRunner(), Options{}, zerolog.Nop()); err != nil {
		t.Fatalf("empty serial should target the default device: %v", err)
	}
}

func TestShellPrefixesSerial(t *testing.T) {
	r := newFakeRunner()
	r.on("echo hi", "hi", nil)
	c := newTestClient(t, r, clockwork.NewFakeClock())

	out, err := c.Shell(context.Background(), "echo hi")
	if err != nil || out != "hi" {
		t.Fatalf("Shell = %q, %v", out, err)
	}
	got := strings.Join(r.calls[0], " ")
	if got != "-s emulator-5554 shell echo hi" {
		t.Errorf("args = %q", got)
	}
}

func TestListDevices(t *testing.T) {
	r := newFakeRunner()
	r.on("devices", "* daemon started successfully\nList of devices attached\nemulator-5554\tdevice\r\n192.168.1.9:5555\toffline\n\n", nil)

	devices, err := ListDevices(context.Background(), r)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if devices[0].Serial != "emulator-5554" || devices[0].State != "device" {
		t.Errorf("devices[0] = %+v", devices[0])
	}
	if devices[1].State != "offline" {
		t.Errorf("devices[1] = %+v", devices[1])
	}

	r2 := newFakeRunner()
	r2.on("devices", "", errors.New("adb not found"))
	if _, err := ListDevices(context.Background(), r2); err == nil {
		t.Error("expected runner error to propagate")
	}
}
