// Package adb implements host.Surface for an Android device reached
// through the adb binary.
package adb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// serials look like "emulator-5554", "192.168.1.100:5555" or
// "adb-xxxxx._adb-tls-connect._tcp."
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects serials that could smuggle shell syntax into adb
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceID) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// Runner executes adb with the given arguments
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
	// Stream calls onLine for every stdout line until the command exits or ctx ends
	Stream(ctx context.Context, onLine func(string), args ...string) error
}

// ExecRunner runs the real adb binary
type ExecRunner struct {
	AdbPath string
	Logger  zerolog.Logger
}

var proxyVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

// command builds an exec.Cmd with proxy variables stripped; adb's
// daemon connection breaks behind some proxies.
func (r ExecRunner) command(ctx context.Context, args ...string) *exec.Cmd {
	path := r.AdbPath
	if path == "" {
		path = "adb"
	}
	cmd := exec.CommandContext(ctx, path, args...)

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}

func (r ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	output, err := r.command(ctx, args...).CombinedOutput()
	res := string(output)
	if err != nil {
		return res, fmt.Errorf("command failed: %w, output: %s", err, strings.TrimSpace(res))
	}
	return strings.TrimSpace(res), nil
}

func (r ExecRunner) Stream(ctx context.Context, onLine func(string), args ...string) error {
	cmd := r.command(ctx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start adb: %w", err)
	}
	r.Logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("adb stream started")

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Options configures a Client
type Options struct {
	Serial string
	// DumpMinInterval throttles UI dumps; zero means no throttling
	DumpMinInterval time.Duration
	TapThreshold    time.Duration
	Clock           clockwork.Clock
}

// Client talks to one device
type Client struct {
	serial  string
	runner  Runner
	limiter *rate.Limiter
	clock   clockwork.Clock
	logger  zerolog.Logger

	tapThreshold time.Duration
}

// NewClient validates the serial and prepares a client. An empty serial
// targets the only connected device.
func NewClient(runner Runner, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Serial != "" {
		if err := ValidateDeviceID(opts.Serial); err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
	}
	limit := rate.Inf
	if opts.DumpMinInterval > 0 {
		limit = rate.Every(opts.DumpMinInterval)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TapThreshold <= 0 {
		opts.TapThreshold = 150 * time.Millisecond
	}
	return &Client{
		serial:       opts.Serial,
		runner:       runner,
		limiter:      rate.NewLimiter(limit, 1),
		clock:        opts.Clock,
		logger:       logger.With().Str("module", "adb").Logger(),
		tapThreshold: opts.TapThreshold,
	}, nil
}

func (c *Client) Serial() string { return c.serial }

func (c *Client) args(rest ...string) []string {
	if c.serial == "" {
		return rest
	}
	return append([]string{"-s", c.serial}, rest...)
}

// Shell runs one shell command line on the device
func (c *Client) Shell(ctx context.Context, cmdline string) (string, error) {
	return c.runner.Run(ctx, c.args("shell", cmdline)...)
}

// Device is one line of `adb devices`
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// ListDevices runs `adb devices`
func ListDevices(ctx context.Context, runner Runner) ([]Device, error) {
	out, err := runner.Run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices, nil
}
