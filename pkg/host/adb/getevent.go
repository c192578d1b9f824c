package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"adsweep/pkg/types"
)

var touchNameHints = []string{
	"touch", "ts", "ft5", "goodix", "synaptics", "atmel",
	"elan", "himax", "focaltech", "mxt", "nvt", "ilitek",
	"sec_touchscreen", "input_mt", "mtk-tpd",
}

// pickTouchDevice scores the blocks of `getevent -p`: multi-touch capable
// devices qualify and a touch-like name adds weight.
func pickTouchDevice(out string) (string, error) {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	bestPath, bestScore := "", 0
	for _, block := range strings.Split(out, "add device") {
		nl := strings.Index(block, "\n")
		if nl == -1 {
			continue
		}
		first := block[:nl]
		idx := strings.Index(first, "/dev/input/")
		if idx == -1 {
			continue
		}
		if !strings.Contains(block, "ABS_MT_POSITION_X") && !strings.Contains(block, "0035") {
			continue
		}
		score := 1
		for _, line := range strings.Split(block, "\n") {
			if !strings.Contains(line, "name:") {
				continue
			}
			lower := strings.ToLower(line)
			for _, hint := range touchNameHints {
				if strings.Contains(lower, hint) {
					score += 10
					break
				}
			}
			break
		}
		if score > bestScore {
			bestPath, bestScore = strings.TrimSpace(first[idx:]), score
		}
	}
	if bestPath == "" {
		return "", fmt.Errorf("no touch input device found")
	}
	return bestPath, nil
}

type axisRange struct{ min, max int }

var rangePattern = regexp.MustCompile(`min\s+(-?\d+),\s+max\s+(-?\d+)`)

// parseAxisRanges reads the MT position ranges of one device
func parseAxisRanges(out string) (x, y axisRange) {
	for _, line := range strings.Split(out, "\n") {
		m := rangePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		switch {
		case strings.Contains(line, "ABS_MT_POSITION_X") || strings.Contains(line, "0035"):
			x = axisRange{lo, hi}
		case strings.Contains(line, "ABS_MT_POSITION_Y") || strings.Contains(line, "0036"):
			y = axisRange{lo, hi}
		}
	}
	return x, y
}

func (r axisRange) scale(raw, screen int) int {
	if r.max <= r.min || screen <= 0 {
		return raw
	}
	return (raw - r.min) * screen / (r.max - r.min + 1)
}

var hexValuePattern = regexp.MustCompile(`([0-9a-fA-F]{8})\s*$`)

// touchDecoder turns `getevent -lt` lines into pointer-down points. Only
// the first contact of a touch is reported; positions persist across
// reports because protocol B sends only changed axes.
type touchDecoder struct {
	xr, yr        axisRange
	width, height int

	down    bool
	pending bool
	x, y    int
	haveX   bool
	haveY   bool
}

func (d *touchDecoder) feed(line string) (types.Point, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.Contains(line, "ABS_MT_TRACKING_ID"):
		if strings.Contains(strings.ToLower(line), "ffffffff") {
			d.down, d.pending = false, false
		} else if !d.down {
			d.down, d.pending = true, true
		}
	case strings.Contains(line, "BTN_TOUCH"):
		if strings.Contains(line, "DOWN") || strings.HasSuffix(trimmed, "00000001") {
			if !d.down {
				d.down, d.pending = true, true
			}
		} else if strings.Contains(line, "UP") || strings.HasSuffix(trimmed, "00000000") {
			d.down, d.pending = false, false
		}
	case strings.Contains(line, "ABS_MT_POSITION_X"):
		if v, ok := hexValue(trimmed); ok {
			d.x, d.haveX = v, true
		}
	case strings.Contains(line, "ABS_MT_POSITION_Y"):
		if v, ok := hexValue(trimmed); ok {
			d.y, d.haveY = v, true
		}
	case strings.Contains(line, "SYN_REPORT"):
		if d.pending && d.haveX && d.haveY {
			d.pending = false
			return types.Point{X: d.xr.scale(d.x, d.width), Y: d.yr.scale(d.y, d.height)}, true
		}
	}
	return types.Point{}, false
}

func hexValue(line string) (int, bool) {
	m := hexValuePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return 0, false
	}
	return int(int32(uint32(v))), true
}

// StreamPointerDowns follows the touch device and reports every new touch
// in screen pixels until ctx ends.
func (s *Surface) StreamPointerDowns(ctx context.Context, onDown func(types.Point)) error {
	out, err := s.c.Shell(ctx, "getevent -p")
	if err != nil {
		return fmt.Errorf("failed to get input devices: %w", err)
	}
	dev, err := pickTouchDevice(out)
	if err != nil {
		return err
	}
	props, err := s.c.Shell(ctx, "getevent -p "+dev)
	if err != nil {
		return fmt.Errorf("failed to read %s ranges: %w", dev, err)
	}
	w, h, err := s.ScreenSize(ctx)
	if err != nil {
		return err
	}
	d := &touchDecoder{width: w, height: h}
	d.xr, d.yr = parseAxisRanges(props)
	s.c.logger.Info().Str("device", dev).
		Int("minX", d.xr.min).Int("maxX", d.xr.max).
		Int("minY", d.yr.min).Int("maxY", d.yr.max).
		Msg("following touch device")

	return s.c.runner.Stream(ctx, func(line string) {
		if p, ok := d.feed(line); ok {
			onDown(p)
		}
	}, s.c.args("shell", "getevent -lt "+dev)...)
}
