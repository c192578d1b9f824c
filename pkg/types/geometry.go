package types

import (
	"fmt"
	"regexp"
	"strconv"
)

// Point is a screen coordinate in device pixels
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is a screen rectangle in device pixels, right/bottom exclusive
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// boundsPattern matches uiautomator bounds: "[x1,y1][x2,y2]"
var boundsPattern = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds parses a uiautomator bounds attribute
func ParseBounds(s string) (Rect, error) {
	m := boundsPattern.FindStringSubmatch(s)
	if len(m) < 5 {
		return Rect{}, fmt.Errorf("invalid bounds format: %q", s)
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return Rect{Left: x1, Top: y1, Right: x2, Bottom: y2}, nil
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Center returns the centre point of the rectangle
func (r Rect) Center() Point {
	return Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// String formats the rectangle the way uiautomator does
func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}
