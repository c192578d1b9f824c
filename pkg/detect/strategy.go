package detect

import (
	"fmt"
	"strings"
)

// Strategy is the closed set of detection strategies
type Strategy int

const (
	Generic Strategy = iota
	SocialFeed
	VideoPlatform
)

func (s Strategy) String() string {
	switch s {
	case SocialFeed:
		return "social_feed"
	case VideoPlatform:
		return "video_platform"
	default:
		return "generic"
	}
}

// ParseStrategy accepts the String form, case-insensitively
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "generic", "":
		return Generic, nil
	case "social_feed", "socialfeed", "feed":
		return SocialFeed, nil
	case "video_platform", "videoplatform", "video":
		return VideoPlatform, nil
	}
	return Generic, fmt.Errorf("unknown detection strategy %q", name)
}

// markers are context labels reported alongside a match
func (s Strategy) markers() []string {
	switch s {
	case SocialFeed:
		return []string{"next item", "下一个"}
	case VideoPlatform:
		return []string{"dislike", "不喜欢"}
	}
	return nil
}

// Table maps app IDs to strategies; unknown apps use Generic.
// Build it at startup; it is read-only once handed to an Engine.
type Table struct {
	rows map[string]Strategy
}

// DefaultTable returns the built-in rows
func DefaultTable() *Table {
	return &Table{rows: map[string]Strategy{
		"com.google.android.youtube": VideoPlatform,
		"com.instagram.android":      SocialFeed,
		"com.facebook.katana":        SocialFeed,
		"com.zhiliaoapp.musically":   SocialFeed,
		"com.ss.android.ugc.aweme":   SocialFeed,
	}}
}

// Set adds or overrides a row
func (t *Table) Set(appID string, s Strategy) {
	if t.rows == nil {
		t.rows = make(map[string]Strategy)
	}
	t.rows[appID] = s
}

// SetNamed is Set with a strategy name from configuration
func (t *Table) SetNamed(appID, name string) error {
	s, err := ParseStrategy(name)
	if err != nil {
		return err
	}
	t.Set(appID, s)
	return nil
}

func (t *Table) Lookup(appID string) Strategy {
	if t == nil {
		return Generic
	}
	return t.rows[appID]
}
