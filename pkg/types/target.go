package types

// ScrollConfig holds the per-app gesture timing used for the fallback
// forward scroll and for the re-trigger cooldown.
type ScrollConfig struct {
	StartRatio float64 `json:"startHeightRatio"`
	EndRatio   float64 `json:"endHeightRatio"`
	DurationMs int64   `json:"duration"`
	CooldownMs int64   `json:"cooldown"`
}

// DefaultScrollConfig is applied to apps whose document omits scrollConfig
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		StartRatio: 0.6,
		EndRatio:   0.4,
		DurationMs: 100,
		CooldownMs: 2000,
	}
}

// Normalize clamps ratios into [0,1] and replaces non-positive timings
// with defaults. It reports whether anything had to be changed.
func (c ScrollConfig) Normalize() (ScrollConfig, bool) {
	def := DefaultScrollConfig()
	changed := false
	clamp := func(v float64) float64 {
		switch {
		case v < 0:
			changed = true
			return 0
		case v > 1:
			changed = true
			return 1
		}
		return v
	}
	c.StartRatio = clamp(c.StartRatio)
	c.EndRatio = clamp(c.EndRatio)
	if c.DurationMs <= 0 {
		c.DurationMs = def.DurationMs
		changed = true
	}
	if c.CooldownMs < 0 {
		c.CooldownMs = def.CooldownMs
		changed = true
	}
	return c, changed
}

// AppTarget is the per-app detection configuration
type AppTarget struct {
	AppID        string       `json:"appId"`
	Keywords     []string     `json:"adKeywords"`
	ScrollConfig ScrollConfig `json:"scrollConfig"`
}

// Clone returns a deep copy safe to hand out of a store
func (t AppTarget) Clone() AppTarget {
	kw := make([]string, len(t.Keywords))
	copy(kw, t.Keywords)
	t.Keywords = kw
	return t
}
