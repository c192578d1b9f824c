package keywords

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"adsweep/pkg/types"
)

// parseDocument decodes {"<appId>": {"adKeywords": [...], "scrollConfig": {...}}}
// keeping both app order and keyword order as written.
func parseDocument(data []byte) ([]types.AppTarget, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty document")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("top level must be an object")
	}

	var (
		targets []types.AppTarget
		seen    = make(map[string]bool)
		perr    error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		appID := strings.TrimSpace(key.String())
		if appID == "" {
			perr = errors.New("empty app id")
			return false
		}
		if seen[appID] {
			perr = fmt.Errorf("duplicate app id %q", appID)
			return false
		}
		seen[appID] = true

		target, err := parseTarget(appID, value)
		if err != nil {
			perr = err
			return false
		}
		targets = append(targets, target)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return targets, nil
}

func parseTarget(appID string, value gjson.Result) (types.AppTarget, error) {
	target := types.AppTarget{AppID: appID, ScrollConfig: types.DefaultScrollConfig()}
	if !value.IsObject() {
		return target, fmt.Errorf("%s: target must be an object", appID)
	}

	kws := value.Get("adKeywords")
	if kws.Exists() {
		if !kws.IsArray() {
			return target, fmt.Errorf("%s: adKeywords must be an array", appID)
		}
		var kerr error
		kws.ForEach(func(_, k gjson.Result) bool {
			if k.Type != gjson.String {
				kerr = fmt.Errorf("%s: keyword %s is not a string", appID, k.Raw)
				return false
			}
			target.Keywords, _ = appendKeyword(target.Keywords, k.String())
			return true
		})
		if kerr != nil {
			return target, kerr
		}
	}

	sc := value.Get("scrollConfig")
	if sc.Exists() {
		if !sc.IsObject() {
			return target, fmt.Errorf("%s: scrollConfig must be an object", appID)
		}
		fields := []struct {
			name string
			set  func(gjson.Result)
		}{
			{"startHeightRatio", func(r gjson.Result) { target.ScrollConfig.StartRatio = r.Float() }},
			{"endHeightRatio", func(r gjson.Result) { target.ScrollConfig.EndRatio = r.Float() }},
			{"duration", func(r gjson.Result) { target.ScrollConfig.DurationMs = r.Int() }},
			{"cooldown", func(r gjson.Result) { target.ScrollConfig.CooldownMs = r.Int() }},
		}
		for _, f := range fields {
			r := sc.Get(f.name)
			if !r.Exists() {
				continue
			}
			if r.Type != gjson.Number {
				return target, fmt.Errorf("%s: scrollConfig.%s must be a number", appID, f.name)
			}
			f.set(r)
		}
	}
	target.ScrollConfig, _ = target.ScrollConfig.Normalize()
	return target, nil
}

// encodeDocument writes targets in the given order. encoding/json sorts
// map keys, so the outer object is assembled by hand.
func encodeDocument(targets []types.AppTarget) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range targets {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t.AppID)
		if err != nil {
			return nil, err
		}
		kws := t.Keywords
		if kws == nil {
			kws = []string{}
		}
		body, err := json.Marshal(struct {
			Keywords     []string           `json:"adKeywords"`
			ScrollConfig types.ScrollConfig `json:"scrollConfig"`
		}{kws, t.ScrollConfig})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// appendKeyword trims kw and appends it unless empty or already present
// under case-insensitive comparison.
func appendKeyword(list []string, kw string) ([]string, bool) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return list, false
	}
	for _, existing := range list {
		if strings.EqualFold(existing, kw) {
			return list, false
		}
	}
	return append(list, kw), true
}
