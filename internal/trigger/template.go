package trigger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Interpolate renders every string in the action config against the inbound
// payload. `{{payload.a.b.0.c}}` resolves a dotted path rooted at the
// payload; numeric segments index arrays; missing paths expand to the empty
// string. Non-string values pass through untouched.
func Interpolate(config map[string]any, payload map[string]any) map[string]any {
	rendered, _ := renderValue(config, payload).(map[string]any)
	return rendered
}

func renderValue(v any, payload map[string]any) any {
	switch val := v.(type) {
	case string:
		return renderString(val, payload)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = renderValue(inner, payload)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = renderValue(inner, payload)
		}
		return out
	default:
		return v
	}
}

// renderString substitutes each {{...}} placeholder in s. Text outside
// placeholders is kept verbatim; an unterminated opener is literal.
func renderString(s string, payload map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		path := strings.TrimSpace(s[start+2 : start+end])
		b.WriteString(stringify(resolvePath(payload, path)))
		s = s[start+end+2:]
	}
}

// resolvePath walks a dotted path rooted at "payload".
func resolvePath(payload map[string]any, path string) any {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] != "payload" {
		return nil
	}
	var cur any = payload
	for _, seg := range segments[1:] {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

// stringify renders a resolved value into template output. Objects and
// arrays become compact JSON so a payload subtree can be embedded whole.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
