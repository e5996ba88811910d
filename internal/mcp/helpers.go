package mcp

import (
	"context"
	"fmt"

	"browsertour/internal/browser"
	"browsertour/internal/mangle"
	"browsertour/internal/runner"
)

// SessionPages opens an incognito page per run on a started session manager.
type SessionPages struct {
	Sessions *browser.SessionManager
}

func (p SessionPages) Acquire(ctx context.Context) (runner.Page, func(), error) {
	page, err := p.Sessions.OpenPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return page, func() { _ = p.Sessions.ClosePage(page.ID()) }, nil
}

// filterByOwner keeps facts whose first argument is owner (any fact when owner
// is empty), up to limit.
func filterByOwner(facts []mangle.Fact, owner string, limit int) []mangle.Fact {
	out := make([]mangle.Fact, 0, min(limit, len(facts)))
	for _, f := range facts {
		if len(out) >= limit {
			break
		}
		if owner != "" && (len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != owner) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	return argString(val)
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string, []string:
		var n int
		if _, err := fmt.Sscanf(argString(v), "%d", &n); err == nil {
			return n
		}
		return fallback
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
