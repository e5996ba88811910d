package command

import "strings"

// Strategy is the dispatch route chosen for a command.
type Strategy string

const (
	StrategySelector   Strategy = "selector"
	StrategyCall       Strategy = "call"
	StrategyCallNoArgs Strategy = "callnoargs"
	StrategyFetch      Strategy = "fetch"
	StrategyUnknown    Strategy = "unknown-command"
)

// fetchPrefixes name the commands treated as extraction jobs.
var fetchPrefixes = []string{"fetch", "extract", "scrape"}

// Classify picks the dispatch strategy for a command. The first matching rule
// wins:
//
//	!callable && args is a string               -> selector
//	callable  && args is a non-empty list       -> call
//	callable  && args is empty                  -> callnoargs
//	!callable && IsFetchJob(name, args)         -> fetch
//	otherwise                                   -> unknown-command
func Classify(callable bool, args any, name string) Strategy {
	if _, ok := args.(string); ok && !callable {
		return StrategySelector
	}
	if callable && len(ArgumentLists(args)) > 0 {
		return StrategyCall
	}
	if callable && IsEmptyArgs(args) {
		return StrategyCallNoArgs
	}
	if !callable && IsFetchJob(name, args) {
		return StrategyFetch
	}
	return StrategyUnknown
}

// ClassifyWith probes reg for name and classifies the command.
func ClassifyWith(reg *Registry, name string, args any) Strategy {
	return Classify(reg.Callable(name), args, name)
}

// IsFetchJob reports whether a command follows the extraction convention: its
// arguments are a mapping of output field to rule and its name is "fetch" or
// starts with fetch, extract or scrape.
func IsFetchJob(name string, args any) bool {
	if _, ok := args.(map[string]any); !ok {
		return false
	}
	return IsFetchName(name)
}

// IsFetchName reports whether name follows the extraction naming convention.
func IsFetchName(name string) bool {
	lowered := strings.ToLower(name)
	for _, prefix := range fetchPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

// IsEmptyArgs reports whether args declares no arguments: omitted, an empty
// string, an empty list, or the shorthand true.
func IsEmptyArgs(args any) bool {
	switch v := args.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return v
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

// ArgumentLists normalizes call arguments. A list of lists yields one call per
// inner list; a flat non-empty list is a single argument list. Anything else
// yields nil.
func ArgumentLists(args any) [][]any {
	list, ok := args.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	nested := make([][]any, 0, len(list))
	for _, item := range list {
		inner, ok := item.([]any)
		if !ok {
			return [][]any{list}
		}
		nested = append(nested, inner)
	}
	return nested
}
