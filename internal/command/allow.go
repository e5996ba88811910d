package command

// AllowFunc gates which command names the executor considers at all.
// Rejected names are skipped silently.
type AllowFunc func(name string) bool

// DefaultAllowList allows every capability in reg and every name following the
// extraction convention. The reserved root field and names in deny are
// rejected.
func DefaultAllowList(reg *Registry, deny ...string) AllowFunc {
	denied := make(map[string]struct{}, len(deny)+1)
	denied["root"] = struct{}{}
	for _, name := range deny {
		denied[name] = struct{}{}
	}
	return func(name string) bool {
		if _, ok := denied[name]; ok {
			return false
		}
		return reg.Has(name) || IsFetchName(name)
	}
}

// AllowAll accepts every name except the reserved root field.
func AllowAll(name string) bool { return name != "root" }
