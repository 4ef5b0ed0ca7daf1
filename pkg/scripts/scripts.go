package scripts

import "github.com/entrhq/devbridge/pkg/urlmatch"

// ScriptID is the watcher identity function for script lists. Non-script
// items are their own identity.
func ScriptID(item any) any {
	switch s := item.(type) {
	case Script:
		return s.ID
	case *Script:
		return s.ID
	}
	return item
}

// ForURL returns the enabled scripts with at least one pattern matching
// rawURL, in list order.
func ForURL(list []Script, rawURL string) []Script {
	var out []Script
	for _, s := range list {
		if !s.Enabled {
			continue
		}
		if ok, _ := urlmatch.MatchAny(s.Matches, rawURL); ok {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the script with id.
func Find(list []Script, id string) (Script, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return Script{}, false
}

// Upsert returns a new list with s replacing the script of the same id, or
// appended when the id is new. The input is not modified.
func Upsert(list []Script, s Script) []Script {
	out := make([]Script, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.ID == s.ID {
			out = append(out, s)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, s)
	}
	return out
}

// Remove returns a new list without the script with id.
func Remove(list []Script, id string) []Script {
	out := make([]Script, 0, len(list))
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// IDs returns the ids of list in order.
func IDs(list []Script) []string {
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}
