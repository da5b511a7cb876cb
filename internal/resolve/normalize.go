package resolve

import (
	"strconv"
	"strings"

	"github.com/Benny93/depgraph/internal/graph"
)

// PlaceholderPrefix marks a reduced sub-expression whose target id follows.
const PlaceholderPrefix = "$ref"

// Placeholder returns the token substituted for an already-resolved entry.
func Placeholder(id graph.EntityID) string {
	return PlaceholderPrefix + strconv.Itoa(int(id))
}

// parsePlaceholder decodes the placeholder at the start of s. It returns
// the encoded id and the length of the token. ok is false when s does not
// start with a well-formed token ending on a segment boundary.
func parsePlaceholder(s string) (id graph.EntityID, n int, ok bool) {
	if !strings.HasPrefix(s, PlaceholderPrefix) {
		return graph.NoEntity, 0, false
	}
	end := len(PlaceholderPrefix)
	if end < len(s) && s[end] == '-' {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return graph.NoEntity, end, false
	}
	if end < len(s) && s[end] != '.' {
		return graph.NoEntity, end, false
	}
	v, err := strconv.Atoi(s[len(PlaceholderPrefix):end])
	if err != nil {
		return graph.NoEntity, end, false
	}
	return graph.EntityID(v), end, true
}

// SplitChains splits raw call strings so that calls buried in a dotted
// chain become separate entries, in left-to-right order.
//
// For every atom that closes a parenthesis, the prefix ending at that atom
// is emitted when it holds a balanced, non-empty parenthesis set. When the
// last atom emits nothing the whole string is appended verbatim; it stands
// for a property access or an unbalanced expression.
func SplitChains(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, call := range raw {
		call = strings.TrimLeft(call, ".")
		if call == "" {
			continue
		}
		out = append(out, splitChain(call)...)
	}
	return out
}

func splitChain(call string) []string {
	var entries []string
	lastEmitted := false
	start := 0
	for start <= len(call) {
		end := strings.IndexByte(call[start:], '.')
		if end < 0 {
			end = len(call)
		} else {
			end += start
		}
		atom := call[start:end]
		lastEmitted = false
		if atom != "" && strings.Contains(atom, ")") {
			prefix := call[:end]
			if strings.Contains(prefix, "(") && balanced(prefix) {
				entries = append(entries, prefix)
				lastEmitted = true
			}
		}
		start = end + 1
	}
	if !lastEmitted {
		entries = append(entries, call)
	}
	return entries
}

// Reduce rewrites entries[index] against the earlier entries, replacing
// the first occurrence of each earlier entry's text with its placeholder.
// refs holds the ids the earlier entries resolved to, aligned by index;
// NoEntity encodes as "$ref-1". Scanning runs from index-1 down to 0 and
// stops once the string is a single call: at most one parenthesis pair,
// closing the string.
func Reduce(entries []string, index int, refs []graph.EntityID) string {
	current := entries[index]
	for i := index - 1; i >= 0; i-- {
		if singleCall(current) {
			break
		}
		earlier := entries[i]
		if earlier == "" || !strings.Contains(current, earlier) {
			continue
		}
		ref := graph.NoEntity
		if i < len(refs) {
			ref = refs[i]
		}
		current = strings.Replace(current, earlier, Placeholder(ref), 1)
	}
	return current
}

func singleCall(s string) bool {
	pairs := max(strings.Count(s, "("), strings.Count(s, ")"))
	return pairs == 0 || (pairs == 1 && strings.HasSuffix(s, ")"))
}

func balanced(s string) bool {
	return strings.Count(s, "(") == strings.Count(s, ")")
}
