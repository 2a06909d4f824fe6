// Package filter implements ColumnFilter, a glob matcher over the
// synthetic path `/{route}/{stream}/{column}` used to select which
// columns an exporter writes (§4.9).
//
// No glob package in the example pack models path segments the way this
// filter needs (`*` bound to one path segment, `**` to zero or more), so
// the matcher is hand-written here rather than reached for a third-party
// dependency - see DESIGN.md.
package filter

import (
	"strings"

	"github.com/twinleaf/tio/proto"
)

// ColumnFilter matches (route, stream, column) triples against a
// normalized glob pattern (§4.9).
type ColumnFilter struct {
	segments []string // "*", "**", or a literal
}

// New compiles pattern_str per the normalization rules in §4.9.
func New(patternStr string) (*ColumnFilter, error) {
	trimmed := strings.TrimSpace(patternStr)
	normalized := normalizePattern(trimmed)
	if normalized == "" {
		return &ColumnFilter{segments: nil}, nil
	}
	return &ColumnFilter{segments: splitPath(normalized)}, nil
}

// MustNew is New but panics on error, for static filter literals.
func MustNew(patternStr string) *ColumnFilter {
	f, err := New(patternStr)
	if err != nil {
		panic(err)
	}
	return f
}

// normalizePattern expands a user-supplied pattern into a full glob over
// `/{route}/{stream}/{column}`, per the five rules in §4.9.
func normalizePattern(trimmed string) string {
	if trimmed == "" {
		return "" // rule 1: empty matches nothing
	}

	if strings.Contains(trimmed, "*") {
		// rule 2: "**/<name>" with a bare alphabetic tail is a
		// column-anywhere shorthand for "**/*/<name>".
		if strings.HasPrefix(trimmed, "**/") && !strings.HasSuffix(trimmed, "/**") && !strings.HasSuffix(trimmed, "/*") {
			afterPrefix := trimmed[len("**/"):]
			if !strings.Contains(afterPrefix, "/") && isAlphabeticName(afterPrefix) {
				return "**/*/" + afterPrefix
			}
		}
		// rule 3: contains a wildcard but doesn't match rule 2 - as-is.
		return trimmed
	}

	if !strings.Contains(trimmed, "/") {
		// rule 4: bare name, no wildcard - stream-anywhere.
		return "**/" + trimmed + "/**"
	}

	// rule 5: has '/', no wildcard - exact match.
	return trimmed
}

// isAlphabeticName reports whether s contains at least one letter,
// distinguishing stream/column names from numeric route indices (§4.9).
func isAlphabeticName(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func splitPath(s string) []string {
	return strings.Split(strings.Trim(s, "/"), "/")
}

// Path builds the synthetic `/{route}/{stream}/{column}` path a sample's
// column is matched against.
func Path(route proto.Route, streamName, colName string) string {
	routePath := route.PathString()
	if routePath == "" {
		return "/" + streamName + "/" + colName
	}
	return "/" + routePath + "/" + streamName + "/" + colName
}

// Matches reports whether (route, stream, col) satisfies the filter.
func (f *ColumnFilter) Matches(route proto.Route, streamName, colName string) bool {
	if f == nil || len(f.segments) == 0 {
		return false
	}
	pathSegs := splitPath(Path(route, streamName, colName))
	return matchSegments(f.segments, pathSegs)
}

// matchSegments matches pattern segments against path segments, where
// "*" consumes exactly one segment and "**" consumes zero or more.
func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], path) {
			return true
		}
		if len(path) > 0 {
			return matchSegments(pat, path[1:])
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if pat[0] == "*" || pat[0] == path[0] {
		return matchSegments(pat[1:], path[1:])
	}
	return false
}
