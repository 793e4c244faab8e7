package middleware

import "strings"

// compilePattern turns a dotted glob (spec.md §4.3) into a matcher function.
// Segment rules:
//   - "*"  matches exactly one dotted segment
//   - "**" matches the remainder of the procedure name (zero or more segments)
//     and must be the final pattern segment
//   - any other segment must match exactly
func compilePattern(glob string) func(procedure string) bool {
	segments := strings.Split(glob, ".")
	return func(procedure string) bool {
		return matchSegments(segments, strings.Split(procedure, "."))
	}
}

func matchSegments(pattern, name []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return true // matches the rest, however many segments remain
		}
		if i >= len(name) {
			return false
		}
		if seg != "*" && seg != name[i] {
			return false
		}
	}
	return len(pattern) == len(name)
}

// MatchPattern exposes the matcher for callers outside this package that
// need the identical glob semantics without composing an interceptor.
func MatchPattern(glob, procedure string) bool {
	return compilePattern(glob)(procedure)
}
