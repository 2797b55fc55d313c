package rules

import "strings"

// matchPath reports whether pattern matches path under the glob semantics of
// §4.1: "*" matches exactly one path segment, "**" matches zero or more
// segments, and every other character matches literally. Matching is
// case-sensitive and segments are split on "/".
func matchPath(pattern, path string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(path))
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}

func matchSegments(pat, seg []string) bool {
	if len(pat) == 0 {
		return len(seg) == 0
	}

	head := pat[0]
	switch head {
	case "**":
		if matchSegments(pat[1:], seg) {
			return true
		}
		if len(seg) == 0 {
			return false
		}
		return matchSegments(pat, seg[1:])
	case "*":
		if len(seg) == 0 {
			return false
		}
		return matchSegments(pat[1:], seg[1:])
	default:
		if len(seg) == 0 || seg[0] != head {
			return false
		}
		return matchSegments(pat[1:], seg[1:])
	}
}

// specificity scores a pattern by the length of its literal (non-wildcard)
// prefix, in segments, used as the second matching tie-break after priority.
// A pattern with more leading literal segments is considered more specific.
func specificity(pattern string) int {
	score := 0
	for _, seg := range splitSegments(pattern) {
		if seg == "*" || seg == "**" {
			break
		}
		score++
	}
	return score
}
