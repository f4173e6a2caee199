// Package glob implements the path-aware glob matcher used by the policy
// engine: a position walk that retries the rest of the pattern at each
// candidate position after a '*'/'**', rather than a general regex engine.
// Each (path suffix, pattern suffix) pair is evaluated at most once per
// Match call, so it terminates on every input without catastrophic
// backtracking.
package glob

import "strings"

// CaseFold selects platform case sensitivity: true folds case before
// comparing characters (Windows host behavior), false compares exactly
// (POSIX host behavior). Callers normalize the path before calling
// Match/MatchAny; patterns are matched as given.
type CaseFold bool

const (
	CaseSensitive   CaseFold = false
	CaseInsensitive CaseFold = true
)

// Match reports whether path matches pattern in full (anchored at both
// ends). '?' matches exactly one non-separator character, '*' matches zero
// or more characters within a single path segment, and '**' matches zero
// or more whole segments (the separator following '**' is optional).
func Match(path, pattern string, fold CaseFold) bool {
	return matchRecursive(normalizeSeparators(path), normalizeSeparators(pattern), bool(fold), map[[2]int]bool{})
}

// MatchAny reports whether path matches any of patterns.
func MatchAny(path string, patterns []string, fold CaseFold) bool {
	for _, p := range patterns {
		if Match(path, p, fold) {
			return true
		}
	}
	return false
}

func normalizeSeparators(s string) string {
	return strings.ReplaceAll(s, "\\", "/")
}

func isSeparator(c byte) bool {
	return c == '/'
}

func charsEqual(a, b byte, fold bool) bool {
	if fold {
		a = toLower(a)
		b = toLower(b)
	}
	return a == b
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// matchRecursive is always called on suffixes of the original path and
// pattern, so their lengths identify the subproblem in memo.
func matchRecursive(path, pattern string, fold bool, memo map[[2]int]bool) (matched bool) {
	key := [2]int{len(path), len(pattern)}
	if r, ok := memo[key]; ok {
		return r
	}
	defer func() { memo[key] = matched }()
	pathPos, patternPos := 0, 0

	for patternPos < len(pattern) {
		pc := pattern[patternPos]

		switch {
		case pc == '*':
			if patternPos+1 < len(pattern) && pattern[patternPos+1] == '*' {
				// "**" — zero or more whole segments.
				patternPos += 2
				if patternPos < len(pattern) && isSeparator(pattern[patternPos]) {
					patternPos++
				}
				if patternPos >= len(pattern) {
					return true
				}
				rest := pattern[patternPos:]
				for i := pathPos; i <= len(path); i++ {
					if matchRecursive(path[i:], rest, fold, memo) {
						return true
					}
					if i < len(path) && isSeparator(path[i]) {
						continue
					}
					for i < len(path) && !isSeparator(path[i]) {
						i++
					}
				}
				return false
			}

			// Single "*" — zero or more chars, never crossing a separator.
			patternPos++
			if patternPos >= len(pattern) {
				for i := pathPos; i < len(path); i++ {
					if isSeparator(path[i]) {
						return false
					}
				}
				return true
			}
			next := pattern[patternPos]
			rest := pattern[patternPos:]
			for i := pathPos; i <= len(path); i++ {
				if i < len(path) && isSeparator(path[i]) {
					break
				}
				if i < len(path) && charsEqual(path[i], next, fold) {
					if matchRecursive(path[i:], rest, fold, memo) {
						return true
					}
				} else if next == '?' || next == '*' {
					if matchRecursive(path[i:], rest, fold, memo) {
						return true
					}
				}
			}
			return false

		case pc == '?':
			if pathPos >= len(path) || isSeparator(path[pathPos]) {
				return false
			}
			pathPos++
			patternPos++

		default:
			if pathPos >= len(path) || !charsEqual(path[pathPos], pc, fold) {
				return false
			}
			pathPos++
			patternPos++
		}
	}

	return pathPos == len(path)
}
