// Package rolecode matches organizational role codes.
//
// Directory role codes are typed by hand across departments, so "SUB-ENGINEER",
// "sub_engineer" and "Sub Engineer" all name the same role, and composite codes
// such as "SE_CIVIL" or "ZONE_2_CE" must still match their base role. All role
// checks in the routing rules go through Matches.
package rolecode

import (
	"strings"
)

// Normalize upper-cases a code and folds spaces, hyphens, dots and slashes
// into single underscores.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(code))
	lastSep := false
	for _, r := range code {
		switch r {
		case ' ', '-', '_', '.', '/', '\t':
			if !lastSep {
				b.WriteByte('_')
			}
			lastSep = true
		default:
			b.WriteRune(r)
			lastSep = false
		}
	}
	return strings.Trim(b.String(), "_")
}

func compact(normalized string) string {
	return strings.ReplaceAll(normalized, "_", "")
}

// Matches reports whether code matches pattern. A pattern matches when it is
// the whole code or an underscore-bounded segment run at the start, end or
// middle of it. A pattern ending in '*' matches any code with that prefix.
// Multi-word patterns also match their spelling without separators.
func Matches(code, pattern string) bool {
	c := Normalize(code)
	if c == "" {
		return false
	}
	if strings.HasSuffix(strings.TrimSpace(pattern), "*") {
		p := Normalize(strings.TrimSuffix(strings.TrimSpace(pattern), "*"))
		return p != "" && strings.HasPrefix(c, p)
	}
	p := Normalize(pattern)
	if p == "" {
		return false
	}
	switch {
	case c == p,
		strings.HasPrefix(c, p+"_"),
		strings.HasSuffix(c, "_"+p),
		strings.Contains(c, "_"+p+"_"):
		return true
	}
	if strings.Contains(p, "_") {
		return compact(c) == compact(p)
	}
	return false
}

// Set is a list of role patterns.
type Set []string

// MatchesAny reports whether code matches at least one pattern in the set.
func (s Set) MatchesAny(code string) bool {
	for _, p := range s {
		if Matches(code, p) {
			return true
		}
	}
	return false
}

// Contains reports whether the exact normalized value is in the set.
// Used for team-role tags, which are stored canonically.
func (s Set) Contains(tag string) bool {
	t := Normalize(tag)
	if t == "" {
		return false
	}
	for _, p := range s {
		if Normalize(p) == t {
			return true
		}
	}
	return false
}

// DepartmentMatches reports whether the department name contains any keyword,
// ignoring case.
func DepartmentMatches(department string, keywords []string) bool {
	d := strings.ToUpper(department)
	if strings.TrimSpace(d) == "" {
		return false
	}
	for _, k := range keywords {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" && strings.Contains(d, k) {
			return true
		}
	}
	return false
}
