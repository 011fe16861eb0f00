package docstore

import (
	"strconv"
	"strings"
)

// Path addresses a value inside the store. The first segment is the
// top-level record key.
type Path []string

// ParsePath splits a dotted address such as "3001.fields.name.field.txt".
// Empty segments are dropped.
func ParsePath(raw string) Path {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		path = append(path, part)
	}
	return path
}

// PathOf builds a path rooted at an integer record key.
func PathOf(id int, segments ...string) Path {
	path := make(Path, 0, len(segments)+1)
	path = append(path, Key(id))
	return append(path, segments...)
}

// Key is the store key of an integer identifier.
func Key(id int) string {
	return strconv.Itoa(id)
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Join appends sub-segments without aliasing p.
func (p Path) Join(sub ...string) Path {
	out := make(Path, 0, len(p)+len(sub))
	out = append(out, p...)
	return append(out, sub...)
}

// compareKeys orders integer keys numerically ahead of other keys.
func compareKeys(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}
