package util

// Fnmatch reports whether name matches pattern using fnmatch(3) semantics
// with no flags: '*' matches any sequence (including '/'), '?' matches any
// single byte, '[...]' matches a byte class with ranges and '!' negation,
// and '\' escapes the next byte. Matching is byte-oriented; names are not
// required to be valid UTF-8.
func Fnmatch(pattern, name string) bool {
	var px, nx int
	var starPx, starNx = -1, 0
	for nx < len(name) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starNx = px, nx
				px++
				continue
			case '?':
				px++
				nx++
				continue
			case '[':
				if ok, next := matchClass(pattern, px, name[nx]); ok {
					px = next
					nx++
					continue
				}
			case '\\':
				if px+1 < len(pattern) {
					if pattern[px+1] == name[nx] {
						px += 2
						nx++
						continue
					}
					break
				}
				fallthrough
			default:
				if c == name[nx] {
					px++
					nx++
					continue
				}
			}
		}
		// Mismatch: backtrack to the last '*' and let it eat one more byte.
		if starPx >= 0 {
			starNx++
			px, nx = starPx+1, starNx
			continue
		}
		return false
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}

// matchClass matches one byte against the '[...]' class starting at pattern[px].
// On success it returns the index just past the closing ']'. A malformed class
// (no closing bracket) never matches.
func matchClass(pattern string, px int, b byte) (bool, int) {
	i := px + 1
	negate := false
	if i < len(pattern) && (pattern[i] == '!' || pattern[i] == '^') {
		negate = true
		i++
	}
	matched := false
	first := true
	for i < len(pattern) {
		if pattern[i] == ']' && !first {
			if matched != negate {
				return true, i + 1
			}
			return false, 0
		}
		first = false
		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			if hi == '\\' && i+3 < len(pattern) {
				i++
				hi = pattern[i+2]
			}
			i += 2
		}
		if b >= lo && b <= hi {
			matched = true
		}
		i++
	}
	return false, 0
}

// MatchPathSuffix reports whether any pattern matches the path itself or one
// of its suffixes rooted at a '/' boundary. "*.o" thereby matches
// "/src/a/b.o" and "src/*.c" matches "/home/x/src/y.c".
func MatchPathSuffix(patterns []string, path string) bool {
	for _, pat := range patterns {
		if Fnmatch(pat, path) {
			return true
		}
		for i := 0; i < len(path); i++ {
			if path[i] == '/' && Fnmatch(pat, path[i+1:]) {
				return true
			}
		}
	}
	return false
}
