package utils

import "strings"

// NormalizeIdentifier returns the closest valid identifier to name, as required for mesh axis
// names: letters, digits and underscores, not starting with a digit.
//
// Other characters become underscores, and a leading digit is prefixed with one, e.g.
// "2d-mesh" -> "_2d_mesh". The empty name is returned unchanged.
func NormalizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(name) + 1)
	if isDigit(rune(name[0])) {
		sb.WriteByte('_')
	}
	for _, r := range name {
		if isDigit(r) || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
