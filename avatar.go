package wschat

import (
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gookit/color"
)

var avatarPalette = [...]string{
	"#2196F3",
	"#32c787",
	"#00BCD4",
	"#ff5652",
	"#ffc107",
	"#ff85af",
	"#FF9800",
	"#39bbb0",
}

// AvatarKey identifies one entry of the fixed avatar palette.
type AvatarKey struct {
	Index int
	Hex   string
}

// AvatarKeyFor maps a display name to a palette entry. It hashes UTF-16 code
// units with hash = hash*31 + unit in float64, the way browsers evaluate it,
// so web and terminal clients agree on a user's colour. Permuting characters
// may change the key. A hash that overflows to infinity maps to index 0.
func AvatarKeyFor(name string) AvatarKey {
	var hash float64
	for _, unit := range utf16.Encode([]rune(name)) {
		hash = 31*hash + float64(unit)
	}

	index := 0
	if !math.IsInf(hash, 0) {
		index = int(math.Abs(math.Mod(hash, float64(len(avatarPalette)))))
	}
	return AvatarKey{Index: index, Hex: avatarPalette[index]}
}

// Render paints s with the key's colour for terminal output.
func (k AvatarKey) Render(s string) string {
	return color.HEX(k.Hex).Sprint(s)
}

// Initial returns the first character of name, or an empty string.
func Initial(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 || r == utf8.RuneError {
		return ""
	}
	return string(r)
}
