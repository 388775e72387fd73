package preferences

import (
	"strconv"
	"strings"
)

// MaxWeight is the weight of "q=1", and the default when no weight is given.
const MaxWeight Weight = 1000

// Weight is a q-value multiplied by 1000.
// Keeping it as an integer avoids comparing floats.
type Weight uint16

// ParseWeight parses a `q=` parameter with up to three fractional digits.
// The parameter name is case-insensitive.
func ParseWeight(s string) (Weight, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || (s[0] != 'q' && s[0] != 'Q') || s[1] != '=' {
		return 0, false
	}
	s = s[2:]

	var w int
	switch s[0] {
	case '0':
	case '1':
		w = 1000
	default:
		return 0, false
	}
	s = s[1:]
	if s == "" {
		return Weight(w), true
	}
	if s[0] != '.' {
		return 0, false
	}
	s = s[1:]
	if len(s) > 3 {
		return 0, false
	}
	factor := 100
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		w += int(s[i]-'0') * factor
		factor /= 10
	}
	if w > int(MaxWeight) {
		return 0, false
	}
	return Weight(w), true
}

func (w Weight) String() string {
	if w >= MaxWeight {
		return "q=1"
	}
	frac := strconv.Itoa(int(w) + 1000)[1:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return "q=0"
	}
	return "q=0." + frac
}
