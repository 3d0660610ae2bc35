package grid

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidColor reports a color payload that is not a "#RRGGBB" hex string.
var ErrInvalidColor = errors.New("invalid color")

// Color holds a 24-bit RGB value. The wire representation is the
// "#RRGGBB" form the original canvas clients send.
type Color uint32

// ParseColor decodes a "#RRGGBB" string. Hex digits may be upper or lower
// case; anything else, including shorthand or alpha forms, is rejected.
func ParseColor(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	var value Color
	for _, c := range []byte(s[1:]) {
		var digit Color
		switch {
		case c >= '0' && c <= '9':
			digit = Color(c - '0')
		case c >= 'a' && c <= 'f':
			digit = Color(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = Color(c-'A') + 10
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidColor, s)
		}
		value = value<<4 | digit
	}
	return value, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%06X", uint32(c)&0xFFFFFF)
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidColor, err)
	}
	parsed, err := ParseColor(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
