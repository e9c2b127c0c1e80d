package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	RED_OFFSET   uint8 = 0x10
	GREEN_OFFSET uint8 = 0x08
	BLUE_OFFSET  uint8 = 0x0
)

// Color is one of the fixed main lamp colors. The zero value is off.
type Color uint8

const (
	None Color = iota
	Red
	Green
	Blue
	White
	Yellow
	Cyan
	Magenta
)

var colorNames = []string{"none", "red", "green", "blue", "white", "yellow", "cyan", "magenta"}

func (c Color) String() string { return name(colorNames, uint8(c)) }

// ParseColor never fails: anything unrecognized is None.
func ParseColor(s string) Color {
	v, ok := lookup(colorNames, s)
	if !ok {
		return None
	}
	return Color(v)
}

// Channels reports which of the red, green and blue emitters are lit.
// Unknown colors light nothing.
func (c Color) Channels() (r, g, b bool) {
	switch c {
	case Red:
		return true, false, false
	case Green:
		return false, true, false
	case Blue:
		return false, false, true
	case White:
		return true, true, true
	case Yellow:
		return true, true, false
	case Cyan:
		return false, true, true
	case Magenta:
		return true, false, true
	}
	return false, false, false
}

// RGB holds 8-bit levels for the main lamp packed as 0x00RRGGBB.
type RGB struct {
	val uint32
}

func NewRGB(c uint32) RGB {
	return RGB{val: c & 0xFFFFFF}
}

// Levels builds an RGB from separate levels.
func Levels(r, g, b uint8) RGB {
	var c RGB
	c.SetR(r)
	c.SetG(g)
	c.SetB(b)
	return c
}

// ParseRGB accepts "#rrggbb", "rrggbb" or "r,g,b".
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return RGB{}, fmt.Errorf("rgb %q: want three levels", s)
		}
		var lv [3]uint8
		for i, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return RGB{}, fmt.Errorf("rgb %q: %w", s, err)
			}
			lv[i] = uint8(n)
		}
		return Levels(lv[0], lv[1], lv[2]), nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 24)
	if err != nil {
		return RGB{}, fmt.Errorf("rgb %q: %w", s, err)
	}
	return NewRGB(uint32(n)), nil
}

func setcolor(c uint32, n uint8, off uint8) uint32 {
	var val uint32 = uint32(n) << off
	var mask uint32 = 0xFF << off
	return (c & (^mask)) | val
}

func getcolor(c uint32, off uint8) uint8 {
	var mask uint32 = 0xFF << off
	return uint8((c & (mask)) >> off)
}

func (c *RGB) Color() uint32 {
	return c.val
}

func (c *RGB) SetR(r uint8) {
	c.val = setcolor(c.val, r, RED_OFFSET)
}
func (c *RGB) SetG(g uint8) {
	c.val = setcolor(c.val, g, GREEN_OFFSET)
}
func (c *RGB) SetB(b uint8) {
	c.val = setcolor(c.val, b, BLUE_OFFSET)
}

func (c RGB) GetR() uint8 {
	return getcolor(c.val, RED_OFFSET)
}
func (c RGB) GetG() uint8 {
	return getcolor(c.val, GREEN_OFFSET)
}
func (c RGB) GetB() uint8 {
	return getcolor(c.val, BLUE_OFFSET)
}

func (c RGB) String() string {
	return fmt.Sprintf("#%06x", c.val)
}
