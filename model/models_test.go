package model_test

import (
	"strconv"
	"testing"

	. "github.com/coreman2200/funtimes-rovercar/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var TestRGBIsExpectedColor = []struct {
	R      uint8
	G      uint8
	B      uint8
	Expect uint32
}{
	{0x11, 0x22, 0x33, 0x112233},
	{0x44, 0x2A, 0x34, 0x442A34},
	{0x88, 0x3B, 0x35, 0x883B35},
	{0xFF, 0x00, 0xFF, 0xFF00FF},
	{0x00, 0x00, 0x00, 0x000000},
}

var TestColorLightsExpectedChannels = []struct {
	Color   Color
	R, G, B bool
}{
	{Red, true, false, false},
	{Green, false, true, false},
	{Blue, false, false, true},
	{White, true, true, true},
	{Yellow, true, true, false},
	{Cyan, false, true, true},
	{Magenta, true, false, true},
	{None, false, false, false},
	{Color(42), false, false, false},
}

func TestColorsRGB(t *testing.T) {
	for k, v := range TestRGBIsExpectedColor {
		t.Run("Given RGB"+strconv.FormatUint(uint64(k), 10), func(t *testing.T) {
			col := Levels(v.R, v.G, v.B)
			assert.Equal(t, v.Expect, col.Color(), "should be same val")
			assert.Equal(t, v.R, col.GetR())
			assert.Equal(t, v.G, col.GetG())
			assert.Equal(t, v.B, col.GetB())
		})
	}
}

func TestColorChannels(t *testing.T) {
	for _, v := range TestColorLightsExpectedChannels {
		t.Run(v.Color.String(), func(t *testing.T) {
			r, g, b := v.Color.Channels()
			assert.Equal(t, []bool{v.R, v.G, v.B}, []bool{r, g, b})
		})
	}
}

func TestParseRGB(t *testing.T) {
	c, err := ParseRGB("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF8000), c.Color())

	c, err = ParseRGB("10, 20,30")
	require.NoError(t, err)
	assert.Equal(t, Levels(10, 20, 30), c)

	_, err = ParseRGB("1,2")
	assert.Error(t, err)
	_, err = ParseRGB("256,0,0")
	assert.Error(t, err)
	_, err = ParseRGB("#zz0000")
	assert.Error(t, err)
}

func TestParseFallsBackToSafeState(t *testing.T) {
	assert.Equal(t, TurnLeft, ParseCarDir("LEFT"))
	assert.Equal(t, MoveBackward, ParseCarDir(" backward "))
	assert.Equal(t, Stop, ParseCarDir("sideways"))
	assert.Equal(t, Cyan, ParseColor("cyan"))
	assert.Equal(t, None, ParseColor("ultraviolet"))

	_, ok := ParseDirLamp("rear")
	assert.False(t, ok)
	l, ok := ParseDirLamp("forward")
	assert.True(t, ok)
	assert.Equal(t, ForwardLamp, l)

	j, ok := ParseJoint("J4")
	assert.True(t, ok)
	assert.Equal(t, J4, j)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "stop", CarDir(0).String())
	assert.Equal(t, "unknown", CarDir(9).String())
	assert.Equal(t, "magenta", Magenta.String())
	assert.Equal(t, "right", Right.String())
	assert.Equal(t, "#0a141e", Levels(10, 20, 30).String())
}
