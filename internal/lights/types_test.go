package lights

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorToHSBK(t *testing.T) {
	tests := []struct {
		name  string
		color Color
		want  HSBK
	}{
		{"red", Color{R: 255}, HSBK{Hue: 0, Saturation: math.MaxUint16, Brightness: math.MaxUint16, Kelvin: DefaultKelvin}},
		{"black", Color{}, HSBK{Kelvin: DefaultKelvin}},
		{"white", Color{R: 255, G: 255, B: 255}, HSBK{Saturation: 0, Brightness: math.MaxUint16, Kelvin: DefaultKelvin}},
		{"green", Color{G: 255}, HSBK{Hue: 21845, Saturation: math.MaxUint16, Brightness: math.MaxUint16, Kelvin: DefaultKelvin}},
		{"blue", Color{B: 255}, HSBK{Hue: 43690, Saturation: math.MaxUint16, Brightness: math.MaxUint16, Kelvin: DefaultKelvin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ColorToHSBK(tt.color, DefaultKelvin)
			assert.InDelta(t, tt.want.Hue, got.Hue, 1)
			assert.Equal(t, tt.want.Saturation, got.Saturation)
			assert.Equal(t, tt.want.Brightness, got.Brightness)
			assert.Equal(t, tt.want.Kelvin, got.Kelvin)
		})
	}
}

func TestColorToHSBKWithBrightness(t *testing.T) {
	got := ColorToHSBKWithBrightness(Color{R: 255}, 1234, CoolKelvin)
	assert.Equal(t, HSBK{Hue: 0, Saturation: math.MaxUint16, Brightness: 1234, Kelvin: CoolKelvin}, got)
}

func TestKelvinForMode(t *testing.T) {
	assert.Equal(t, CoolKelvin, KelvinForMode(ModeCool))
	assert.Equal(t, DefaultKelvin, KelvinForMode(DefaultMode))
	assert.Equal(t, DefaultKelvin, KelvinForMode(ModeAll))
}

func TestModeMatches(t *testing.T) {
	assert.True(t, Mode(3).Matches(3))
	assert.True(t, Mode(3).Matches(ModeAll))
	assert.False(t, Mode(3).Matches(4))

	assert.True(t, DefaultMode.Valid())
	assert.False(t, ModeAll.Valid())
	assert.False(t, Mode(0).Valid())
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("ff8000")
	require.NoError(t, err)
	assert.Equal(t, Color{R: 255, G: 128, B: 0}, c)

	c, err = ParseHex("#00ff00")
	require.NoError(t, err)
	assert.Equal(t, Color{G: 255}, c)

	_, err = ParseHex("nope")
	assert.Error(t, err)
}

func TestHSBKHex(t *testing.T) {
	assert.Equal(t, "#ff0000", ColorToHSBK(Color{R: 255}, DefaultKelvin).Hex())
	assert.Equal(t, "#000000", HSBK{}.Hex())
}

func TestProductName(t *testing.T) {
	assert.Equal(t, "LIFX Z", ProductName(31))
	assert.Equal(t, "LIFX product 999", ProductName(999))
}

func TestLIFXColorRoundTrip(t *testing.T) {
	in := HSBK{Hue: 1, Saturation: 2, Brightness: 3, Kelvin: 3500}
	c := toLIFXColor(in)
	assert.Equal(t, in, fromLIFXColor(&c))
	assert.Equal(t, HSBK{}, fromLIFXColor(nil))
}
