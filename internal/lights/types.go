package lights

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Mode groups bulbs so the application can address them together.
type Mode int

const (
	// ModeAll addresses every bulb regardless of its assigned mode. It is
	// never stored on a bulb.
	ModeAll Mode = 100

	DefaultMode Mode = 1

	// ModeCool is rendered with CoolKelvin instead of the warm default.
	ModeCool Mode = 10
)

const (
	DefaultKelvin uint16 = 2700
	CoolKelvin    uint16 = 6000
)

// Valid reports whether m can be assigned to a bulb.
func (m Mode) Valid() bool {
	return m >= 1 && m < ModeAll
}

// Matches reports whether a bulb in mode m is targeted by a request for want.
func (m Mode) Matches(want Mode) bool {
	return want == ModeAll || m == want
}

// KelvinForMode returns the fixed colour temperature used for mode m.
func KelvinForMode(m Mode) uint16 {
	if m == ModeCool {
		return CoolKelvin
	}
	return DefaultKelvin
}

// HSBK is a colour in the LIFX wire ranges: hue, saturation and brightness
// span the full uint16 range, kelvin is in degrees.
type HSBK struct {
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
	Kelvin     uint16 `json:"kelvin"`
}

// Hex renders the colour part of c as #rrggbb for display.
func (c HSBK) Hex() string {
	return colorful.Hsv(
		float64(c.Hue)/math.MaxUint16*360.0,
		float64(c.Saturation)/math.MaxUint16,
		float64(c.Brightness)/math.MaxUint16,
	).Clamped().Hex()
}

func (c HSBK) String() string {
	return fmt.Sprintf("h=%d s=%d b=%d k=%d", c.Hue, c.Saturation, c.Brightness, c.Kelvin)
}

// LightState is what a bulb reports about itself.
type LightState struct {
	Color HSBK   `json:"color"`
	Label string `json:"label"`
}

// Color is an 8-bit RGB colour as produced by the rest of the application.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ParseHex parses #rrggbb (the leading # is optional).
func ParseHex(s string) (Color, error) {
	if len(s) > 0 && s[0] != '#' {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("parse colour %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}

func (c Color) colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
}

// HSV decomposes c into hue in [0,360) and saturation/value in [0,1].
func (c Color) HSV() (h, s, v float64) {
	return c.colorful().Hsv()
}

// ColorToHSBK rescales c linearly into the LIFX 16-bit ranges.
func ColorToHSBK(c Color, kelvin uint16) HSBK {
	h, s, v := c.HSV()
	return HSBK{
		Hue:        scale16(h, 360.0),
		Saturation: scale16(s, 1.0),
		Brightness: scale16(v, 1.0),
		Kelvin:     kelvin,
	}
}

// ColorToHSBKWithBrightness keeps hue and saturation from c and takes the
// brightness as given.
func ColorToHSBKWithBrightness(c Color, brightness uint16, kelvin uint16) HSBK {
	hsbk := ColorToHSBK(c, kelvin)
	hsbk.Brightness = brightness
	return hsbk
}

func scale16(v, max float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= max {
		return math.MaxUint16
	}
	return uint16(v / max * math.MaxUint16)
}

// Settings is the persisted per-bulb configuration.
type Settings struct {
	Mode    Mode `json:"mode"`
	Enabled bool `json:"enabled"`
}

// DefaultSettings is assigned to a bulb seen for the first time.
func DefaultSettings() Settings {
	return Settings{Mode: DefaultMode, Enabled: true}
}

// Version describes the hardware and firmware of a bulb.
type Version struct {
	ProductID uint32 `json:"productId"`
	Product   string `json:"product"`
	Firmware  string `json:"firmware,omitempty"`
}
