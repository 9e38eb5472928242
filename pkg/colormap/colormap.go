// Package colormap provides category palettes and color-string parsing.
package colormap

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Hidden is the reserved sentinel color. Categories painted with it are drawn
// transparent and never reported by mouseover lookups.
const Hidden = "#ffffff"

// Epilogos is the default 15-state human epilogos palette.
var Epilogos = []string{
	"#FF0000",
	"#FF4500",
	"#32CD32",
	"#008000",
	"#006400",
	"#C2E105",
	"#FFFF00",
	"#66CDAA",
	"#8A91D0",
	"#CD5C5C",
	"#E9967A",
	"#BDB76B",
	"#808080",
	"#C0C0C0",
	"#FFFFFF",
}

// Categorical has 20 distinct colors for tilesets with more states.
var Categorical = []string{
	"#1f77b4", // Blue
	"#ff7f0e", // Orange
	"#2ca02c", // Green
	"#d62728", // Red
	"#9467bd", // Purple
	"#8c564b", // Brown
	"#e377c2", // Pink
	"#7f7f7f", // Gray
	"#bcbd22", // Olive
	"#17becf", // Cyan
	"#aec7e8", // Light blue
	"#ffbb78", // Light orange
	"#98df8a", // Light green
	"#ff9896", // Light red
	"#c5b0d5", // Light purple
	"#c49c94", // Light brown
	"#f7b6d2", // Light pink
	"#c7c7c7", // Light gray
	"#dbdb8d", // Light olive
	"#9edae5", // Light cyan
}

// Default returns the first built-in palette holding at least n colors.
func Default(n int) ([]string, bool) {
	for _, p := range [][]string{Epilogos, Categorical} {
		if len(p) >= n {
			return append([]string(nil), p...), true
		}
	}
	return nil, false
}

var named = map[string]color.RGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"silver":  {192, 192, 192, 255},
	"maroon":  {128, 0, 0, 255},
	"navy":    {0, 0, 128, 255},
	"teal":    {0, 128, 128, 255},
	"olive":   {128, 128, 0, 255},
	"lime":    {0, 255, 0, 255},
	"aqua":    {0, 255, 255, 255},
	"cyan":    {0, 255, 255, 255},
	"fuchsia": {255, 0, 255, 255},
	"magenta": {255, 0, 255, 255},
}

// Parse converts "#rgb", "#rrggbb" or a basic CSS color name into RGBA.
func Parse(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("unsupported color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("unsupported color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// ToHex converts a color string into its 0xRRGGBB value.
func ToHex(s string) (uint32, error) {
	c, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B), nil
}

// FromHex converts a 0xRRGGBB value into an opaque RGBA color.
func FromHex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// Format writes c as "#rrggbb".
func Format(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
