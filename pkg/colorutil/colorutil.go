// Package colorutil provides shared colour utilities: the overlay palette used
// by diagnostic renderings and perceptual colour distance.
package colorutil

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Overlay colours used by the diagnostic renderings.
var (
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// go-colorful measures distances with L in [0,1]; conventional ΔE has L in [0,100].
const deltaEScale = 100.0

// FromBGR builds a colorful.Color from 8-bit BGR channel values, the layout
// gocv uses for colour mats.
func FromBGR(b, g, r uint8) colorful.Color {
	return colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}
}

// DeltaE2000 returns the CIEDE2000 colour difference between two sRGB
// colours on the conventional scale (0 identical, ~2.3 just noticeable).
func DeltaE2000(c1, c2 colorful.Color) float64 {
	return c1.DistanceCIEDE2000(c2) * deltaEScale
}
