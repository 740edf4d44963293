package rimage

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Lab is a colour in CIE-L*a*b* space under the D65 white point. L is in [0, 1] and a, b are
// roughly in [-1, 1], so Euclidean distances are comparable to DistanceLab.
type Lab struct {
	L, A, B float64
}

// ToLab converts an 8-bit colour to Lab.
func ToLab(c color.NRGBA) Lab {
	cc := colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
	l, a, b := cc.Lab()
	return Lab{L: l, A: a, B: b}
}

// DistanceLab is the Euclidean distance between two colours in Lab space.
func DistanceLab(a, b color.NRGBA) float64 {
	ca, _ := colorful.MakeColor(opaque(a))
	cb, _ := colorful.MakeColor(opaque(b))
	return ca.DistanceLab(cb)
}

// NewColor returns an opaque colour.
func NewColor(r, g, b uint8) color.NRGBA {
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// NewColorFromHSV returns an opaque colour from hue in degrees and saturation/value in [0, 1].
func NewColorFromHSV(h, s, v float64) color.NRGBA {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return NewColor(r, g, b)
}

func opaque(c color.NRGBA) color.NRGBA {
	c.A = 255
	return c
}
