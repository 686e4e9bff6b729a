// Package synth renders deterministic test photographs: textured scenes,
// noise, flat fills and geometric variants of them.
package synth

import (
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"
)

// Scene draws a cluttered scene of filled rectangles, circles and lines on
// a mid-grey background. The same seed always gives the same pixels.
func Scene(width, height int, seed int64) gocv.Mat {
	rng := rand.New(rand.NewSource(seed))
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(110, 110, 110, 0), height, width, gocv.MatTypeCV8UC3)

	randColor := func() color.RGBA {
		return color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
	}
	randPt := func() image.Point {
		return image.Pt(rng.Intn(width), rng.Intn(height))
	}

	shapes := width * height / 900
	for i := 0; i < shapes; i++ {
		switch rng.Intn(3) {
		case 0:
			p := randPt()
			w, h := 6+rng.Intn(width/6+1), 6+rng.Intn(height/6+1)
			gocv.Rectangle(&img, image.Rect(p.X, p.Y, p.X+w, p.Y+h), randColor(), -1)
		case 1:
			gocv.Circle(&img, randPt(), 4+rng.Intn(min(width, height)/10+1), randColor(), -1)
		default:
			gocv.Line(&img, randPt(), randPt(), randColor(), 1+rng.Intn(3))
		}
	}
	return img
}

// Noise fills an image with uniform random BGR values.
func Noise(width, height int, seed int64) gocv.Mat {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, width*height*3)
	rng.Read(buf)

	view, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat()
	}
	defer view.Close()
	return view.Clone()
}

// Solid returns a flat grey image.
func Solid(width, height int, level uint8) gocv.Mat {
	v := float64(level)
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), height, width, gocv.MatTypeCV8UC3)
}

// RotateScale rotates src by angleDeg (counter-clockwise) and scales it by
// scale about its centre, keeping the original size. Uncovered pixels are black.
func RotateScale(src gocv.Mat, angleDeg, scale float64) gocv.Mat {
	center := image.Pt(src.Cols()/2, src.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, angleDeg, scale)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(src.Cols(), src.Rows()),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst
}

// Shade adds delta to every channel of src, saturating at 0 and 255.
func Shade(src gocv.Mat, delta float64) gocv.Mat {
	dst := gocv.NewMat()
	src.ConvertToWithParams(&dst, src.Type(), 1, float32(delta))
	return dst
}
