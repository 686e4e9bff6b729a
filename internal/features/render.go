package features

import (
	"image"
	"image/color"
	"math"

	"patina/pkg/colorutil"

	"gocv.io/x/gocv"
)

// RenderOptions configures how keypoints are drawn.
type RenderOptions struct {
	Color     color.RGBA
	Radius    int  // Marker radius in pixels
	Thickness int  // Marker outline width
	ShowScale bool // Draw the keypoint size and orientation as well
}

// DefaultRenderOptions returns green 3px markers.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Color:     colorutil.Green,
		Radius:    3,
		Thickness: 2,
	}
}

// RenderKeypoints returns a copy of img with every keypoint marked. The
// caller owns the returned Mat.
func RenderKeypoints(img gocv.Mat, kps []Keypoint, opts RenderOptions) gocv.Mat {
	dst := img.Clone()
	if dst.Channels() == 1 {
		bgr := gocv.NewMat()
		gocv.CvtColor(dst, &bgr, gocv.ColorGrayToBGR)
		dst.Close()
		dst = bgr
	}

	for _, kp := range kps {
		center := image.Pt(int(math.Round(kp.X)), int(math.Round(kp.Y)))
		gocv.Circle(&dst, center, opts.Radius, opts.Color, opts.Thickness)

		if opts.ShowScale && kp.Size > 0 {
			r := kp.Size / 2
			gocv.Circle(&dst, center, int(math.Round(r)), opts.Color, 1)
			if kp.Angle >= 0 {
				rad := kp.Angle * math.Pi / 180
				tip := image.Pt(
					center.X+int(math.Round(r*math.Cos(rad))),
					center.Y+int(math.Round(r*math.Sin(rad))),
				)
				gocv.Line(&dst, center, tip, opts.Color, 1)
			}
		}
	}
	return dst
}
