package alignment

import (
	"image"
	"image/color"
	"math"

	"patina/pkg/geometry"

	"gocv.io/x/gocv"
)

// footprintErosion shrinks the warped footprint so that interpolated border
// pixels never count as image content.
const footprintErosion = 2

// homographyMat builds a 3x3 CV_64F matrix from h. The caller closes it.
func homographyMat(h geometry.Homography) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}
	return m
}

// WarpPerspective resamples src through h into a width x height frame.
// Pixels with no source are black.
func WarpPerspective(src gocv.Mat, h geometry.Homography, width, height int) gocv.Mat {
	m := homographyMat(h)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(src, &dst, m, image.Pt(width, height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst
}

// WarpFootprint returns an 8-bit mask in the width x height frame that is 255
// where a srcW x srcH image warped through h has real pixels.
func WarpFootprint(h geometry.Homography, srcW, srcH, width, height int) gocv.Mat {
	full := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), srcH, srcW, gocv.MatTypeCV8U)
	defer full.Close()

	m := homographyMat(h)
	defer m.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(full, &warped, m, image.Pt(width, height),
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})

	kernel := gocv.GetStructuringElement(gocv.MorphRect,
		image.Pt(2*footprintErosion+1, 2*footprintErosion+1))
	defer kernel.Close()

	mask := gocv.NewMat()
	gocv.Erode(warped, &mask, kernel)
	return mask
}

// FootprintCoverage returns the fraction of the width x height frame covered
// by a srcW x srcH frame warped through h, computed on the polygons.
func FootprintCoverage(h geometry.Homography, srcW, srcH, width, height int) float64 {
	frame := geometry.NewRect(0, 0, float64(width), float64(height)).Corners()
	src := geometry.NewRect(0, 0, float64(srcW), float64(srcH)).Corners()

	warped := make([]geometry.Point2D, 0, len(src))
	for _, p := range src {
		q, ok := h.Apply(p)
		if !ok {
			return 0
		}
		warped = append(warped, q)
	}

	overlap := geometry.IntersectPolygons(warped, frame)
	if len(overlap) < 3 {
		return 0
	}
	return math.Min(1, math.Abs(geometry.PolygonArea(overlap))/float64(width*height))
}

// CreateOverlay blends origin and aligned images, origin weighted by opacity.
func CreateOverlay(origin, aligned gocv.Mat, opacity float64) gocv.Mat {
	if origin.Empty() || aligned.Empty() {
		return gocv.NewMat()
	}

	dst := gocv.NewMat()
	gocv.AddWeighted(origin, opacity, aligned, 1.0-opacity, 0, &dst)
	return dst
}

// DrawZone outlines a pixel-space rectangle on img in place.
func DrawZone(img *gocv.Mat, zone geometry.Rect, col color.RGBA) {
	r := image.Rect(
		int(math.Floor(zone.X)), int(math.Floor(zone.Y)),
		int(math.Ceil(zone.X+zone.Width)), int(math.Ceil(zone.Y+zone.Height)),
	)
	gocv.Rectangle(img, r, col, 2)
}
