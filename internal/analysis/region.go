package analysis

import (
	"fmt"
	"math"

	"patina/pkg/colorutil"
	"patina/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// MatchedZone returns the pixel-space bounding box of pts clipped to a
// width x height frame, and the same box normalized to [0,1]. It returns
// nil when the box has no area.
func MatchedZone(pts []geometry.Point2D, width, height int) (pixel, normalized *geometry.Rect) {
	if len(pts) == 0 || width <= 0 || height <= 0 {
		return nil, nil
	}
	box := geometry.BoundingBox(pts).Clip(float64(width), float64(height))
	if box.Empty() {
		return nil, nil
	}
	norm := box.Normalize(float64(width), float64(height))
	return &box, &norm
}

// ColorDifference averages the CIEDE2000 difference between origin and
// aligned over pixels sampled every step pixels inside zone, skipping
// pixels outside footprint. It returns the mean and the number of samples;
// zero samples means nothing was comparable.
func ColorDifference(origin, aligned, footprint gocv.Mat, zone geometry.Rect, step int) (float64, int, error) {
	if origin.Rows() != aligned.Rows() || origin.Cols() != aligned.Cols() {
		return 0, 0, fmt.Errorf("%w: origin %dx%d vs aligned %dx%d", ErrInvariant,
			origin.Cols(), origin.Rows(), aligned.Cols(), aligned.Rows())
	}
	if origin.Channels() != 3 || aligned.Channels() != 3 {
		return 0, 0, fmt.Errorf("%w: colour sampling needs 3-channel images", ErrInvariant)
	}
	if step <= 0 {
		step = 1
	}
	hasMask := !footprint.Empty()

	x0 := int(math.Ceil(zone.X))
	y0 := int(math.Ceil(zone.Y))
	x1 := min(int(math.Floor(zone.X+zone.Width)), origin.Cols()-1)
	y1 := min(int(math.Floor(zone.Y+zone.Height)), origin.Rows()-1)

	var deltas []float64
	for y := max(y0, 0); y <= y1; y += step {
		for x := max(x0, 0); x <= x1; x += step {
			if hasMask && footprint.GetUCharAt(y, x) == 0 {
				continue
			}
			o := origin.GetVecbAt(y, x)
			a := aligned.GetVecbAt(y, x)
			deltas = append(deltas, colorutil.DeltaE2000(
				colorutil.FromBGR(o[0], o[1], o[2]),
				colorutil.FromBGR(a[0], a[1], a[2]),
			))
		}
	}
	if len(deltas) == 0 {
		return 0, 0, nil
	}
	return math.Max(0, stat.Mean(deltas, nil)), len(deltas), nil
}
