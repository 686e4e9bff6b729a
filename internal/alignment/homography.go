package alignment

import (
	"errors"
	"fmt"
	"math"

	"patina/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientMatches means fewer than MinMatches correspondences
	// were available. No transform is attempted in that case.
	ErrInsufficientMatches = errors.New("alignment: insufficient matches")

	// ErrDegenerate means the correspondences could not support a usable
	// homography (collinear samples, singular solve, implausible warp).
	ErrDegenerate = errors.New("alignment: degenerate configuration")
)

// MinMatches is the number of correspondences a homography needs.
const MinMatches = 4

// Plausible range for the linear scale of a warp, compared to the origin frame.
const (
	minScale = 0.1
	maxScale = 10.0
)

// SolveHomography fits a homography mapping src onto dst by the normalized
// direct linear transform. With exactly four points the fit is exact; with
// more it minimizes algebraic error.
func SolveHomography(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n != len(dst) {
		return geometry.Homography{}, fmt.Errorf("point count mismatch: %d vs %d", n, len(dst))
	}
	if n < MinMatches {
		return geometry.Homography{}, fmt.Errorf("%w: need %d points, got %d", ErrInsufficientMatches, MinMatches, n)
	}

	srcT, srcN, ok := normalizePoints(src)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("%w: source points coincide", ErrDegenerate)
	}
	dstT, dstN, ok := normalizePoints(dst)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("%w: destination points coincide", ErrDegenerate)
	}

	// Each correspondence contributes two rows of A·h = 0.
	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		A.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return geometry.Homography{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerate)
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn geometry.Homography
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8)
	}

	dstInv, ok := dstT.Inverse()
	if !ok {
		return geometry.Homography{}, fmt.Errorf("%w: singular normalization", ErrDegenerate)
	}
	h := dstInv.Compose(hn).Compose(srcT)
	if math.Abs(h[8]) < 1e-12 || !h.IsFinite() {
		return geometry.Homography{}, fmt.Errorf("%w: solution at infinity", ErrDegenerate)
	}
	h = h.Normalized()
	if !h.IsFinite() {
		return geometry.Homography{}, fmt.Errorf("%w: non-finite solution", ErrDegenerate)
	}
	return h, nil
}

// normalizePoints translates the centroid to the origin and scales the mean
// distance to sqrt(2) (Hartley normalization).
func normalizePoints(pts []geometry.Point2D) (geometry.Homography, []geometry.Point2D, bool) {
	c := geometry.Centroid(pts)
	var meanDist float64
	for _, p := range pts {
		meanDist += p.Distance(c)
	}
	meanDist /= float64(len(pts))
	if meanDist < 1e-9 {
		return geometry.Homography{}, nil, false
	}

	s := math.Sqrt2 / meanDist
	t := geometry.Homography{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = geometry.Point2D{X: s * (p.X - c.X), Y: s * (p.Y - c.Y)}
	}
	return t, out, true
}

// sampleDegenerate reports whether any three of the four points are
// (nearly) collinear, which makes the minimal solve ill-posed.
func sampleDegenerate(pts []geometry.Point2D) bool {
	const minTriangleArea = 1.0 // px²
	for i := 0; i < 4; i++ {
		a, b, c := pts[(i+1)%4], pts[(i+2)%4], pts[(i+3)%4]
		if geometry.Collinear(a, b, c, minTriangleArea) {
			return true
		}
	}
	return false
}

// ValidateWarp checks that h maps a srcW x srcH frame onto a plausible
// region: every corner finite, the quadrilateral strictly convex (no fold or
// flip-through-infinity) and the area scale within bounds.
func ValidateWarp(h geometry.Homography, srcW, srcH int) error {
	if !h.IsFinite() {
		return fmt.Errorf("%w: non-finite homography", ErrDegenerate)
	}

	frame := geometry.NewRect(0, 0, float64(srcW), float64(srcH)).Corners()
	warped := make([]geometry.Point2D, len(frame))
	for i, p := range frame {
		q, ok := h.Apply(p)
		if !ok || !q.IsFinite() {
			return fmt.Errorf("%w: frame corner maps to infinity", ErrDegenerate)
		}
		warped[i] = q
	}

	if !geometry.IsStrictlyConvex(warped) {
		return fmt.Errorf("%w: warped frame is not convex", ErrDegenerate)
	}

	srcArea := float64(srcW * srcH)
	ratio := math.Abs(geometry.PolygonArea(warped)) / srcArea
	if ratio < minScale*minScale || ratio > maxScale*maxScale {
		return fmt.Errorf("%w: warp scales area by %.4f", ErrDegenerate, ratio)
	}

	// The same orientation as the source frame means no mirror image.
	if (geometry.PolygonArea(warped) > 0) != (geometry.PolygonArea(frame) > 0) {
		return fmt.Errorf("%w: warp mirrors the frame", ErrDegenerate)
	}
	return nil
}
