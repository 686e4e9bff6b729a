// Package alignment registers the compared photograph onto the origin
// photograph's frame: a seeded RANSAC homography over matched keypoints,
// followed by a perspective warp and a footprint mask of valid pixels.
package alignment

import (
	"context"
	"fmt"

	"patina/internal/features"
	"patina/pkg/geometry"

	"gocv.io/x/gocv"
)

// Options configures the alignment process.
type Options struct {
	Iterations int     // RANSAC trial cap
	Threshold  float64 // inlier reprojection error in origin pixels
	Seed       uint64
}

// DefaultOptions returns default alignment options.
func DefaultOptions() Options {
	return Options{
		Iterations: DefaultIterations,
		Threshold:  DefaultThreshold,
		Seed:       0x5EED,
	}
}

// Result holds a successful registration. Aligned and Footprint are owned
// by the Result; release them with Close.
type Result struct {
	H         geometry.Homography // compared -> origin
	Inliers   []features.Match
	MeanError float64
	Trials    int
	Coverage  float64 // fraction of the origin frame covered by the warped compared frame

	Aligned   gocv.Mat // compared image in origin coordinates
	Footprint gocv.Mat // 255 where Aligned has real pixels
}

// Close releases the image buffers. It is safe on a nil Result.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	r.Aligned.Close()
	return r.Footprint.Close()
}

// Align estimates the homography taking compared-image coordinates to
// origin-image coordinates from the accepted matches, and warps compared
// into the origin frame.
//
// Fewer than MinMatches matches fail with ErrInsufficientMatches before any
// solve is attempted. A numerically unusable estimate fails with
// ErrDegenerate. Nothing allocated by Align survives a failure.
func Align(ctx context.Context, origin, compared gocv.Mat, originSet, comparedSet *features.Set, matches []features.Match, opts Options) (*Result, error) {
	if origin.Empty() || compared.Empty() {
		return nil, fmt.Errorf("empty input image")
	}
	if len(matches) < MinMatches {
		return nil, fmt.Errorf("%w: %d accepted matches, need %d", ErrInsufficientMatches, len(matches), MinMatches)
	}

	originPts, comparedPts, err := features.MatchedPoints(originSet, comparedSet, matches)
	if err != nil {
		return nil, err
	}

	est, err := EstimateHomography(ctx, comparedPts, originPts, RansacOptions{
		Iterations: opts.Iterations,
		Threshold:  opts.Threshold,
		Seed:       opts.Seed,
	})
	if err != nil {
		return nil, err
	}

	if err := ValidateWarp(est.H, compared.Cols(), compared.Rows()); err != nil {
		return nil, err
	}

	coverage := FootprintCoverage(est.H, compared.Cols(), compared.Rows(), origin.Cols(), origin.Rows())
	if coverage <= 0 {
		return nil, fmt.Errorf("%w: warped frame misses the origin frame", ErrDegenerate)
	}

	inliers := make([]features.Match, len(est.Inliers))
	for i, k := range est.Inliers {
		inliers[i] = matches[k]
	}

	aligned := WarpPerspective(compared, est.H, origin.Cols(), origin.Rows())
	footprint := WarpFootprint(est.H, compared.Cols(), compared.Rows(), origin.Cols(), origin.Rows())
	if aligned.Empty() || footprint.Empty() {
		aligned.Close()
		footprint.Close()
		return nil, fmt.Errorf("%w: warp produced an empty image", ErrDegenerate)
	}

	return &Result{
		H:         est.H,
		Inliers:   inliers,
		MeanError: est.MeanError,
		Trials:    est.Trials,
		Coverage:  coverage,
		Aligned:   aligned,
		Footprint: footprint,
	}, nil
}
