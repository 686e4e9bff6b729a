package alignment

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"patina/pkg/geometry"
)

// DefaultIterations caps the number of RANSAC trials.
const DefaultIterations = 2000

// DefaultThreshold is the inlier reprojection error in pixels.
const DefaultThreshold = 3.0

// confidence at which the adaptive trial count stops sampling.
const ransacConfidence = 0.995

// RansacOptions controls the consensus search.
type RansacOptions struct {
	Iterations int     // upper bound on trials
	Threshold  float64 // inlier reprojection error, pixels
	Seed       uint64
}

// Estimate is the outcome of a successful consensus search.
type Estimate struct {
	H         geometry.Homography // maps src points onto dst points
	Inliers   []int               // indices into the input correspondences, ascending
	MeanError float64             // mean reprojection error over the inliers
	Trials    int
}

// EstimateHomography finds the homography mapping src onto dst supported by
// the most correspondences. The search is driven by a random source seeded
// from opts.Seed, so equal inputs give equal estimates.
//
// The context is checked every few hundred trials.
func EstimateHomography(ctx context.Context, src, dst []geometry.Point2D, opts RansacOptions) (*Estimate, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < MinMatches {
		return nil, fmt.Errorf("%w: %d matches, need %d", ErrInsufficientMatches, n, MinMatches)
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	rng := rand.New(rand.NewSource(int64(opts.Seed)))
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sampleSrc := make([]geometry.Point2D, MinMatches)
	sampleDst := make([]geometry.Point2D, MinMatches)

	var (
		best      []int
		bestErr   = math.Inf(1)
		bestH     geometry.Homography
		maxTrials = opts.Iterations
		trials    int
	)

	for trials = 0; trials < maxTrials; trials++ {
		if trials%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// Partial Fisher-Yates: the first four slots become the sample.
		for i := 0; i < MinMatches; i++ {
			j := i + rng.Intn(n-i)
			idx[i], idx[j] = idx[j], idx[i]
			sampleSrc[i] = src[idx[i]]
			sampleDst[i] = dst[idx[i]]
		}
		if sampleDegenerate(sampleSrc) || sampleDegenerate(sampleDst) {
			continue
		}

		h, err := SolveHomography(sampleSrc, sampleDst)
		if err != nil {
			continue
		}

		inliers, sumErr := scoreInliers(h, src, dst, opts.Threshold)
		if len(inliers) > len(best) || (len(inliers) == len(best) && len(inliers) > 0 && sumErr < bestErr) {
			best, bestErr, bestH = inliers, sumErr, h
			maxTrials = adaptiveTrials(len(best), n, opts.Iterations)
		}
	}

	if len(best) < MinMatches {
		return nil, fmt.Errorf("%w: no sample produced %d inliers", ErrDegenerate, MinMatches)
	}

	// Refit on every inlier; keep the refit only if it does not lose support.
	inSrc := make([]geometry.Point2D, len(best))
	inDst := make([]geometry.Point2D, len(best))
	for i, k := range best {
		inSrc[i] = src[k]
		inDst[i] = dst[k]
	}
	if refit, err := SolveHomography(inSrc, inDst); err == nil {
		inliers, sumErr := scoreInliers(refit, src, dst, opts.Threshold)
		if len(inliers) >= len(best) {
			best, bestErr, bestH = inliers, sumErr, refit
		}
	}

	return &Estimate{
		H:         bestH,
		Inliers:   best,
		MeanError: bestErr / float64(len(best)),
		Trials:    trials,
	}, nil
}

// scoreInliers returns the indices whose forward reprojection error is below
// threshold, and the summed error over them.
func scoreInliers(h geometry.Homography, src, dst []geometry.Point2D, threshold float64) ([]int, float64) {
	var inliers []int
	var sum float64
	for i := range src {
		p, ok := h.Apply(src[i])
		if !ok {
			continue
		}
		d := p.Distance(dst[i])
		if d < threshold {
			inliers = append(inliers, i)
			sum += d
		}
	}
	return inliers, sum
}

// adaptiveTrials is the number of trials needed to draw one all-inlier
// sample with ransacConfidence, given the current inlier ratio.
func adaptiveTrials(inliers, total, limit int) int {
	w := float64(inliers) / float64(total)
	pAllIn := math.Pow(w, MinMatches)
	if pAllIn >= 1 {
		return min(limit, 1)
	}
	if pAllIn <= 0 {
		return limit
	}
	k := math.Log(1-ransacConfidence) / math.Log(1-pAllIn)
	if math.IsNaN(k) || k > float64(limit) {
		return limit
	}
	return max(int(math.Ceil(k)), 1)
}
