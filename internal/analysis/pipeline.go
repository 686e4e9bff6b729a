// Package analysis compares two photographs of the same subject: it aligns
// them, scores how much matchable structure survived, and measures the
// perceptual colour shift over the region both images share.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"patina/internal/alignment"
	"patina/internal/features"
	"patina/internal/image"
	"patina/pkg/colorutil"
	"patina/pkg/geometry"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Compare runs the comparison pipeline on origin and compared.
//
// Too few matches or an unusable homography do not produce an error: the
// result is returned in StateAlignmentFailed with a degradation score of 1.
// Errors are returned for invalid options, invariant violations and
// cancellation, and no result accompanies them.
func Compare(ctx context.Context, origin, compared *image.Raster, opts Options) (*Result, error) {
	if origin == nil || compared == nil {
		return nil, fmt.Errorf("compare: nil raster")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	det := opts.FeatureDetector
	if det == nil {
		d, err := features.NewDetector(features.Family(opts.Detector), opts.MaxKeypoints)
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		defer d.Close()
		det = d
	}

	matcher := opts.FeatureMatcher
	if matcher == nil {
		m, err := features.NewBruteForceMatcher(opts.RatioTestThreshold)
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		defer m.Close()
		matcher = m
	}

	r := &run{
		opts:     opts,
		log:      opts.logger(),
		det:      det,
		matcher:  matcher,
		origin:   origin.Mat(),
		compared: compared.Mat(),
		res:      &Result{State: StatePending, Transitions: []State{StatePending}},
	}
	start := time.Now()
	if err := r.execute(ctx); err != nil {
		r.log.Debug("comparison aborted", zap.String("state", string(r.res.State)), zap.Error(err))
		return nil, err
	}

	r.log.Info("comparison finished",
		zap.String("state", string(r.res.State)),
		zap.Float64("degradation", r.res.DegradationScore),
		zap.Float64("color_difference", r.res.ColorDifference),
		zap.Int("accepted_matches", r.res.Stats.AcceptedMatches),
		zap.Int("inliers", r.res.Stats.Inliers),
		zap.Duration("elapsed", time.Since(start)))
	return r.res, nil
}

// run holds the working state of one invocation.
type run struct {
	opts     Options
	log      *zap.Logger
	det      features.Detector
	matcher  features.Matcher
	origin   gocv.Mat
	compared gocv.Mat
	res      *Result
}

func (r *run) advance(to State) error {
	if !CanTransition(r.res.State, to) {
		return &InvariantError{Stage: r.res.State, Err: fmt.Errorf("illegal transition to %s", to)}
	}
	r.log.Debug("state", zap.String("from", string(r.res.State)), zap.String("to", string(to)))
	r.res.State = to
	r.res.Transitions = append(r.res.Transitions, to)
	return nil
}

// stageErr classifies an error raised inside a stage.
func (r *run) stageErr(err error) error {
	if errors.Is(err, features.ErrInvariant) || errors.Is(err, ErrInvariant) {
		return &InvariantError{Stage: r.res.State, Err: err}
	}
	return err
}

func (r *run) execute(ctx context.Context) error {
	if err := r.advance(StateAligning); err != nil {
		return err
	}

	noMask := gocv.NewMat()
	defer noMask.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	oSet, err := r.det.Detect(r.origin, noMask)
	if err != nil {
		return r.stageErr(fmt.Errorf("detect origin: %w", err))
	}
	defer oSet.Close()
	if err := oSet.Validate(); err != nil {
		return r.stageErr(fmt.Errorf("detect origin: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	cSet, err := r.det.Detect(r.compared, noMask)
	if err != nil {
		return r.stageErr(fmt.Errorf("detect compared: %w", err))
	}
	defer cSet.Close()
	if err := cSet.Validate(); err != nil {
		return r.stageErr(fmt.Errorf("detect compared: %w", err))
	}
	r.res.Stats.OriginKeypoints = oSet.Len()
	r.res.Stats.ComparedKeypoints = cSet.Len()

	if err := ctx.Err(); err != nil {
		return err
	}
	matches, err := r.matcher.Match(oSet, cSet)
	if err != nil {
		return r.stageErr(fmt.Errorf("match: %w", err))
	}
	r.res.Stats.AcceptedMatches = len(matches)
	r.log.Debug("features matched",
		zap.String("detector", r.det.Name()),
		zap.Int("origin_keypoints", oSet.Len()),
		zap.Int("compared_keypoints", cSet.Len()),
		zap.Int("accepted", len(matches)))

	if r.opts.Diagnostics {
		if err := r.renderKeypoints(oSet, cSet); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	aligned, err := alignment.Align(ctx, r.origin, r.compared, oSet, cSet, matches, r.opts.alignment())
	switch {
	case errors.Is(err, alignment.ErrInsufficientMatches), errors.Is(err, alignment.ErrDegenerate):
		return r.fail(err)
	case err != nil:
		return r.stageErr(fmt.Errorf("align: %w", err))
	}
	defer aligned.Close()

	if err := r.advance(StateAligned); err != nil {
		return err
	}
	h := aligned.H
	r.res.Homography = &h
	r.res.Stats.Inliers = len(aligned.Inliers)
	r.res.Stats.RansacTrials = aligned.Trials
	r.res.Stats.MeanReprojectionError = aligned.MeanError
	r.res.Stats.FootprintCoverage = aligned.Coverage

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.advance(StateScoring); err != nil {
		return err
	}

	inlierPts, _, err := features.MatchedPoints(oSet, cSet, aligned.Inliers)
	if err != nil {
		return r.stageErr(err)
	}
	zonePx, zone := MatchedZone(inlierPts, r.origin.Cols(), r.origin.Rows())
	r.res.MatchedZone = zone

	deg, err := scoreDegradation(r.det, r.origin, aligned.Aligned, aligned.Footprint, r.opts.RansacReprojectionPx)
	if err != nil {
		return r.stageErr(err)
	}
	r.res.DegradationScore = deg.score
	r.res.Stats.OriginFootprintKeypoints = deg.originKps
	r.res.Stats.AlignedKeypoints = deg.alignedKps
	r.res.Stats.ConsistentMatches = deg.consistent

	if zonePx != nil {
		mean, n, err := ColorDifference(r.origin, aligned.Aligned, aligned.Footprint, *zonePx, r.opts.sampleStep())
		if err != nil {
			return r.stageErr(err)
		}
		r.res.Stats.ColorSamples = n
		if n > 0 {
			r.res.ColorDifference = mean
			r.res.ColorComputed = true
		}
	}

	if r.opts.Diagnostics {
		if err := r.renderOverlay(aligned.Aligned, zonePx); err != nil {
			return err
		}
	}

	return r.advance(StateCompleted)
}

// fail moves to the terminal alignment-failed state with the fixed
// low-confidence values.
func (r *run) fail(cause error) error {
	if err := r.advance(StateAlignmentFailed); err != nil {
		return err
	}
	r.res.MatchedZone = nil
	r.res.Homography = nil
	r.res.DegradationScore = 1
	r.res.ColorDifference = 0
	r.res.ColorComputed = false
	r.res.FailureReason = cause.Error()
	r.log.Debug("alignment failed", zap.Error(cause))
	return nil
}

func (r *run) renderKeypoints(oSet, cSet *features.Set) error {
	ro := features.DefaultRenderOptions()
	ro.ShowScale = true
	for _, side := range []struct {
		img gocv.Mat
		set *features.Set
		out *[]byte
	}{
		{r.origin, oSet, &r.res.Diagnostics.OriginKeypoints},
		{r.compared, cSet, &r.res.Diagnostics.ComparedKeypoints},
	} {
		overlay := features.RenderKeypoints(side.img, side.set.Keypoints, ro)
		png, err := image.EncodePNG(overlay)
		overlay.Close()
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		*side.out = png
	}
	return nil
}

func (r *run) renderOverlay(aligned gocv.Mat, zone *geometry.Rect) error {
	overlay := alignment.CreateOverlay(r.origin, aligned, 0.5)
	defer overlay.Close()
	if zone != nil {
		alignment.DrawZone(&overlay, *zone, colorutil.Magenta)
	}
	png, err := image.EncodePNG(overlay)
	if err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	r.res.Diagnostics.AlignedOverlay = png
	return nil
}
