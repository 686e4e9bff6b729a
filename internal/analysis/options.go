package analysis

import (
	"fmt"

	"patina/internal/alignment"
	"patina/internal/features"

	"go.uber.org/zap"
)

// DefaultSeed seeds the consensus search when no seed is given.
const DefaultSeed uint64 = 0x5EED

// Options tunes a comparison.
type Options struct {
	RatioTestThreshold   float64 // nearest-neighbour ratio test, in (0,1]
	RansacReprojectionPx float64 // inlier threshold in origin pixels
	RansacIterations     int     // trial cap for the consensus search
	MaxKeypoints         int     // 0 keeps every keypoint
	RandomSeed           uint64
	Detector             string // "akaze" or "orb"
	ColorSampleStep      int    // grid step in pixels for colour sampling
	Diagnostics          bool   // render PNG overlays into the result

	// FeatureDetector and FeatureMatcher replace the built-in detector and
	// brute-force matcher when set. Detector, MaxKeypoints and
	// RatioTestThreshold then no longer apply to that stage. The caller
	// keeps ownership and closes them.
	FeatureDetector features.Detector
	FeatureMatcher  features.Matcher

	Logger *zap.Logger
}

// DefaultOptions returns the baseline tuning.
func DefaultOptions() Options {
	return Options{
		RatioTestThreshold:   features.DefaultRatio,
		RansacReprojectionPx: alignment.DefaultThreshold,
		RansacIterations:     alignment.DefaultIterations,
		RandomSeed:           DefaultSeed,
		Detector:             string(features.FamilyAKAZE),
		ColorSampleStep:      4,
	}
}

// Validate rejects option values the pipeline cannot run with.
func (o Options) Validate() error {
	if !(o.RatioTestThreshold > 0 && o.RatioTestThreshold <= 1) {
		return fmt.Errorf("ratio test threshold must be in (0,1], got %v", o.RatioTestThreshold)
	}
	if !(o.RansacReprojectionPx > 0) {
		return fmt.Errorf("reprojection threshold must be positive, got %v", o.RansacReprojectionPx)
	}
	if o.RansacIterations < 0 {
		return fmt.Errorf("ransac iterations must not be negative, got %d", o.RansacIterations)
	}
	if o.MaxKeypoints < 0 {
		return fmt.Errorf("max keypoints must not be negative, got %d", o.MaxKeypoints)
	}
	if o.ColorSampleStep < 0 {
		return fmt.Errorf("color sample step must not be negative, got %d", o.ColorSampleStep)
	}
	if _, err := features.ParseFamily(o.Detector); err != nil {
		return err
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) sampleStep() int {
	if o.ColorSampleStep <= 0 {
		return 4
	}
	return o.ColorSampleStep
}

func (o Options) alignment() alignment.Options {
	return alignment.Options{
		Iterations: o.RansacIterations,
		Threshold:  o.RansacReprojectionPx,
		Seed:       o.RandomSeed,
	}
}
