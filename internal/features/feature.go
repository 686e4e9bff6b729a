// Package features detects keypoints with binary descriptors and pairs them
// across two images. Detection and matching sit behind the Detector and
// Matcher interfaces so the alignment and scoring stages never depend on a
// particular feature family.
package features

import (
	"errors"
	"fmt"

	"patina/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrInvariant marks an internal inconsistency between keypoints,
// descriptors and matches. It indicates a bug and is never recovered.
var ErrInvariant = errors.New("features: invariant violation")

// Keypoint is a detected interest point.
type Keypoint struct {
	X, Y     float64 // Sub-pixel location
	Size     float64 // Diameter of the meaningful neighbourhood
	Angle    float64 // Orientation in degrees, -1 if not applicable
	Response float64 // Detector response strength
	Octave   int
}

// Point returns the keypoint location.
func (k Keypoint) Point() geometry.Point2D {
	return geometry.Point2D{X: k.X, Y: k.Y}
}

// Set is the keypoints of one image with their descriptors, one descriptor
// row per keypoint. The Set owns Descriptors; release it with Close.
type Set struct {
	Keypoints   []Keypoint
	Descriptors gocv.Mat
}

// Len returns the number of keypoints.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Keypoints)
}

// Points returns the keypoint locations.
func (s *Set) Points() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(s.Keypoints))
	for i, k := range s.Keypoints {
		pts[i] = k.Point()
	}
	return pts
}

// Validate checks that there is exactly one descriptor row per keypoint.
func (s *Set) Validate() error {
	rows := 0
	if !s.Descriptors.Empty() {
		rows = s.Descriptors.Rows()
	}
	if rows != len(s.Keypoints) {
		return fmt.Errorf("%w: %d keypoints but %d descriptors", ErrInvariant, len(s.Keypoints), rows)
	}
	return nil
}

// Close releases the descriptor buffer. It is safe on a nil Set.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	return s.Descriptors.Close()
}

// Match pairs a keypoint of the origin image with one of the compared image.
type Match struct {
	OriginIdx   int
	ComparedIdx int
	Distance    float64
}

// Detector finds keypoints and descriptors in an image. A non-empty mask
// (8-bit, same size as img) restricts detection to its non-zero pixels.
type Detector interface {
	Detect(img gocv.Mat, mask gocv.Mat) (*Set, error)
	Name() string
	Close() error
}

// Matcher pairs descriptors of the origin set with the compared set.
type Matcher interface {
	Match(origin, compared *Set) ([]Match, error)
	Close() error
}

// MatchedPoints resolves matches into parallel origin and compared point
// slices. It fails with ErrInvariant if a match references a missing keypoint.
func MatchedPoints(origin, compared *Set, matches []Match) ([]geometry.Point2D, []geometry.Point2D, error) {
	originPts := make([]geometry.Point2D, len(matches))
	comparedPts := make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		if m.OriginIdx < 0 || m.OriginIdx >= origin.Len() ||
			m.ComparedIdx < 0 || m.ComparedIdx >= compared.Len() {
			return nil, nil, fmt.Errorf("%w: match %d references (%d,%d) of (%d,%d) keypoints",
				ErrInvariant, i, m.OriginIdx, m.ComparedIdx, origin.Len(), compared.Len())
		}
		originPts[i] = origin.Keypoints[m.OriginIdx].Point()
		comparedPts[i] = compared.Keypoints[m.ComparedIdx].Point()
	}
	return originPts, comparedPts, nil
}
