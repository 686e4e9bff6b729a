package analysis

import (
	"errors"
	"fmt"

	"patina/pkg/geometry"
)

// State is a step of the comparison state machine.
type State string

const (
	StatePending         State = "pending"
	StateAligning        State = "aligning"
	StateAlignmentFailed State = "alignment_failed"
	StateAligned         State = "aligned"
	StateScoring         State = "scoring"
	StateCompleted       State = "completed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateAlignmentFailed || s == StateCompleted
}

var transitions = map[State][]State{
	StatePending:  {StateAligning},
	StateAligning: {StateAlignmentFailed, StateAligned},
	StateAligned:  {StateScoring},
	StateScoring:  {StateCompleted},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Stats are the intermediate counts behind a result.
type Stats struct {
	OriginKeypoints   int `json:"origin_keypoints"`
	ComparedKeypoints int `json:"compared_keypoints"`
	AcceptedMatches   int `json:"accepted_matches"`
	Inliers           int `json:"inliers"`
	RansacTrials      int `json:"ransac_trials"`

	// Re-detection inside the aligned footprint.
	OriginFootprintKeypoints int `json:"origin_footprint_keypoints"`
	AlignedKeypoints         int `json:"aligned_keypoints"`
	ConsistentMatches        int `json:"consistent_matches"`

	MeanReprojectionError float64 `json:"mean_reprojection_error"`
	FootprintCoverage     float64 `json:"footprint_coverage"`
	ColorSamples          int     `json:"color_samples"`
}

// Diagnostics are PNG-encoded renderings for human inspection. They never
// influence scores.
type Diagnostics struct {
	OriginKeypoints   []byte
	ComparedKeypoints []byte
	AlignedOverlay    []byte
}

// Empty reports whether no rendering was produced.
func (d Diagnostics) Empty() bool {
	return len(d.OriginKeypoints) == 0 && len(d.ComparedKeypoints) == 0 && len(d.AlignedOverlay) == 0
}

// Result is the outcome of one comparison. It is plain data: it holds no
// OpenCV buffers and the pipeline keeps no reference to it.
type Result struct {
	State            State                `json:"state"`
	MatchedZone      *geometry.Rect       `json:"matched_zone"` // normalized to [0,1]
	DegradationScore float64              `json:"degradation_score"`
	ColorDifference  float64              `json:"color_difference"`
	ColorComputed    bool                 `json:"color_computed"`
	FailureReason    string               `json:"failure_reason,omitempty"`
	Homography       *geometry.Homography `json:"homography,omitempty"` // compared -> origin
	Stats            Stats                `json:"stats"`
	Transitions      []State              `json:"transitions"`

	Diagnostics Diagnostics `json:"-"`
}

// ErrInvariant is returned, wrapped in an InvariantError, when the pipeline
// observes an internal inconsistency.
var ErrInvariant = errors.New("analysis: internal invariant violated")

// InvariantError reports an internal inconsistency found during a stage.
// It is always fatal to the comparison.
type InvariantError struct {
	Stage State
	Err   error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated while %s: %v", e.Stage, e.Err)
}

// StageName returns the state the violation was observed in.
func (e *InvariantError) StageName() string { return string(e.Stage) }

func (e *InvariantError) Unwrap() []error {
	return []error{ErrInvariant, e.Err}
}

// IsInvariantError reports whether err is an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
