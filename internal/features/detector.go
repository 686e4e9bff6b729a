package features

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// Family names a keypoint/descriptor algorithm.
type Family string

const (
	FamilyAKAZE Family = "akaze"
	FamilyORB   Family = "orb"
)

// orbUnboundedFeatures stands in for "no cap" since ORB always needs one.
const orbUnboundedFeatures = 100000

// ParseFamily maps a configuration string to a Family.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyAKAZE, "":
		return FamilyAKAZE, nil
	case FamilyORB:
		return FamilyORB, nil
	default:
		return "", fmt.Errorf("unknown detector %q (want akaze or orb)", s)
	}
}

// NewDetector creates a detector of the given family. maxKeypoints > 0 keeps
// only the strongest responses.
func NewDetector(family Family, maxKeypoints int) (Detector, error) {
	if maxKeypoints < 0 {
		return nil, fmt.Errorf("max keypoints must be >= 0, got %d", maxKeypoints)
	}
	switch family {
	case FamilyAKAZE, "":
		return &akazeDetector{akaze: gocv.NewAKAZE(), maxKeypoints: maxKeypoints}, nil
	case FamilyORB:
		n := maxKeypoints
		if n == 0 {
			n = orbUnboundedFeatures
		}
		orb := gocv.NewORBWithParams(n, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		return &orbDetector{orb: orb, maxKeypoints: maxKeypoints}, nil
	default:
		return nil, fmt.Errorf("unknown detector family %q", family)
	}
}

type akazeDetector struct {
	akaze        gocv.AKAZE
	maxKeypoints int
}

func (d *akazeDetector) Name() string { return string(FamilyAKAZE) }

func (d *akazeDetector) Detect(img gocv.Mat, mask gocv.Mat) (*Set, error) {
	return detectWith(img, mask, d.maxKeypoints, d.akaze.DetectAndCompute)
}

func (d *akazeDetector) Close() error { return d.akaze.Close() }

type orbDetector struct {
	orb          gocv.ORB
	maxKeypoints int
}

func (d *orbDetector) Name() string { return string(FamilyORB) }

func (d *orbDetector) Detect(img gocv.Mat, mask gocv.Mat) (*Set, error) {
	return detectWith(img, mask, d.maxKeypoints, d.orb.DetectAndCompute)
}

func (d *orbDetector) Close() error { return d.orb.Close() }

type detectAndCompute func(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)

func detectWith(img, mask gocv.Mat, maxKeypoints int, fn detectAndCompute) (*Set, error) {
	if img.Empty() {
		return nil, fmt.Errorf("detect: empty image")
	}

	gray, err := ToGray(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	if mask.Empty() {
		mask = gocv.NewMat()
		defer mask.Close()
	}

	kps, desc := fn(gray, mask)

	set := &Set{Keypoints: make([]Keypoint, len(kps)), Descriptors: desc}
	for i, kp := range kps {
		set.Keypoints[i] = Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		}
	}

	if err := set.Validate(); err != nil {
		set.Close()
		return nil, err
	}

	if maxKeypoints > 0 && set.Len() > maxKeypoints {
		capped, err := strongest(set, maxKeypoints)
		set.Close()
		if err != nil {
			return nil, err
		}
		set = capped
	}
	return set, nil
}

// ToGray returns a single-channel intensity copy of img.
func ToGray(img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 3:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("to gray: unsupported channel count %d", img.Channels())
	}
	return gray, nil
}

// strongest returns a new Set with the n highest-response keypoints. Ties
// are broken by position so the selection never depends on detector order.
func strongest(set *Set, n int) (*Set, error) {
	order := make([]int, set.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := set.Keypoints[order[a]], set.Keypoints[order[b]]
		if ka.Response != kb.Response {
			return ka.Response > kb.Response
		}
		if ka.Y != kb.Y {
			return ka.Y < kb.Y
		}
		return ka.X < kb.X
	})
	order = order[:n]

	src := set.Descriptors.ToBytes()
	rowBytes := len(src) / set.Descriptors.Rows()
	buf := make([]byte, 0, n*rowBytes)
	kps := make([]Keypoint, n)
	for i, idx := range order {
		kps[i] = set.Keypoints[idx]
		buf = append(buf, src[idx*rowBytes:(idx+1)*rowBytes]...)
	}

	view, err := gocv.NewMatFromBytes(n, set.Descriptors.Cols(), set.Descriptors.Type(), buf)
	if err != nil {
		return nil, fmt.Errorf("cap descriptors: %w", err)
	}
	defer view.Close()

	capped := &Set{Keypoints: kps, Descriptors: view.Clone()}
	if err := capped.Validate(); err != nil {
		capped.Close()
		return nil, err
	}
	return capped, nil
}
