package analysis

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"patina/internal/features"

	"gocv.io/x/gocv"
)

// Share of descriptor bits that may differ for two co-located keypoints to
// still describe the same surface.
const maxDescriptorMismatch = 0.3

// DegradationScore is 1 - consistent/min(originCount, comparedCount),
// clamped to [0,1]. No keypoints on either side means total degradation.
func DegradationScore(consistent, originCount, comparedCount int) float64 {
	n := min(originCount, comparedCount)
	if n <= 0 {
		return 1
	}
	score := 1 - float64(consistent)/float64(n)
	return math.Max(0, math.Min(1, score))
}

// degradation is the outcome of re-detecting both images inside the
// aligned footprint.
type degradation struct {
	score      float64
	originKps  int
	alignedKps int
	consistent int
}

// scoreDegradation re-detects keypoints on origin and aligned restricted to
// footprint, and counts features that survive at the same place with a
// similar descriptor.
func scoreDegradation(det features.Detector, origin, aligned, footprint gocv.Mat, radius float64) (degradation, error) {
	oSet, err := det.Detect(origin, footprint)
	if err != nil {
		return degradation{}, fmt.Errorf("re-detect origin: %w", err)
	}
	defer oSet.Close()

	aSet, err := det.Detect(aligned, footprint)
	if err != nil {
		return degradation{}, fmt.Errorf("re-detect aligned: %w", err)
	}
	defer aSet.Close()

	consistent, err := consistentMatches(oSet, aSet, radius)
	if err != nil {
		return degradation{}, err
	}
	return degradation{
		score:      DegradationScore(consistent, oSet.Len(), aSet.Len()),
		originKps:  oSet.Len(),
		alignedKps: aSet.Len(),
		consistent: consistent,
	}, nil
}

type guidedPair struct {
	origin, aligned int
	hamming         int
	dist            float64
}

// consistentMatches pairs origin and aligned keypoints one-to-one when they
// lie within radius pixels of each other and their binary descriptors differ
// in at most maxDescriptorMismatch of their bits. Pairs are taken greedily by
// descriptor distance, then spatial distance, then index.
func consistentMatches(origin, aligned *features.Set, radius float64) (int, error) {
	if origin.Len() == 0 || aligned.Len() == 0 {
		return 0, nil
	}
	for _, s := range []*features.Set{origin, aligned} {
		if err := s.Validate(); err != nil {
			return 0, err
		}
	}
	width := origin.Descriptors.Cols()
	if aligned.Descriptors.Cols() != width || origin.Descriptors.Type() != gocv.MatTypeCV8U {
		return 0, fmt.Errorf("%w: incompatible descriptor layouts", features.ErrInvariant)
	}

	oDesc := origin.Descriptors.ToBytes()
	aDesc := aligned.Descriptors.ToBytes()
	if len(oDesc) != origin.Len()*width || len(aDesc) != aligned.Len()*width {
		return 0, fmt.Errorf("%w: descriptor buffers of %d and %d bytes for rows of %d",
			features.ErrInvariant, len(oDesc), len(aDesc), width)
	}
	maxHamming := int(maxDescriptorMismatch * float64(width*8))

	// Bucket aligned keypoints on a radius-sized grid.
	cell := math.Max(radius, 1)
	type key struct{ x, y int }
	grid := make(map[key][]int)
	for i, kp := range aligned.Keypoints {
		k := key{int(math.Floor(kp.X / cell)), int(math.Floor(kp.Y / cell))}
		grid[k] = append(grid[k], i)
	}

	var pairs []guidedPair
	for i, kp := range origin.Keypoints {
		cx, cy := int(math.Floor(kp.X/cell)), int(math.Floor(kp.Y/cell))
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				for _, j := range grid[key{cx + dx, cy + dy}] {
					d := kp.Point().Distance(aligned.Keypoints[j].Point())
					if d >= radius {
						continue
					}
					h := hamming(oDesc[i*width:(i+1)*width], aDesc[j*width:(j+1)*width])
					if h > maxHamming {
						continue
					}
					pairs = append(pairs, guidedPair{origin: i, aligned: j, hamming: h, dist: d})
				}
			}
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.hamming != pb.hamming {
			return pa.hamming < pb.hamming
		}
		if pa.dist != pb.dist {
			return pa.dist < pb.dist
		}
		if pa.origin != pb.origin {
			return pa.origin < pb.origin
		}
		return pa.aligned < pb.aligned
	})

	usedO := make([]bool, origin.Len())
	usedA := make([]bool, aligned.Len())
	count := 0
	for _, p := range pairs {
		if usedO[p.origin] || usedA[p.aligned] {
			continue
		}
		usedO[p.origin], usedA[p.aligned] = true, true
		count++
	}
	return count, nil
}

func hamming(a, b []byte) int {
	n := 0
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return n
}
