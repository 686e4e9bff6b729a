package features

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// DefaultRatio is the nearest-neighbour distance ratio used by the
// distinctiveness filter.
const DefaultRatio = 0.7

// BruteForceMatcher finds the two nearest compared descriptors for every
// origin descriptor and keeps the pair only when the best is clearly better
// than the runner-up.
type BruteForceMatcher struct {
	ratio float64
	bf    gocv.BFMatcher
}

// NewBruteForceMatcher creates a Hamming-distance matcher for binary
// descriptors. ratio must lie in (0, 1].
func NewBruteForceMatcher(ratio float64) (*BruteForceMatcher, error) {
	if !(ratio > 0 && ratio <= 1) {
		return nil, fmt.Errorf("ratio test threshold must be in (0,1], got %v", ratio)
	}
	return &BruteForceMatcher{
		ratio: ratio,
		bf:    gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}, nil
}

// Match returns accepted matches sorted by distance, then origin index, then
// compared index.
func (m *BruteForceMatcher) Match(origin, compared *Set) ([]Match, error) {
	if origin.Len() == 0 || compared.Len() == 0 {
		return nil, nil
	}
	for _, s := range []*Set{origin, compared} {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	knn := m.bf.KnnMatch(origin.Descriptors, compared.Descriptors, 2)
	matches := RatioFilter(knn, m.ratio)

	for _, mt := range matches {
		if mt.OriginIdx >= origin.Len() || mt.ComparedIdx >= compared.Len() {
			return nil, fmt.Errorf("%w: matcher returned index (%d,%d) outside (%d,%d)",
				ErrInvariant, mt.OriginIdx, mt.ComparedIdx, origin.Len(), compared.Len())
		}
	}
	return matches, nil
}

// Close releases the underlying OpenCV matcher.
func (m *BruteForceMatcher) Close() error {
	return m.bf.Close()
}

// RatioFilter applies the distinctiveness test to k-NN candidates: a query
// keeps its best candidate only when best < ratio * second best. Queries
// with fewer than two candidates are dropped. The result is sorted so that
// it never depends on candidate order.
func RatioFilter(knn [][]gocv.DMatch, ratio float64) []Match {
	var good []Match
	for _, cands := range knn {
		if len(cands) < 2 {
			continue
		}
		best, second := cands[0], cands[1]
		if best.Distance > second.Distance {
			best, second = second, best
		}
		if best.Distance < ratio*second.Distance {
			good = append(good, Match{
				OriginIdx:   best.QueryIdx,
				ComparedIdx: best.TrainIdx,
				Distance:    best.Distance,
			})
		}
	}

	sort.Slice(good, func(i, j int) bool {
		if good[i].Distance != good[j].Distance {
			return good[i].Distance < good[j].Distance
		}
		if good[i].OriginIdx != good[j].OriginIdx {
			return good[i].OriginIdx < good[j].OriginIdx
		}
		return good[i].ComparedIdx < good[j].ComparedIdx
	})
	return good
}
