package features

import (
	"errors"
	"testing"

	"patina/internal/synth"

	"gocv.io/x/gocv"
)

func detectAll(t *testing.T, d Detector, img gocv.Mat) *Set {
	t.Helper()
	noMask := gocv.NewMat()
	defer noMask.Close()

	set, err := d.Detect(img, noMask)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return set
}

func TestRatioFilter(t *testing.T) {
	knn := [][]gocv.DMatch{
		{{QueryIdx: 0, TrainIdx: 4, Distance: 10}, {QueryIdx: 0, TrainIdx: 2, Distance: 40}}, // 0.25
		{{QueryIdx: 1, TrainIdx: 3, Distance: 30}, {QueryIdx: 1, TrainIdx: 5, Distance: 40}}, // 0.75
		{{QueryIdx: 2, TrainIdx: 1, Distance: 20}, {QueryIdx: 2, TrainIdx: 0, Distance: 30}}, // 0.67
		{{QueryIdx: 3, TrainIdx: 0, Distance: 5}},                                            // single candidate
		{{QueryIdx: 4, TrainIdx: 7, Distance: 0}, {QueryIdx: 4, TrainIdx: 8, Distance: 0}},   // duplicate descriptors
	}

	got := RatioFilter(knn, 0.7)
	want := []Match{
		{OriginIdx: 0, ComparedIdx: 4, Distance: 10},
		{OriginIdx: 2, ComparedIdx: 1, Distance: 20},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d matches, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRatioFilterMonotonic(t *testing.T) {
	var knn [][]gocv.DMatch
	for i := 0; i < 50; i++ {
		best := float64(i % 17)
		second := best + float64(1+i%9)
		knn = append(knn, []gocv.DMatch{
			{QueryIdx: i, TrainIdx: i, Distance: best},
			{QueryIdx: i, TrainIdx: i + 1, Distance: second},
		})
	}

	prev := len(knn) + 1
	for _, ratio := range []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.3, 0.1} {
		n := len(RatioFilter(knn, ratio))
		if n > prev {
			t.Errorf("ratio %.1f accepted %d matches, more than the looser ratio's %d", ratio, n, prev)
		}
		prev = n
	}
}

func TestRatioFilterOrderIndependent(t *testing.T) {
	a := [][]gocv.DMatch{
		{{QueryIdx: 0, TrainIdx: 1, Distance: 5}, {QueryIdx: 0, TrainIdx: 2, Distance: 50}},
		{{QueryIdx: 1, TrainIdx: 3, Distance: 5}, {QueryIdx: 1, TrainIdx: 0, Distance: 50}},
	}
	b := [][]gocv.DMatch{a[1], a[0]}

	ga, gb := RatioFilter(a, 0.7), RatioFilter(b, 0.7)
	if len(ga) != 2 || len(gb) != 2 {
		t.Fatalf("expected two matches each, got %d and %d", len(ga), len(gb))
	}
	for i := range ga {
		if ga[i] != gb[i] {
			t.Errorf("order-dependent output at %d: %+v vs %+v", i, ga[i], gb[i])
		}
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		in      string
		want    Family
		wantErr bool
	}{
		{"", FamilyAKAZE, false},
		{"akaze", FamilyAKAZE, false},
		{"orb", FamilyORB, false},
		{"sift", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFamily(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFamily(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDetectSolidImageYieldsNoKeypoints(t *testing.T) {
	img := synth.Solid(200, 200, 128)
	defer img.Close()

	for _, fam := range []Family{FamilyAKAZE, FamilyORB} {
		t.Run(string(fam), func(t *testing.T) {
			d, err := NewDetector(fam, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer d.Close()

			set := detectAll(t, d, img)
			defer set.Close()
			if set.Len() != 0 {
				t.Errorf("expected no keypoints on a flat image, got %d", set.Len())
			}
		})
	}
}

func TestDetectSceneAndCap(t *testing.T) {
	img := synth.Scene(320, 240, 7)
	defer img.Close()

	d, err := NewDetector(FamilyAKAZE, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	full := detectAll(t, d, img)
	defer full.Close()
	if full.Len() < 20 {
		t.Fatalf("expected a textured scene to yield keypoints, got %d", full.Len())
	}
	if err := full.Validate(); err != nil {
		t.Fatal(err)
	}

	capped, err := NewDetector(FamilyAKAZE, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer capped.Close()

	set := detectAll(t, capped, img)
	defer set.Close()
	if set.Len() != 10 {
		t.Fatalf("expected 10 keypoints, got %d", set.Len())
	}
	if set.Descriptors.Rows() != 10 {
		t.Errorf("expected 10 descriptor rows, got %d", set.Descriptors.Rows())
	}
	for i := 1; i < set.Len(); i++ {
		if set.Keypoints[i].Response > set.Keypoints[i-1].Response {
			t.Errorf("keypoints not ordered by response at %d", i)
		}
	}
}

func TestMatchSelfIsNearlyComplete(t *testing.T) {
	img := synth.Scene(320, 240, 11)
	defer img.Close()

	d, _ := NewDetector(FamilyAKAZE, 0)
	defer d.Close()
	set := detectAll(t, d, img)
	defer set.Close()

	m, err := NewBruteForceMatcher(DefaultRatio)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	matches, err := m.Match(set, set)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) < set.Len()*8/10 {
		t.Errorf("self match accepted %d of %d keypoints", len(matches), set.Len())
	}
	for _, mt := range matches {
		if mt.OriginIdx != mt.ComparedIdx || mt.Distance != 0 {
			t.Errorf("self match paired %d with %d (distance %v)", mt.OriginIdx, mt.ComparedIdx, mt.Distance)
		}
	}
}

func TestMatchEmptySets(t *testing.T) {
	m, err := NewBruteForceMatcher(0.7)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	empty := &Set{Descriptors: gocv.NewMat()}
	defer empty.Close()

	matches, err := m.Match(empty, empty)
	if err != nil || len(matches) != 0 {
		t.Errorf("expected no matches and no error, got %d, %v", len(matches), err)
	}
}

func TestNewBruteForceMatcherRejectsBadRatio(t *testing.T) {
	for _, r := range []float64{0, -0.5, 1.5} {
		if m, err := NewBruteForceMatcher(r); err == nil {
			m.Close()
			t.Errorf("ratio %v accepted", r)
		}
	}
}

func TestValidateAndMatchedPoints(t *testing.T) {
	set := &Set{
		Keypoints:   []Keypoint{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Descriptors: gocv.NewMatWithSize(1, 61, gocv.MatTypeCV8U),
	}
	defer set.Close()

	if err := set.Validate(); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected ErrInvariant for 2 keypoints / 1 descriptor, got %v", err)
	}

	_, _, err := MatchedPoints(set, set, []Match{{OriginIdx: 0, ComparedIdx: 5}})
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("expected ErrInvariant for out-of-range match, got %v", err)
	}

	o, c, err := MatchedPoints(set, set, []Match{{OriginIdx: 1, ComparedIdx: 0}})
	if err != nil {
		t.Fatal(err)
	}
	if o[0].X != 3 || c[0].X != 1 {
		t.Errorf("unexpected points %v %v", o, c)
	}
}

func TestRenderKeypoints(t *testing.T) {
	img := synth.Solid(50, 50, 0)
	defer img.Close()

	out := RenderKeypoints(img, []Keypoint{{X: 25, Y: 25, Size: 10, Angle: 0}}, DefaultRenderOptions())
	defer out.Close()

	if out.Rows() != 50 || out.Cols() != 50 || out.Channels() != 3 {
		t.Fatalf("unexpected overlay shape %dx%dx%d", out.Cols(), out.Rows(), out.Channels())
	}
	// the circle outline passes 3px to the right of the centre
	if g := out.GetUCharAt(25, 28*3+1); g != 255 {
		t.Errorf("expected green marker pixel, got G=%d", g)
	}
	if g := img.GetUCharAt(25, 28*3+1); g != 0 {
		t.Error("rendering must not modify the input")
	}
	// the scale circle (radius 5) is only drawn on request
	if g := out.GetUCharAt(20, 25*3+1); g != 0 {
		t.Errorf("scale circle drawn without ShowScale, G=%d", g)
	}

	opts := DefaultRenderOptions()
	opts.ShowScale = true
	scaled := RenderKeypoints(img, []Keypoint{{X: 25, Y: 25, Size: 10, Angle: 0}}, opts)
	defer scaled.Close()
	if g := scaled.GetUCharAt(20, 25*3+1); g != 255 {
		t.Errorf("expected scale circle pixel, got G=%d", g)
	}
	// orientation line runs from the centre towards angle 0
	if g := scaled.GetUCharAt(25, 30*3+1); g != 255 {
		t.Errorf("expected orientation tip pixel, got G=%d", g)
	}
}
